package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the engine reads from the environment.
type Config struct {
	Broker struct {
		Host     string
		Port     int
		User     string
		Password string
		ClientID string
	}
	Influx struct {
		URL    string
		Token  string
		Org    string
		Bucket string
	}
	Postgres struct {
		DSN string
	}
	HTTP struct {
		Port int
	}
	Log struct {
		Level string
		File  string
	}
	ThresholdsPath string
	TimingCacheTTL time.Duration
}

// Load reads .env if present, then the environment. Every knob has a
// default that works for a local docker-compose stack.
func Load() Config {
	_ = godotenv.Load()

	var cfg Config
	cfg.Broker.Host = envStr("MQTT_HOST", "localhost")
	cfg.Broker.Port = envInt("MQTT_PORT", 1883)
	cfg.Broker.User = envStr("MQTT_USER", "")
	cfg.Broker.Password = envStr("MQTT_PASSWORD", "")
	cfg.Broker.ClientID = envStr("MQTT_CLIENT_ID", envStr("HOSTNAME", "aquamon-engine"))

	cfg.Influx.URL = envStr("INFLUX_URL", "http://localhost:8086")
	cfg.Influx.Token = os.Getenv("INFLUX_TOKEN")
	cfg.Influx.Org = envStr("INFLUX_ORG", "hydrosense")
	cfg.Influx.Bucket = envStr("INFLUX_BUCKET", "readings")

	cfg.Postgres.DSN = envStr("POSTGRES_DSN", "")

	cfg.HTTP.Port = envInt("HTTP_PORT", 8080)
	cfg.Log.Level = envStr("LOG_LEVEL", "info")
	cfg.Log.File = envStr("LOG_FILE", "")

	cfg.ThresholdsPath = envStr("THRESHOLDS_PATH", "")
	cfg.TimingCacheTTL = time.Duration(envInt("TIMING_CACHE_TTL_SECONDS", 60)) * time.Second

	return cfg
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
