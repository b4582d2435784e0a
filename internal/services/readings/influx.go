package readings

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/hydrosense/aquamon/internal/model"
)

const measurement = "water_quality"

// Store persists validated readings in InfluxDB and serves the time-ranged
// queries the dashboard layer consumes. Writes go through a circuit breaker:
// when Influx is down, handlers fail fast instead of stalling on every
// message.
type Store struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	breaker  *gobreaker.CircuitBreaker
	log      *logrus.Entry
}

func NewStore(url, token, org, bucket string, log *logrus.Entry) *Store {
	client := influxdb2.NewClient(url, token)
	return &Store{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		queryAPI: client.QueryAPI(org),
		bucket:   bucket,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "influx-write",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
					Warn("circuit breaker state change")
			},
		}),
		log: log,
	}
}

// StoreReading writes one reading point. Absent parameters are simply not
// written as fields, never as zeros.
func (s *Store) StoreReading(ctx context.Context, r *model.SensorReading) error {
	fields := map[string]interface{}{}
	for _, p := range model.Parameters {
		if v, ok := r.Value(p); ok {
			fields[string(p)] = v
		}
	}
	if len(fields) == 0 {
		// Every parameter was flagged invalid; nothing worth a point.
		return nil
	}
	tags := map[string]string{"device_id": r.DeviceID}
	point := influxdb2.NewPoint(measurement, tags, fields, r.Timestamp)

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.writeAPI.WritePoint(ctx, point)
	})
	if err != nil {
		return fmt.Errorf("write reading for %s: %w", r.DeviceID, err)
	}
	return nil
}

// QueryRange returns the readings for one device between from and to,
// oldest first.
func (s *Store) QueryRange(ctx context.Context, deviceID string, from, to time.Time) ([]model.SensorReading, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.device_id == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"])`,
		s.bucket, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), measurement, deviceID)

	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("query readings for %s: %w", deviceID, err)
	}
	defer result.Close()

	var out []model.SensorReading
	for result.Next() {
		rec := result.Record()
		r := model.SensorReading{
			DeviceID:  deviceID,
			Timestamp: rec.Time(),
		}
		if v, ok := rec.ValueByKey(string(model.ParamPH)).(float64); ok {
			r.PH = &v
		}
		if v, ok := rec.ValueByKey(string(model.ParamTDS)).(float64); ok {
			r.TDS = &v
		}
		if v, ok := rec.ValueByKey(string(model.ParamTurbidity)).(float64); ok {
			r.Turbidity = &v
		}
		out = append(out, r)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("read query result: %w", result.Err())
	}
	return out, nil
}

// Healthy reports whether Influx answered a ping recently enough for /readyz.
func (s *Store) Healthy(ctx context.Context) bool {
	ok, err := s.client.Ping(ctx)
	return err == nil && ok
}

func (s *Store) Close() {
	s.client.Close()
}
