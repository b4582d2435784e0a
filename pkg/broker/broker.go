package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned by Publish when there is no open connection.
var ErrNotConnected = errors.New("broker: not connected")

// State of the logical broker connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Config for the MQTT connection.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string

	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	PublishTimeout        time.Duration
}

func (c *Config) withDefaults() {
	if c.InitialReconnectDelay <= 0 {
		c.InitialReconnectDelay = DefaultInitialDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = DefaultMaxDelay
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// Subscription couples a topic filter with its message handler.
type Subscription struct {
	Topic   string
	QoS     byte
	Handler mqtt.MessageHandler
}

// Conn owns exactly one logical connection to the broker. Paho's own
// auto-reconnect is disabled; reconnection is driven here by an explicit
// state machine so the delay schedule is a pure function of the attempt
// counter (see NextDelay).
type Conn struct {
	cfg    Config
	log    *logrus.Entry
	client mqtt.Client

	mu   sync.Mutex
	subs []Subscription

	state       atomic.Int32
	onReconnect func() // optional metrics hook

	ctx context.Context
}

// Dial connects to the broker, retrying with exponential backoff before
// giving up on the initial attempt. Once connected the Conn keeps itself
// alive forever: connection loss triggers an indefinite reconnect loop.
func Dial(ctx context.Context, cfg Config, log *logrus.Entry, subs []Subscription) (*Conn, error) {
	cfg.withDefaults()
	c := &Conn{cfg: cfg, log: log, subs: subs, ctx: ctx}

	addr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
	opts := mqtt.NewClientOptions()
	opts.AddBroker(addr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	c.client = mqtt.NewClient(opts)

	c.state.Store(int32(StateConnecting))

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(func() error {
		if token := c.client.Connect(); token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).Warn("broker connect failed, retrying")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return nil, fmt.Errorf("broker: connect to %s: %w", addr, err)
	}
	log.WithField("addr", addr).Info("connected to broker")

	go func() {
		<-ctx.Done()
		c.Disconnect()
	}()
	return c, nil
}

// SetReconnectHook registers a callback invoked after every successful
// reconnection. Must be called before the first connection loss.
func (c *Conn) SetReconnectHook(fn func()) { c.onReconnect = fn }

// State returns the current connection state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Connected reports whether the underlying network connection is open.
func (c *Conn) Connected() bool { return c.client != nil && c.client.IsConnectionOpen() }

// onConnect runs on every (re)connect: resets the reconnect schedule
// implicitly (the loop exits) and re-establishes all subscriptions. A failed
// subscribe on one topic is logged and does not abort the others.
func (c *Conn) onConnect(_ mqtt.Client) {
	wasReconnecting := c.State() == StateReconnecting
	c.state.Store(int32(StateConnected))
	if wasReconnecting && c.onReconnect != nil {
		c.onReconnect()
	}

	c.mu.Lock()
	subs := make([]Subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		if token := c.client.Subscribe(s.Topic, s.QoS, s.Handler); token.Wait() && token.Error() != nil {
			c.log.WithError(token.Error()).WithField("topic", s.Topic).Error("subscribe failed")
			continue
		}
		c.log.WithField("topic", s.Topic).Info("subscribed")
	}
}

func (c *Conn) onConnectionLost(_ mqtt.Client, err error) {
	c.log.WithError(err).Warn("broker connection lost")
	c.state.Store(int32(StateReconnecting))
	go c.reconnectLoop()
}

// reconnectLoop retries forever. The delay starts at the configured initial
// value, doubles each attempt and is capped; a successful connect resets the
// schedule because the next loss starts a fresh loop at attempt zero.
func (c *Conn) reconnectLoop() {
	for attempt := 0; ; attempt++ {
		delay := NextDelay(attempt, c.cfg.InitialReconnectDelay, c.cfg.MaxReconnectDelay)
		c.log.WithFields(logrus.Fields{"attempt": attempt + 1, "delay": delay.String()}).Info("reconnecting to broker")

		select {
		case <-c.ctx.Done():
			c.state.Store(int32(StateDisconnected))
			return
		case <-time.After(delay):
		}

		token := c.client.Connect()
		if token.Wait() && token.Error() != nil {
			c.log.WithError(token.Error()).Warn("reconnect attempt failed")
			continue
		}
		// onConnect handler takes over from here.
		return
	}
}

// Publish sends payload to topic and waits up to the configured timeout for
// broker acknowledgement. Failure is surfaced to the caller, never swallowed.
func (c *Conn) Publish(topic string, qos byte, payload []byte) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		return fmt.Errorf("broker: publish to %s timed out after %s", topic, c.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: publish to %s: %w", topic, err)
	}
	return nil
}

// Disconnect closes the connection gracefully.
func (c *Conn) Disconnect() {
	c.state.Store(int32(StateDisconnected))
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.log.Info("broker connection closed")
	}
}
