package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/hydrosense/aquamon/internal/metrics"
	"github.com/hydrosense/aquamon/pkg/broker"
	"github.com/hydrosense/aquamon/pkg/dedup"
)

// MessageKind is the last topic segment of a device message.
type MessageKind string

const (
	KindData     MessageKind = "data"
	KindRegister MessageKind = "register"
	KindPresence MessageKind = "presence"
	KindStatus   MessageKind = "status"
)

var errBadTopic = errors.New("topic does not match devices/{deviceId}/{kind}")

// ParseTopic extracts device identity and message kind from a topic of the
// form devices/{deviceId}/{kind}.
func ParseTopic(topic string) (string, MessageKind, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "devices" || parts[1] == "" {
		return "", "", errBadTopic
	}
	kind := MessageKind(parts[2])
	switch kind {
	case KindData, KindRegister, KindPresence, KindStatus:
		return parts[1], kind, nil
	}
	return "", "", errBadTopic
}

const handlerTimeout = 15 * time.Second

// Router maps inbound broker messages to the ingest service. Each message is
// dispatched on its own goroutine: one slow or malformed message must not
// hold up traffic from other devices, and no ordering is enforced between
// them.
type Router struct {
	svc   *Service
	dedup *dedup.Deduper
	log   *logrus.Entry
	met   *metrics.Metrics
	base  context.Context
}

func NewRouter(ctx context.Context, svc *Service, log *logrus.Entry, met *metrics.Metrics) *Router {
	return &Router{
		svc:   svc,
		dedup: dedup.New(10*time.Minute, 20000),
		log:   log,
		met:   met,
		base:  ctx,
	}
}

// Subscriptions returns the four topic filters the engine consumes. Data,
// registration and status travel at QoS 1 (redelivery of the first two is
// absorbed by the deduper, status transitions are idempotent); presence is
// a cheap periodic signal at QoS 0.
func (r *Router) Subscriptions() []broker.Subscription {
	return []broker.Subscription{
		{Topic: "devices/+/data", QoS: 1, Handler: r.Handle},
		{Topic: "devices/+/register", QoS: 1, Handler: r.Handle},
		{Topic: "devices/+/presence", QoS: 0, Handler: r.Handle},
		{Topic: "devices/+/status", QoS: 1, Handler: r.Handle},
	}
}

// Handle is the mqtt.MessageHandler for every subscribed topic. It never
// panics out into the paho client: a malformed message from one device is
// dropped with a log entry and the loop moves on.
func (r *Router) Handle(_ mqtt.Client, m mqtt.Message) {
	topic := m.Topic()
	deviceID, kind, err := ParseTopic(topic)
	if err != nil {
		r.met.MessagesDropped.WithLabelValues("bad_topic").Inc()
		r.log.WithField("topic", topic).Warn("dropping message with unroutable topic")
		return
	}
	r.met.MessagesTotal.WithLabelValues(string(kind)).Inc()

	// Only data and registration messages are deduplicated. Presence and
	// status carry constant payloads (a heartbeat body never changes, a
	// reconnect repeats {"status":"online"}), so a payload digest cannot
	// tell a redelivery from the next legitimate signal; dropping those
	// would freeze lastSeen and strand reconnected devices offline.
	if kind == KindData || kind == KindRegister {
		if r.dedup.Seen(topic, m.Payload()) {
			r.met.MessagesDropped.WithLabelValues("duplicate").Inc()
			return
		}
	}

	payload := make([]byte, len(m.Payload()))
	copy(payload, m.Payload())

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.WithFields(logrus.Fields{"topic": topic, "panic": rec}).Error("handler panic recovered")
			}
		}()
		ctx, cancel := context.WithTimeout(r.base, handlerTimeout)
		defer cancel()
		now := time.Now().UTC()

		switch kind {
		case KindData:
			r.svc.HandleData(ctx, deviceID, payload, now)
		case KindRegister:
			r.svc.HandleRegister(ctx, deviceID, payload, now)
		case KindPresence:
			r.svc.HandlePresence(ctx, deviceID, now)
		case KindStatus:
			r.svc.HandleStatus(ctx, deviceID, payload, now)
		}
	}()
}
