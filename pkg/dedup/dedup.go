// Package dedup suppresses QoS 1 redeliveries. The broker may hand over a
// data or registration message more than once; replaying one must not
// double-store a reading or re-run a registration. Liveness signals
// (presence, status) are out of scope here: their payloads repeat on
// purpose and a payload digest cannot tell deliveries apart.
package dedup

import (
	"hash/fnv"
	"sync"
	"time"
)

// Deduper remembers recently processed messages by a 64-bit digest of
// topic and payload. Entries expire after the TTL; when the capacity is
// reached the oldest entry is evicted, so memory stays bounded regardless
// of traffic.
type Deduper struct {
	mu    sync.Mutex
	ttl   time.Duration
	cap   int
	seen  map[uint64]time.Time // digest -> expiry
	order []uint64             // insertion order, oldest first
}

func New(ttl time.Duration, capacity int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if capacity <= 0 {
		capacity = 10000
	}
	return &Deduper{ttl: ttl, cap: capacity, seen: make(map[uint64]time.Time, capacity)}
}

// Seen records the message and reports whether an identical one was
// already processed within the TTL: false for the first delivery, true
// for a redelivery.
func (d *Deduper) Seen(topic string, payload []byte) bool {
	key := digest(topic, payload)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return true
	}
	d.evict(now)
	d.seen[key] = now.Add(d.ttl)
	d.order = append(d.order, key)
	return false
}

// evict drops expired entries from the front of the queue and, when the
// map is still at capacity, the oldest live one.
func (d *Deduper) evict(now time.Time) {
	for len(d.order) > 0 {
		key := d.order[0]
		exp, ok := d.seen[key]
		if ok && now.Before(exp) && len(d.seen) < d.cap {
			return
		}
		d.order = d.order[1:]
		delete(d.seen, key)
	}
}

func digest(topic string, payload []byte) uint64 {
	h := fnv.New64a()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write(payload)
	return h.Sum64()
}
