package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFirstDeliveryIsNotSeen(t *testing.T) {
	d := New(time.Minute, 100)
	assert.False(t, d.Seen("devices/D1/data", []byte(`{"ph":7.2}`)))
}

func TestRedeliveryIsSeen(t *testing.T) {
	d := New(time.Minute, 100)
	payload := []byte(`{"ph":7.2}`)
	assert.False(t, d.Seen("devices/D1/data", payload))
	assert.True(t, d.Seen("devices/D1/data", payload))
}

func TestDifferentTopicSamePayload(t *testing.T) {
	d := New(time.Minute, 100)
	payload := []byte(`{"name":"Intake Pond"}`)
	assert.False(t, d.Seen("devices/D1/register", payload))
	assert.False(t, d.Seen("devices/D2/register", payload))
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	d := New(time.Millisecond, 100)
	payload := []byte(`{"ph":7.2}`)
	assert.False(t, d.Seen("devices/D1/data", payload))
	time.Sleep(5 * time.Millisecond)
	assert.False(t, d.Seen("devices/D1/data", payload), "expired entry counts as new")
}

func TestOldestEntryEvictedAtCapacity(t *testing.T) {
	d := New(time.Hour, 2)
	assert.False(t, d.Seen("t", []byte("a")))
	assert.False(t, d.Seen("t", []byte("b")))
	assert.False(t, d.Seen("t", []byte("c"))) // evicts "a"

	assert.False(t, d.Seen("t", []byte("a")), "evicted entry counts as new")
	assert.True(t, d.Seen("t", []byte("c")))
	assert.LessOrEqual(t, len(d.seen), 2)
}
