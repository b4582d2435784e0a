package ingest

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataJSON(t *testing.T, fields map[string]interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return b
}

func TestValidateReadingAccepted(t *testing.T) {
	now := time.Now().UTC()
	payload := dataJSON(t, map[string]interface{}{
		"ph": 7.2, "tds": 180.0, "turbidity": 1.1,
		"timestamp": now.Format(time.RFC3339),
	})

	r, verr := ValidateReading("dev-1", payload, now)
	require.Nil(t, verr)
	require.NotNil(t, r.PH)
	require.NotNil(t, r.TDS)
	require.NotNil(t, r.Turbidity)
	assert.Equal(t, 7.2, *r.PH)
	assert.Equal(t, 180.0, *r.TDS)
	assert.Equal(t, 1.1, *r.Turbidity)
	assert.Equal(t, "dev-1", r.DeviceID)
	assert.Equal(t, now, r.ReceivedAt)
}

func TestValidateReadingRanges(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name   string
		fields map[string]interface{}
	}{
		{"ph below 0", map[string]interface{}{"ph": -0.1, "tds": 100.0, "turbidity": 1.0}},
		{"ph above 14", map[string]interface{}{"ph": 14.5, "tds": 100.0, "turbidity": 1.0}},
		{"tds above 2000", map[string]interface{}{"ph": 7.0, "tds": 2400.0, "turbidity": 1.0}},
		{"turbidity above 1000", map[string]interface{}{"ph": 7.0, "tds": 100.0, "turbidity": 1200.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fields["timestamp"] = now.Format(time.RFC3339)
			r, verr := ValidateReading("dev-1", dataJSON(t, tc.fields), now)
			require.Nil(t, r)
			require.NotNil(t, verr)
			assert.Equal(t, ReasonOutOfRange, verr.Reason)
		})
	}
}

func TestValidateReadingMissingField(t *testing.T) {
	now := time.Now().UTC()
	payload := dataJSON(t, map[string]interface{}{
		"ph": 7.0, "tds": 100.0,
		"timestamp": now.Format(time.RFC3339),
	})
	r, verr := ValidateReading("dev-1", payload, now)
	require.Nil(t, r)
	require.NotNil(t, verr)
	assert.Equal(t, ReasonMissingField, verr.Reason)
}

func TestValidateReadingNonNumericField(t *testing.T) {
	now := time.Now().UTC()
	payload := []byte(fmt.Sprintf(`{"ph":"acid","tds":100,"turbidity":1,"timestamp":%q}`, now.Format(time.RFC3339)))
	r, verr := ValidateReading("dev-1", payload, now)
	require.Nil(t, r)
	require.NotNil(t, verr)
	assert.Equal(t, ReasonDecode, verr.Reason)
}

func TestValidateReadingTimestamps(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name string
		ts   time.Time
		ok   bool
	}{
		{"pre-2020 clock", time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC), false},
		{"just before floor", time.Date(2019, 12, 31, 23, 59, 59, 0, time.UTC), false},
		{"far future", now.Add(2 * time.Hour), false},
		{"slight clock drift", now.Add(30 * time.Minute), true},
		{"current", now, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := dataJSON(t, map[string]interface{}{
				"ph": 7.0, "tds": 100.0, "turbidity": 1.0,
				"timestamp": tc.ts.Format(time.RFC3339),
			})
			r, verr := ValidateReading("dev-1", payload, now)
			if tc.ok {
				require.Nil(t, verr)
				require.NotNil(t, r)
			} else {
				require.Nil(t, r)
				require.NotNil(t, verr)
				assert.Equal(t, ReasonBadTimestamp, verr.Reason)
			}
		})
	}
}

func TestValidateReadingMissingTimestamp(t *testing.T) {
	now := time.Now().UTC()
	payload := dataJSON(t, map[string]interface{}{"ph": 7.0, "tds": 100.0, "turbidity": 1.0})
	r, verr := ValidateReading("dev-1", payload, now)
	require.Nil(t, r)
	require.NotNil(t, verr)
	assert.Equal(t, ReasonBadTimestamp, verr.Reason)
}

func TestValidateReadingInvalidFlagKeepsOthers(t *testing.T) {
	now := time.Now().UTC()
	payload := dataJSON(t, map[string]interface{}{
		"ph": 7.0, "tds": 100.0, "turbidity": 1200.0,
		"turbidity_valid": false,
		"timestamp":       now.Format(time.RFC3339),
	})
	r, verr := ValidateReading("dev-1", payload, now)
	require.Nil(t, verr)
	// Flagged-invalid parameter is absent, not zero, and its (out-of-range)
	// value does not reject the message.
	assert.Nil(t, r.Turbidity)
	require.NotNil(t, r.PH)
	require.NotNil(t, r.TDS)
}

func TestValidateReadingAllFlagsInvalid(t *testing.T) {
	now := time.Now().UTC()
	payload := dataJSON(t, map[string]interface{}{
		"ph": 7.0, "tds": 100.0, "turbidity": 1.0,
		"ph_valid": false, "tds_valid": false, "turbidity_valid": false,
		"timestamp": now.Format(time.RFC3339),
	})
	r, verr := ValidateReading("dev-1", payload, now)
	require.Nil(t, verr)
	assert.Nil(t, r.PH)
	assert.Nil(t, r.TDS)
	assert.Nil(t, r.Turbidity)
}
