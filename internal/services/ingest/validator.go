package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hydrosense/aquamon/internal/model"
)

// Validation bounds. The timestamp floor rules out devices publishing with an
// unset clock; the drift allowance tolerates slightly fast device clocks.
var timestampFloor = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

const maxClockDrift = time.Hour

const (
	phMin        = 0
	phMax        = 14
	tdsMin       = 0
	tdsMax       = 2000
	turbidityMin = 0
	turbidityMax = 1000
)

// Rejection reasons, used as the drop-metric label.
const (
	ReasonDecode       = "decode"
	ReasonMissingField = "missing_field"
	ReasonBadTimestamp = "bad_timestamp"
	ReasonOutOfRange   = "out_of_range"
)

// ValidationError explains why a data message was rejected.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("reading rejected (%s): %s", e.Reason, e.Detail)
}

func reject(reason, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// dataPayload is the wire shape of a data message. Pointers distinguish
// missing fields from zero values; validity flags default to true.
type dataPayload struct {
	PH             *float64  `json:"ph"`
	TDS            *float64  `json:"tds"`
	Turbidity      *float64  `json:"turbidity"`
	PHValid        *bool     `json:"ph_valid"`
	TDSValid       *bool     `json:"tds_valid"`
	TurbidityValid *bool     `json:"turbidity_valid"`
	Timestamp      time.Time `json:"timestamp"`
}

// ValidateReading decides whether a data message is safe to persist and
// evaluate. It returns a normalized reading, or a ValidationError naming the
// offending values. Parameters flagged invalid by the device are kept absent
// but do not reject the message; an out-of-range value on a flagged-valid
// parameter rejects the message as a whole.
func ValidateReading(deviceID string, payload []byte, now time.Time) (*model.SensorReading, *ValidationError) {
	var p dataPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, reject(ReasonDecode, "%v", err)
	}

	if p.PH == nil || p.TDS == nil || p.Turbidity == nil {
		return nil, reject(ReasonMissingField, "ph/tds/turbidity must all be present")
	}

	if p.Timestamp.Before(timestampFloor) {
		return nil, reject(ReasonBadTimestamp, "timestamp %s predates %s", p.Timestamp.Format(time.RFC3339), timestampFloor.Format(time.RFC3339))
	}
	if p.Timestamp.After(now.Add(maxClockDrift)) {
		return nil, reject(ReasonBadTimestamp, "timestamp %s is more than %s in the future", p.Timestamp.Format(time.RFC3339), maxClockDrift)
	}

	r := &model.SensorReading{
		DeviceID:   deviceID,
		Timestamp:  p.Timestamp,
		ReceivedAt: now,
	}

	if valid(p.PHValid) {
		if *p.PH < phMin || *p.PH > phMax {
			return nil, reject(ReasonOutOfRange, "ph %.2f outside [%d, %d]", *p.PH, phMin, phMax)
		}
		r.PH = p.PH
	}
	if valid(p.TDSValid) {
		if *p.TDS < tdsMin || *p.TDS > tdsMax {
			return nil, reject(ReasonOutOfRange, "tds %.2f outside [%d, %d]", *p.TDS, tdsMin, tdsMax)
		}
		r.TDS = p.TDS
	}
	if valid(p.TurbidityValid) {
		if *p.Turbidity < turbidityMin || *p.Turbidity > turbidityMax {
			return nil, reject(ReasonOutOfRange, "turbidity %.2f outside [%d, %d]", *p.Turbidity, turbidityMin, turbidityMax)
		}
		r.Turbidity = p.Turbidity
	}

	return r, nil
}

func valid(flag *bool) bool {
	return flag == nil || *flag
}
