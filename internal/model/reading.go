package model

import "time"

// Parameter names the three measured water-quality values.
type Parameter string

const (
	ParamPH        Parameter = "ph"
	ParamTDS       Parameter = "tds"
	ParamTurbidity Parameter = "turbidity"
)

// Parameters in a fixed order, used wherever we iterate over a reading.
var Parameters = []Parameter{ParamPH, ParamTDS, ParamTurbidity}

// SensorReading is a validated, normalized data message. A nil value means
// the device flagged that parameter invalid; it is stored as absent and never
// compared against thresholds.
type SensorReading struct {
	DeviceID   string    `json:"device_id"`
	PH         *float64  `json:"ph,omitempty"`
	TDS        *float64  `json:"tds,omitempty"`
	Turbidity  *float64  `json:"turbidity,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`
}

// Value returns the stored value for p, or false when absent.
func (r *SensorReading) Value(p Parameter) (float64, bool) {
	var v *float64
	switch p {
	case ParamPH:
		v = r.PH
	case ParamTDS:
		v = r.TDS
	case ParamTurbidity:
		v = r.Turbidity
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}
