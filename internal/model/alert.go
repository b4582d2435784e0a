package model

import "time"

type AlertSeverity string

const (
	SeverityAdvisory AlertSeverity = "advisory"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert records a threshold breach. The engine keeps at most one Active alert
// per (device, parameter); acknowledge/resolve transitions belong to the
// alert-management workflow downstream.
type Alert struct {
	ID             string        `json:"id"`
	DeviceID       string        `json:"device_id"`
	Parameter      Parameter     `json:"parameter"`
	Severity       AlertSeverity `json:"severity"`
	Status         AlertStatus   `json:"status"`
	CurrentValue   float64       `json:"current_value"`
	ThresholdValue float64       `json:"threshold_value"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// AlertFilter narrows alert listings for the dashboard and digest jobs.
type AlertFilter struct {
	DeviceID string
	Status   AlertStatus
	Severity AlertSeverity
	Limit    int
}
