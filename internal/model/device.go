package model

import "time"

// RegistrationStatus tracks how far a device has come through onboarding.
type RegistrationStatus string

const (
	RegistrationUnregistered RegistrationStatus = "unregistered"
	RegistrationPending      RegistrationStatus = "pending"
	RegistrationRegistered   RegistrationStatus = "registered"
)

// ConnectivityStatus is the engine's view of whether a device is reachable.
type ConnectivityStatus string

const (
	StatusOnline      ConnectivityStatus = "online"
	StatusOffline     ConnectivityStatus = "offline"
	StatusError       ConnectivityStatus = "error"
	StatusMaintenance ConnectivityStatus = "maintenance"
)

// ValidConnectivityStatus reports whether s is one of the four known states.
func ValidConnectivityStatus(s ConnectivityStatus) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusError, StatusMaintenance:
		return true
	}
	return false
}

// Device is the registry record for a field unit. DeviceID is assigned by the
// hardware and stable across reconnects; everything else is filled
// progressively as messages arrive.
type Device struct {
	DeviceID           string             `json:"device_id"`
	Name               string             `json:"name"`
	Type               string             `json:"type"`
	MACAddress         string             `json:"mac_address,omitempty"`
	IPAddress          string             `json:"ip_address,omitempty"`
	FirmwareVersion    string             `json:"firmware_version,omitempty"`
	RegistrationStatus RegistrationStatus `json:"registration_status"`
	ConnectivityStatus ConnectivityStatus `json:"connectivity_status"`
	LastSeen           *time.Time         `json:"last_seen,omitempty"`
	OfflineSince       *time.Time         `json:"offline_since,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// RegistrationHints carries whatever metadata a message happened to include;
// zero values mean "unknown, keep the placeholder".
type RegistrationHints struct {
	Name            string `json:"name,omitempty"`
	Type            string `json:"type,omitempty"`
	MACAddress      string `json:"mac_address,omitempty"`
	IPAddress       string `json:"ip_address,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
}
