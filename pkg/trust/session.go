package trust

import (
	"time"

	"github.com/google/uuid"
)

// Status of a session
type Status uint8

// session statuses
const (
	StatusActive Status = iota + 1
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// termination reasons used by the control plane itself
const (
	ReasonClosed    = "closed"
	ReasonExpired   = "expired"
	ReasonIsolation = "isolation"
)

// Metrics are the per-session activity counters
type Metrics struct {
	RequestCount         int `json:"request_count"`
	FailureCount         int `json:"failure_count"`
	SuspiciousActivities int `json:"suspicious_activities"`
}

// Session is a time-bounded authenticated context carrying a trust score
type Session struct {
	ID                uuid.UUID `json:"id"`
	DeviceID          uuid.UUID `json:"device_id"`
	Fingerprint       string    `json:"fingerprint"`
	OpenedAt          time.Time `json:"opened_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Score             float64   `json:"score"`
	Metrics           Metrics   `json:"metrics"`
	Status            Status    `json:"status"`
	TerminatedAt      time.Time `json:"terminated_at"`
	TerminationReason string    `json:"termination_reason"`
}

// IsActive tells whether the session is active at a given moment
func (s Session) IsActive(now time.Time) bool {
	return s.Status == StatusActive && now.Before(s.ExpiresAt)
}

func (s *Session) terminate(now time.Time, reason string) {
	s.Status = StatusTerminated
	s.TerminatedAt = now
	s.TerminationReason = reason
}
