// Package security turns raw audit records into classified, severity-ranked
// events and computed summaries for the admin monitoring surface.
package security

import (
	"time"

	"github.com/google/uuid"
)

// Severity is a coarse risk ranking assigned to a security-relevant event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks that the severity is one of the supported values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return rank(s) >= rank(other)
}

func rank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// EventType is a normalized category label for a security event.
type EventType string

const (
	EventTypeTINAccess         EventType = "tin_access"
	EventTypeRateLimitExceeded EventType = "rate_limit_exceeded"
	EventTypeDataExport        EventType = "data_export"
	EventTypeRecordDeleted     EventType = "record_deleted"
	EventTypeRecordSubmitted   EventType = "record_submitted"
	EventTypeRecordCreated     EventType = "record_created"
	EventTypeRecordUpdated     EventType = "record_updated"
)

// Actor is the resolved identity behind an event.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Event is a classified security event derived from an audit record.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Entity     string    `json:"entity"`
	Action     string    `json:"action"`
	EventType  EventType `json:"event_type"`
	Severity   Severity  `json:"severity"`
	Actor      Actor     `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Summary aggregates events over a trailing window. It is computed fresh per
// query, never persisted.
type Summary struct {
	DaysBack                  int `json:"days_back"`
	TotalEvents               int `json:"total_events"`
	HighSeverityEvents        int `json:"high_severity_events"`
	UniqueActors              int `json:"unique_actors"`
	FailedRateLimitCount      int `json:"failed_rate_limit_count"`
	SensitiveFieldAccessCount int `json:"sensitive_field_access_count"`
	ExportCount               int `json:"export_count"`
}
