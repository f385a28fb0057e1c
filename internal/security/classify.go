package security

import (
	"time"

	"github.com/google/uuid"
)

// Classification policy thresholds.
const (
	// bulkExportThreshold marks an export as high severity.
	bulkExportThreshold = 100
	// massExportThreshold marks an export as critical.
	massExportThreshold = 10000
)

// Input carries the context signals classification depends on. Same input
// always classifies identically; keep every severity rule in Classify so
// there is a single source of truth.
type Input struct {
	Entity     string
	Action     string
	ActorID    string
	OccurredAt time.Time

	// RateLimited marks the event as a denied rate limit check.
	RateLimited bool
	// SensitiveField marks access to a protected field such as a tax
	// identification number.
	SensitiveField bool
	// RecordCount is the number of records touched (exports).
	RecordCount int
}

// Classify maps an input deterministically to a typed, severity-ranked
// event. Rules are evaluated in fixed precedence order: rate limiting, then
// sensitive access, then action semantics.
func Classify(in Input) Event {
	eventType, severity := classifyRules(in)

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	return Event{
		ID:         uuid.New(),
		Entity:     in.Entity,
		Action:     in.Action,
		EventType:  eventType,
		Severity:   severity,
		Actor:      Actor{ID: in.ActorID},
		OccurredAt: occurredAt,
	}
}

func classifyRules(in Input) (EventType, Severity) {
	if in.RateLimited {
		return EventTypeRateLimitExceeded, SeverityHigh
	}
	if in.SensitiveField {
		return EventTypeTINAccess, SeverityMedium
	}

	switch in.Action {
	case "export":
		switch {
		case in.RecordCount > massExportThreshold:
			return EventTypeDataExport, SeverityCritical
		case in.RecordCount > bulkExportThreshold:
			return EventTypeDataExport, SeverityHigh
		default:
			return EventTypeDataExport, SeverityMedium
		}
	case "delete":
		return EventTypeRecordDeleted, SeverityMedium
	case "submit":
		return EventTypeRecordSubmitted, SeverityMedium
	case "create":
		return EventTypeRecordCreated, SeverityLow
	default:
		return EventTypeRecordUpdated, SeverityLow
	}
}
