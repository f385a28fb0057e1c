// Package audit records who-did-what for every security-relevant operation.
// The trail is append-only; only the retention worker deletes rows.
package audit

import (
	"time"

	"github.com/google/uuid"

	dErrors "taxtrail/pkg/domain-errors"
)

// Action is the audited operation kind.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
	ActionSubmit Action = "submit"
)

// IsValid checks that the action is one of the audited kinds.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionExport, ActionSubmit:
		return true
	}
	return false
}

// ParseAction validates an action name from untrusted input.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown audit action %q", s)
	}
	return a, nil
}

// Event is one appended audit record. PayloadDigest is a short fingerprint
// of the action's payload, never the payload itself, so the trail stays
// tamper-evident without storing sensitive content verbatim.
type Event struct {
	ID            uuid.UUID
	Entity        string
	EntityID      string
	Action        Action
	ActorID       string
	PayloadDigest string
	RecordedAt    time.Time
}
