package models

import (
	"time"

	dErrors "taxtrail/pkg/domain-errors"
)

// Action names a throttled operation class.
type Action string

const (
	ActionProfileAccess  Action = "profile_access"
	ActionAdminOperation Action = "admin_operation"
	ActionDataExport     Action = "data_export"
	ActionFileUpload     Action = "file_upload"
	ActionAPICall        Action = "api_call"
	ActionSearch         Action = "search"
)

// Budget caps an action at MaxRequests per Window.
type Budget struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultBudgets returns the per-deployment policy defaults. These are policy
// constants, not invariants; deployments override them via service options.
func DefaultBudgets() map[Action]Budget {
	return map[Action]Budget{
		ActionProfileAccess:  {MaxRequests: 50, Window: time.Hour},
		ActionAdminOperation: {MaxRequests: 100, Window: time.Hour},
		ActionDataExport:     {MaxRequests: 5, Window: time.Hour},
		ActionFileUpload:     {MaxRequests: 20, Window: time.Hour},
		ActionAPICall:        {MaxRequests: 100, Window: time.Minute},
		ActionSearch:         {MaxRequests: 50, Window: time.Minute},
	}
}

// ParseAction validates an action name from untrusted input.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	switch a {
	case ActionProfileAccess, ActionAdminOperation, ActionDataExport,
		ActionFileUpload, ActionAPICall, ActionSearch:
		return a, nil
	}
	return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown rate limit action %q", s)
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// RetryAfter in seconds, only set when not allowed.
	RetryAfter int `json:"retry_after,omitempty"`
	// Degraded marks results produced while the ledger was unreachable
	// (fail-open) or served by the in-memory fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// Record is the persisted ledger row for one (subject, action) window.
type Record struct {
	Subject     string
	Action      Action
	WindowStart time.Time
	Count       int
}

// LedgerKey builds the storage key for a (subject, action) pair.
func LedgerKey(subject string, action Action) string {
	return "rl:" + subject + ":" + string(action)
}
