package intent

import (
	xerrors "IntentMCP/internal/errors"
)

// State tracks where an intent sits in its lifecycle.
type State string

const (
	StateDraft      State = "draft"
	StateSubmitted  State = "submitted"
	StateActive     State = "active"
	StateFailed     State = "failed"
	StateTerminated State = "terminated"
)

// Intent is a declarative record of desired network behaviour tracked
// through its lifecycle. The specification payload is backend-defined and
// treated as opaque here except for required presence.
type Intent struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Specification map[string]any `json:"specification"`
	State         State          `json:"state"`
	BackendRef    string         `json:"backend_reference,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
}

var (
	// ErrNotFound indicates the requested intent does not exist.
	ErrNotFound = xerrors.New(CodeIntentNotFound, "intent not found")
	// ErrConflict indicates a concurrent transition is in flight for the
	// same intent, or a duplicate record was created.
	ErrConflict = xerrors.New(CodeIntentConflict, "intent conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrInvalidTransition indicates the event is not valid for the
	// intent's current state. The record is left untouched.
	ErrInvalidTransition = xerrors.New(CodeInvalidTransition, "invalid transition")
	// ErrBackendUnavailable indicates the backend could not be reached
	// after exhausting the retry budget.
	ErrBackendUnavailable = xerrors.New(CodeBackendUnavailable, "backend unavailable")
	// ErrBackendRejected indicates a terminal backend-side refusal.
	ErrBackendRejected = xerrors.New(CodeBackendRejected, "backend rejected intent")
)

const (
	CodeIntentNotFound     xerrors.Code = "INTENT_NOT_FOUND"
	CodeIntentConflict     xerrors.Code = "INTENT_CONFLICT"
	CodeInvalidTransition  xerrors.Code = "INTENT_INVALID_TRANSITION"
	CodeIntentValidation   xerrors.Code = "INTENT_VALIDATION_FAILED"
	CodeBackendUnavailable xerrors.Code = "BACKEND_UNAVAILABLE"
	CodeBackendRejected    xerrors.Code = "BACKEND_REJECTED"
)

func init() {
	xerrors.Register(CodeIntentNotFound, xerrors.Attributes{
		Message:   "intent not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentConflict, xerrors.Attributes{
		Message:   "concurrent transition on intent",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidTransition, xerrors.Attributes{
		Message:   "event not valid for current state",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeIntentValidation, xerrors.Attributes{
		Message:   "intent validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeBackendUnavailable, xerrors.Attributes{
		Message:   "backend unavailable after retries",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeBackendRejected, xerrors.Attributes{
		Message:   "backend rejected intent",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// IsValidState checks whether the given state is a supported enum value.
func IsValidState(state State) bool {
	switch state {
	case StateDraft, StateSubmitted, StateActive, StateFailed, StateTerminated:
		return true
	default:
		return false
	}
}

// Clone returns a deep copy so callers can never mutate stored records.
func (in *Intent) Clone() *Intent {
	if in == nil {
		return nil
	}
	clone := *in
	clone.Specification = cloneSpecification(in.Specification)
	return &clone
}

func cloneSpecification(spec map[string]any) map[string]any {
	if spec == nil {
		return nil
	}
	cloned := make(map[string]any, len(spec))
	for key, value := range spec {
		cloned[key] = value
	}
	return cloned
}
