package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"IntentMCP/internal/backend"
	xerrors "IntentMCP/internal/errors"
	"IntentMCP/internal/observability/alerting"
	"IntentMCP/pkg/logger"
)

// lifecycleEvent names the operations that drive state transitions.
type lifecycleEvent string

const (
	eventSubmit    lifecycleEvent = "submit"
	eventUpdate    lifecycleEvent = "update"
	eventTerminate lifecycleEvent = "terminate"
	eventRefresh   lifecycleEvent = "refresh"
	eventDelete    lifecycleEvent = "delete"
)

// transitionTable is the single source of truth for which lifecycle event is
// permitted in which state. Submit stays valid in Submitted so a caller can
// retry after the backend was unavailable. Every (state, event) pair absent
// from the table is an invalid transition that leaves the record untouched.
var transitionTable = map[State]map[lifecycleEvent]bool{
	StateDraft: {
		eventSubmit: true,
		eventUpdate: true,
		eventDelete: true,
	},
	StateSubmitted: {
		eventSubmit: true,
	},
	StateActive: {
		eventTerminate: true,
		eventRefresh:   true,
	},
	StateFailed: {
		eventRefresh: true,
		eventDelete:  true,
	},
	StateTerminated: {
		eventDelete: true,
	},
}

func transitionAllowed(state State, event lifecycleEvent) bool {
	allowed, ok := transitionTable[state]
	if !ok {
		return false
	}
	return allowed[event]
}

// BackendClient is the slice of the backend surface the engine drives.
type BackendClient interface {
	Submit(ctx context.Context, req backend.SubmitRequest) (backend.Result, error)
	FetchStatus(ctx context.Context, ref string) (backend.Result, error)
	Cancel(ctx context.Context, ref string) (backend.Result, error)
}

// Engine serializes lifecycle transitions per intent and keeps the store in
// step with the backend's view. Reads never take the per-id lock.
type Engine struct {
	store          Store
	backend        BackendClient
	events         Publisher
	alerter        alerting.Dispatcher
	log            *slog.Logger
	audit          *slog.Logger
	backendTimeout time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithPublisher wires a lifecycle event publisher.
func WithPublisher(pub Publisher) EngineOption {
	return func(e *Engine) {
		e.events = pub
	}
}

// WithAlertDispatcher wires the alert dispatcher for terminal failures.
func WithAlertDispatcher(dispatcher alerting.Dispatcher) EngineOption {
	return func(e *Engine) {
		e.alerter = dispatcher
	}
}

// WithLogger overrides the engine logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithBackendTimeout bounds each backend call made during a transition.
func WithBackendTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if timeout > 0 {
			e.backendTimeout = timeout
		}
	}
}

// NewEngine builds a lifecycle engine over the given store and backend.
func NewEngine(store Store, client BackendClient, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "engine requires a store")
	}
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "engine requires a backend client")
	}
	e := &Engine{
		store:          store,
		backend:        client,
		log:            logger.Named("engine"),
		audit:          logger.Audit(),
		backendTimeout: 30 * time.Second,
		inFlight:       map[string]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// acquire marks an intent as having a transition in flight. Concurrent
// transitions are rejected rather than queued so a second caller gets an
// immediate Conflict instead of blocking behind a backend call.
func (e *Engine) acquire(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[id]; busy {
		return xerrors.New(CodeIntentConflict, "another transition is in flight for this intent",
			xerrors.WithMetadata("intent_id", id))
	}
	e.inFlight[id] = struct{}{}
	return nil
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	delete(e.inFlight, id)
	e.mu.Unlock()
}

// CreateRequest carries the caller-supplied fields for a new intent.
type CreateRequest struct {
	Name          string
	Description   string
	Specification map[string]any
}

// Create validates the request and stores a new Draft intent.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Intent, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, xerrors.New(CodeIntentValidation, "intent name must not be empty")
	}
	if len(req.Specification) == 0 {
		return nil, xerrors.New(CodeIntentValidation, "intent specification must not be empty")
	}

	now := time.Now().Unix()
	in := &Intent{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		Specification: cloneSpecification(req.Specification),
		State:         StateDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.Create(ctx, in); err != nil {
		return nil, err
	}
	e.auditEvent(ctx, "intent.create", in, "")
	e.publish(ctx, NewEvent(EventCreated, in, ""))
	return in.Clone(), nil
}

// Get returns a single intent without touching the transition lock.
func (e *Engine) Get(ctx context.Context, id string) (*Intent, error) {
	return e.store.Get(ctx, id)
}

// List returns intents matching the options.
func (e *Engine) List(ctx context.Context, opts ...ListOption) ([]*Intent, error) {
	return e.store.List(ctx, BuildListOptions(opts))
}

// Stats aggregates intents matching the options.
func (e *Engine) Stats(ctx context.Context, opts ...ListOption) (IntentStats, error) {
	return e.store.Stats(ctx, BuildListOptions(opts))
}

// UpdateRequest carries the mutable fields of a Draft intent. Nil pointers
// leave the field unchanged; a non-nil empty specification is rejected.
type UpdateRequest struct {
	Name          *string
	Description   *string
	Specification map[string]any
}

// Update mutates a Draft intent. Any other state rejects the event.
func (e *Engine) Update(ctx context.Context, id string, req UpdateRequest) (*Intent, error) {
	if err := e.acquire(id); err != nil {
		return nil, err
	}
	defer e.release(id)

	in, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transitionAllowed(in.State, eventUpdate) {
		return nil, invalidTransition(in, eventUpdate)
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, xerrors.New(CodeIntentValidation, "intent name must not be empty")
		}
		in.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		in.Description = *req.Description
	}
	if req.Specification != nil {
		if len(req.Specification) == 0 {
			return nil, xerrors.New(CodeIntentValidation, "intent specification must not be empty")
		}
		in.Specification = cloneSpecification(req.Specification)
	}

	if err := e.store.Update(ctx, in); err != nil {
		return nil, err
	}
	e.auditEvent(ctx, "intent.update", in, "")
	e.publish(ctx, NewEvent(EventUpdated, in, ""))
	return in.Clone(), nil
}

// Submit drives an intent to the backend. The intent id doubles as the
// idempotency key so retrying after an Unavailable outcome can never create
// a second backend entity. The returned intent always reflects the persisted
// record, error or not.
func (e *Engine) Submit(ctx context.Context, id string) (*Intent, error) {
	if err := e.acquire(id); err != nil {
		return nil, err
	}
	defer e.release(id)

	in, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transitionAllowed(in.State, eventSubmit) {
		return nil, invalidTransition(in, eventSubmit)
	}

	if in.State == StateDraft {
		in.State = StateSubmitted
		if err := e.store.Update(ctx, in); err != nil {
			return nil, err
		}
		e.publish(ctx, NewEvent(EventSubmitted, in, ""))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.backendTimeout)
	defer cancel()
	result, err := e.backend.Submit(callCtx, backend.SubmitRequest{
		IntentID:      in.ID,
		Name:          in.Name,
		Description:   in.Description,
		Specification: in.Specification,
	})
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case backend.StatusAccepted:
		in.State = StateActive
		in.BackendRef = result.Reference
		in.LastError = ""
		in.ErrorCode = ""
		if err := e.store.Update(ctx, in); err != nil {
			return nil, err
		}
		e.auditEvent(ctx, "intent.submit", in, "accepted")
		e.publish(ctx, NewEvent(EventActivated, in, ""))
		return in.Clone(), nil

	case backend.StatusRejected:
		in.State = StateFailed
		in.LastError = result.Reason
		in.ErrorCode = string(CodeBackendRejected)
		if err := e.store.Update(ctx, in); err != nil {
			return nil, err
		}
		e.auditEvent(ctx, "intent.submit", in, "rejected")
		e.publish(ctx, NewEvent(EventRejected, in, result.Reason))
		e.alert(ctx, in, CodeBackendRejected, result.Reason)
		return in.Clone(), xerrors.New(CodeBackendRejected, result.Reason,
			xerrors.WithMetadata("intent_id", in.ID))

	default:
		// Unavailable or Unknown: the backend may or may not have seen the
		// request. The intent stays Submitted and the caller retries with
		// the same idempotency key.
		in.State = StateSubmitted
		in.LastError = result.Reason
		in.ErrorCode = string(CodeBackendUnavailable)
		if err := e.store.Update(ctx, in); err != nil {
			return nil, err
		}
		e.auditEvent(ctx, "intent.submit", in, string(result.Status))
		return in.Clone(), xerrors.New(CodeBackendUnavailable, result.Reason,
			xerrors.WithMetadata("intent_id", in.ID),
			xerrors.WithMetadata("outcome", string(result.Status)))
	}
}

// Terminate asks the backend to stop fulfilment and marks the intent
// Terminated regardless of the cancel outcome. A failed cancel is recorded
// in lastError so an operator can follow up with the backend.
func (e *Engine) Terminate(ctx context.Context, id string) (*Intent, error) {
	if err := e.acquire(id); err != nil {
		return nil, err
	}
	defer e.release(id)

	in, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transitionAllowed(in.State, eventTerminate) {
		return nil, invalidTransition(in, eventTerminate)
	}

	reason := ""
	if in.BackendRef != "" {
		callCtx, cancel := context.WithTimeout(ctx, e.backendTimeout)
		defer cancel()
		result, err := e.backend.Cancel(callCtx, in.BackendRef)
		if err != nil {
			reason = err.Error()
		} else if result.Status != backend.StatusAccepted {
			reason = result.Reason
		}
	}

	in.State = StateTerminated
	if reason != "" {
		in.LastError = fmt.Sprintf("backend cancel failed: %s", reason)
		in.ErrorCode = string(CodeBackendUnavailable)
	} else {
		in.LastError = ""
		in.ErrorCode = ""
	}
	if err := e.store.Update(ctx, in); err != nil {
		return nil, err
	}
	e.auditEvent(ctx, "intent.terminate", in, reason)
	e.publish(ctx, NewEvent(EventTerminated, in, reason))
	if reason != "" {
		e.alert(ctx, in, CodeBackendUnavailable, in.LastError)
	}
	return in.Clone(), nil
}

// Refresh reconciles the local record with the backend's view. The backend
// is authoritative: whatever state it reports replaces the local one.
func (e *Engine) Refresh(ctx context.Context, id string) (*Intent, error) {
	if err := e.acquire(id); err != nil {
		return nil, err
	}
	defer e.release(id)

	in, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transitionAllowed(in.State, eventRefresh) {
		return nil, invalidTransition(in, eventRefresh)
	}
	if in.BackendRef == "" {
		return nil, xerrors.New(CodeIntentValidation, "intent has no backend reference to reconcile",
			xerrors.WithMetadata("intent_id", in.ID))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.backendTimeout)
	defer cancel()
	result, err := e.backend.FetchStatus(callCtx, in.BackendRef)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case backend.StatusAccepted:
		next, known := mapRemoteState(result.RemoteState)
		if !known {
			in.LastError = fmt.Sprintf("backend reported unrecognized state %q", result.RemoteState)
			in.ErrorCode = string(CodeBackendUnavailable)
			if err := e.store.Update(ctx, in); err != nil {
				return nil, err
			}
			return in.Clone(), nil
		}
		changed := next != in.State
		in.State = next
		in.LastError = ""
		in.ErrorCode = ""
		if err := e.store.Update(ctx, in); err != nil {
			return nil, err
		}
		if changed {
			e.auditEvent(ctx, "intent.refresh", in, result.RemoteState)
			e.publish(ctx, NewEvent(EventReconciled, in, result.RemoteState))
		}
		return in.Clone(), nil

	case backend.StatusRejected:
		in.State = StateFailed
		in.LastError = result.Reason
		in.ErrorCode = string(CodeBackendRejected)
		if err := e.store.Update(ctx, in); err != nil {
			return nil, err
		}
		e.auditEvent(ctx, "intent.refresh", in, result.Reason)
		e.publish(ctx, NewEvent(EventReconciled, in, result.Reason))
		e.alert(ctx, in, CodeBackendRejected, result.Reason)
		return in.Clone(), nil

	default:
		return in.Clone(), xerrors.New(CodeBackendUnavailable, result.Reason,
			xerrors.WithMetadata("intent_id", in.ID))
	}
}

// Delete removes an intent that is not being fulfilled. Draft, Failed and
// Terminated intents may be deleted; Submitted and Active may not.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.acquire(id); err != nil {
		return err
	}
	defer e.release(id)

	in, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !transitionAllowed(in.State, eventDelete) {
		return invalidTransition(in, eventDelete)
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.auditEvent(ctx, "intent.delete", in, "")
	e.publish(ctx, NewEvent(EventDeleted, in, ""))
	return nil
}

// mapRemoteState translates a backend-reported state to the local enum.
func mapRemoteState(remote string) (State, bool) {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case "created", "acknowledged":
		return StateSubmitted, true
	case "active", "completed":
		return StateActive, true
	case "rejected", "failed":
		return StateFailed, true
	case "terminated", "cancelled":
		return StateTerminated, true
	default:
		return "", false
	}
}

func invalidTransition(in *Intent, event lifecycleEvent) error {
	return xerrors.New(CodeInvalidTransition,
		fmt.Sprintf("event %q is not valid in state %q", event, in.State),
		xerrors.WithMetadata("intent_id", in.ID),
		xerrors.WithMetadata("state", string(in.State)),
		xerrors.WithMetadata("event", string(event)))
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.Error("publish lifecycle event failed",
			slog.String("event", string(ev.Type)),
			slog.String("intent_id", ev.IntentID),
			slog.Any("error", err))
	}
}

func (e *Engine) alert(ctx context.Context, in *Intent, code xerrors.Code, message string) {
	if e.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   xerrors.AttributesOf(code).Severity,
		IntentID:   in.ID,
		State:      string(in.State),
		BackendRef: in.BackendRef,
		OccurredAt: time.Now(),
	}
	if err := e.alerter.Notify(ctx, event); err != nil {
		e.log.Error("alert dispatch failed",
			slog.String("intent_id", in.ID),
			slog.Any("error", err))
	}
}

func (e *Engine) auditEvent(ctx context.Context, action string, in *Intent, detail string) {
	if e.audit == nil {
		return
	}
	attrs := []any{
		slog.String("action", action),
		slog.String("intent_id", in.ID),
		slog.String("state", string(in.State)),
	}
	if in.BackendRef != "" {
		attrs = append(attrs, slog.String("backend_reference", in.BackendRef))
	}
	if detail != "" {
		attrs = append(attrs, slog.String("detail", detail))
	}
	e.audit.InfoContext(ctx, "lifecycle", attrs...)
}
