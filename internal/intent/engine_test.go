package intent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"IntentMCP/internal/backend"
	xerrors "IntentMCP/internal/errors"
)

// fakeBackend scripts backend outcomes for engine tests.
type fakeBackend struct {
	mu            sync.Mutex
	submitResults []backend.Result
	submitCalls   int
	lastSubmit    backend.SubmitRequest
	statusResult  backend.Result
	cancelResult  backend.Result
	blockSubmit   chan struct{}
}

func (f *fakeBackend) Submit(ctx context.Context, req backend.SubmitRequest) (backend.Result, error) {
	if f.blockSubmit != nil {
		<-f.blockSubmit
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSubmit = req
	result := backend.Result{Status: backend.StatusAccepted, Reference: "intent-0123456789"}
	if f.submitCalls < len(f.submitResults) {
		result = f.submitResults[f.submitCalls]
	} else if len(f.submitResults) > 0 {
		result = f.submitResults[len(f.submitResults)-1]
	}
	f.submitCalls++
	return result, nil
}

func (f *fakeBackend) FetchStatus(ctx context.Context, ref string) (backend.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusResult.Status == "" {
		return backend.Result{Status: backend.StatusAccepted, Reference: ref, RemoteState: "active"}, nil
	}
	return f.statusResult, nil
}

func (f *fakeBackend) Cancel(ctx context.Context, ref string) (backend.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelResult.Status == "" {
		return backend.Result{Status: backend.StatusAccepted, Reference: ref}, nil
	}
	return f.cancelResult, nil
}

func newTestEngine(t *testing.T, fb *fakeBackend) (*Engine, *MemoryStore, *MemoryPublisher) {
	t.Helper()
	store := NewMemoryStore()
	events := NewMemoryPublisher(64)
	engine, err := NewEngine(store, fb, WithPublisher(events))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, store, events
}

func validSpec() map[string]any {
	return map[string]any{
		"intentType": "EventLiveBroadcast",
		"serviceArea": []any{
			map[string]any{"longitude": 13.4, "latitude": 52.5},
		},
	}
}

func TestCreateRoundTrip(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeBackend{})
	ctx := context.Background()

	in, err := engine.Create(ctx, CreateRequest{
		Name:          "4K Broadcast",
		Description:   "stadium uplink",
		Specification: validSpec(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if in.ID == "" || in.State != StateDraft {
		t.Fatalf("unexpected created intent: %+v", in)
	}
	if in.BackendRef != "" {
		t.Fatalf("draft intent must not carry a backend reference")
	}

	got, err := engine.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateDraft || got.Name != "4K Broadcast" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestCreateValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeBackend{})
	ctx := context.Background()

	if _, err := engine.Create(ctx, CreateRequest{Name: "", Specification: validSpec()}); xerrors.CodeOf(err) != CodeIntentValidation {
		t.Fatalf("empty name: got %v", err)
	}
	if _, err := engine.Create(ctx, CreateRequest{Name: "x", Specification: nil}); xerrors.CodeOf(err) != CodeIntentValidation {
		t.Fatalf("empty specification: got %v", err)
	}
}

func TestSubmitAccepted(t *testing.T) {
	fb := &fakeBackend{}
	engine, _, _ := newTestEngine(t, fb)
	ctx := context.Background()

	in, err := engine.Create(ctx, CreateRequest{Name: "broadcast", Specification: validSpec()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	submitted, err := engine.Submit(ctx, in.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.State != StateActive {
		t.Fatalf("expected Active, got %s", submitted.State)
	}
	if submitted.BackendRef != "intent-0123456789" {
		t.Fatalf("backend reference not recorded: %+v", submitted)
	}
	if submitted.LastError != "" || submitted.ErrorCode != "" {
		t.Fatalf("error fields must be cleared on success: %+v", submitted)
	}
	if fb.lastSubmit.IntentID != in.ID {
		t.Fatalf("idempotency key mismatch: %q", fb.lastSubmit.IntentID)
	}
}

func TestSubmitRejected(t *testing.T) {
	fb := &fakeBackend{submitResults: []backend.Result{
		{Status: backend.StatusRejected, Reason: "400 Bad Request: quota exceeded"},
	}}
	engine, _, _ := newTestEngine(t, fb)
	ctx := context.Background()

	in, _ := engine.Create(ctx, CreateRequest{Name: "broadcast", Specification: validSpec()})
	got, err := engine.Submit(ctx, in.ID)
	if !errors.Is(err, ErrBackendRejected) {
		t.Fatalf("expected rejected error, got %v", err)
	}
	if got.State != StateFailed {
		t.Fatalf("expected Failed, got %s", got.State)
	}
	if got.LastError == "" || got.ErrorCode != string(CodeBackendRejected) {
		t.Fatalf("rejection not recorded: %+v", got)
	}
}

func TestSubmitUnavailableThenRetry(t *testing.T) {
	fb := &fakeBackend{submitResults: []backend.Result{
		{Status: backend.StatusUnavailable, Reason: "backend returned 503 Service Unavailable"},
		{Status: backend.StatusAccepted, Reference: "intent-abcdef0123"},
	}}
	engine, _, _ := newTestEngine(t, fb)
	ctx := context.Background()

	in, _ := engine.Create(ctx, CreateRequest{Name: "broadcast", Specification: validSpec()})

	got, err := engine.Submit(ctx, in.ID)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if got.State != StateSubmitted {
		t.Fatalf("intent must stay Submitted, got %s", got.State)
	}
	if got.LastError == "" {
		t.Fatalf("lastError must be populated: %+v", got)
	}

	// Retrying from Submitted is a valid transition and reuses the same
	// idempotency key.
	retried, err := engine.Submit(ctx, in.ID)
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if retried.State != StateActive || retried.BackendRef != "intent-abcdef0123" {
		t.Fatalf("unexpected retry outcome: %+v", retried)
	}
	if retried.LastError != "" {
		t.Fatalf("lastError must clear on success: %+v", retried)
	}
	if fb.submitCalls != 2 || fb.lastSubmit.IntentID != in.ID {
		t.Fatalf("idempotency key changed between attempts")
	}
}

func TestInvalidTransitionsLeaveRecordUntouched(t *testing.T) {
	engine, store, _ := newTestEngine(t, &fakeBackend{})
	ctx := context.Background()

	in, _ := engine.Create(ctx, CreateRequest{Name: "broadcast", Specification: validSpec()})
	before, _ := store.Get(ctx, in.ID)

	// Draft rejects terminate and refresh.
	if _, err := engine.Terminate(ctx, in.ID); xerrors.CodeOf(err) != CodeInvalidTransition {
		t.Fatalf("terminate draft: got %v", err)
	}
	if _, err := engine.Refresh(ctx, in.ID); xerrors.CodeOf(err) != CodeInvalidTransition {
		t.Fatalf("refresh draft: got %v", err)
	}

	after, _ := store.Get(ctx, in.ID)
	if after.State != before.State || after.UpdatedAt != before.UpdatedAt {
		t.Fatalf("invalid transition mutated the record: before=%+v after=%+v", before, after)
	}

	// Active rejects update and delete.
	if _, err := engine.Submit(ctx, in.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	name := "renamed"
	if _, err := engine.Update(ctx, in.ID, UpdateRequest{Name: &name}); xerrors.CodeOf(err) != CodeInvalidTransition {
		t.Fatalf("update active: got %v", err)
	}
	if err := engine.Delete(ctx, in.ID); xerrors.CodeOf(err) != CodeInvalidTransition {
		t.Fatalf("delete active: got %v", err)
	}
}

func TestUpdateDraftOnly(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeBackend{})
	ctx := context.Background()

	in, _ := engine.Create(ctx, CreateRequest{Name: "broadcast", Specification: validSpec()})

	name := "stadium broadcast"
	updated, err := engine.Update(ctx, in.ID, UpdateRequest{
		Name:          &name,
		Specification: map[string]any{"intentType": "EventLiveBroadcast", "validFor": map[string]any{"startDateTime": "2026-09-01T00:00:00Z"}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "stadium broadcast" {
		t.Fatalf("name not updated: %+v", updated)
	}
	if updated.UpdatedAt <= in.UpdatedAt {
		t.Fatalf("UpdatedAt must increase on update")
	}

	if _, err := engine.Update(ctx, in.ID, UpdateRequest{Specification: map[string]any{}}); xerrors.CodeOf(err) != CodeIntentValidation {
		t.Fatalf("empty replacement specification: got %v", err)
	}
}

func TestTerminateRecordsCancelFailure(t *testing.T) {
	fb := &fakeBackend{cancelResult: backend.Result{Status: backend.StatusUnavailable, Reason: "backend returned 502 Bad Gateway"}}
	engine, _, _ := newTestEngine(t, fb)
	ctx := context.Background()

	in, _ := engine.Create(ctx, CreateRequest{Name: "broadcast", Specification: validSpec()})
	if _, err := engine.Submit(ctx, in.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := engine.Terminate(ctx, in.ID)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if got.State != StateTerminated {
		t.Fatalf("intent must be Terminated even when cancel fails, got %s", got.State)
	}
	if got.LastError == "" {
		t.Fatalf("cancel failure must be recorded: %+v", got)
	}
}

func TestRefreshBackendAuthoritative(t *testing.T) {
	fb := &fakeBackend{}
	engine, _, _ := newTestEngine(t, fb)
	ctx := context.Background()

	in, _ := engine.Create(ctx, CreateRequest{Name: "broadcast", Specification: validSpec()})
	if _, err := engine.Submit(ctx, in.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	fb.mu.Lock()
	fb.statusResult = backend.Result{Status: backend.StatusAccepted, RemoteState: "terminated"}
	fb.mu.Unlock()

	got, err := engine.Refresh(ctx, in.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.State != StateTerminated {
		t.Fatalf("backend state must win, got %s", got.State)
	}
}

func TestRefreshUnknownRemoteStateKeepsLocal(t *testing.T) {
	fb := &fakeBackend{}
	engine, _, _ := newTestEngine(t, fb)
	ctx := context.Background()

	in, _ := engine.Create(ctx, CreateRequest{Name: "broadcast", Specification: validSpec()})
	if _, err := engine.Submit(ctx, in.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	fb.mu.Lock()
	fb.statusResult = backend.Result{Status: backend.StatusAccepted, RemoteState: "weird"}
	fb.mu.Unlock()

	got, err := engine.Refresh(ctx, in.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.State != StateActive {
		t.Fatalf("unrecognized remote state must keep the local one, got %s", got.State)
	}
	if got.LastError == "" {
		t.Fatalf("unrecognized state must be recorded")
	}
}

func TestDeleteRules(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeBackend{})
	ctx := context.Background()

	draft, _ := engine.Create(ctx, CreateRequest{Name: "draft", Specification: validSpec()})
	if err := engine.Delete(ctx, draft.ID); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	if _, err := engine.Get(ctx, draft.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted draft still present: %v", err)
	}

	active, _ := engine.Create(ctx, CreateRequest{Name: "active", Specification: validSpec()})
	if _, err := engine.Submit(ctx, active.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := engine.Delete(ctx, active.ID); xerrors.CodeOf(err) != CodeInvalidTransition {
		t.Fatalf("delete active: got %v", err)
	}

	if _, err := engine.Terminate(ctx, active.ID); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := engine.Delete(ctx, active.ID); err != nil {
		t.Fatalf("delete terminated: %v", err)
	}
}

func TestConcurrentSubmitOneWinnerOneConflict(t *testing.T) {
	fb := &fakeBackend{blockSubmit: make(chan struct{})}
	engine, _, _ := newTestEngine(t, fb)
	ctx := context.Background()

	in, _ := engine.Create(ctx, CreateRequest{Name: "broadcast", Specification: validSpec()})

	done := make(chan error, 1)
	go func() {
		_, err := engine.Submit(ctx, in.ID)
		done <- err
	}()

	// Wait until the first submit holds the per-id lock inside the backend
	// call, then race a second one.
	for {
		engine.mu.Lock()
		_, busy := engine.inFlight[in.ID]
		engine.mu.Unlock()
		if busy {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := engine.Submit(ctx, in.ID); xerrors.CodeOf(err) != CodeIntentConflict {
		t.Fatalf("concurrent submit: got %v want conflict", err)
	}

	close(fb.blockSubmit)
	if err := <-done; err != nil {
		t.Fatalf("winner submit failed: %v", err)
	}

	got, err := engine.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateActive {
		t.Fatalf("winner must complete normally, got %s", got.State)
	}
	if fb.submitCalls != 1 {
		t.Fatalf("conflicting caller must not reach the backend, calls=%d", fb.submitCalls)
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	fb := &fakeBackend{}
	engine, _, events := newTestEngine(t, fb)
	ctx := context.Background()

	in, _ := engine.Create(ctx, CreateRequest{Name: "broadcast", Specification: validSpec()})
	if _, err := engine.Submit(ctx, in.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	want := []EventType{EventCreated, EventSubmitted, EventActivated}
	for _, expected := range want {
		select {
		case ev := <-events.Events():
			if ev.Type != expected || ev.IntentID != in.ID {
				t.Fatalf("unexpected event %+v, want type %s", ev, expected)
			}
		default:
			t.Fatalf("missing lifecycle event %s", expected)
		}
	}
}
