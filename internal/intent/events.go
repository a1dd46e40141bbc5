package intent

import (
	"context"
	"sync"
	"time"

	xerrors "IntentMCP/internal/errors"
)

// EventType names a lifecycle occurrence worth broadcasting.
type EventType string

const (
	EventCreated    EventType = "intent.created"
	EventUpdated    EventType = "intent.updated"
	EventSubmitted  EventType = "intent.submitted"
	EventActivated  EventType = "intent.activated"
	EventRejected   EventType = "intent.rejected"
	EventTerminated EventType = "intent.terminated"
	EventDeleted    EventType = "intent.deleted"
	EventReconciled EventType = "intent.reconciled"
)

// Event is the payload published on every lifecycle change.
type Event struct {
	Type       EventType `json:"type"`
	IntentID   string    `json:"intent_id"`
	State      State     `json:"state"`
	BackendRef string    `json:"backend_reference,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt int64     `json:"occurred_at"`
}

// Publisher broadcasts lifecycle events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NewEvent stamps an event with the current time.
func NewEvent(evType EventType, in *Intent, reason string) Event {
	ev := Event{
		Type:       evType,
		Reason:     reason,
		OccurredAt: time.Now().Unix(),
	}
	if in != nil {
		ev.IntentID = in.ID
		ev.State = in.State
		ev.BackendRef = in.BackendRef
	}
	return ev
}

// MemoryPublisher buffers events on a channel, mainly for tests and the
// single-process default deployment.
type MemoryPublisher struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemoryPublisher creates an in-memory publisher.
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Event, size)}
}

// Publish delivers the event to the buffer. When the buffer is full the
// oldest event is dropped so lifecycle operations never block on slow
// consumers.
func (p *MemoryPublisher) Publish(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return xerrors.New(xerrors.CodePublishFailure, "publisher closed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.ch <- ev:
		return nil
	default:
		select {
		case <-p.ch:
		default:
		}
		p.ch <- ev
		return nil
	}
}

// Events exposes the buffered stream.
func (p *MemoryPublisher) Events() <-chan Event {
	return p.ch
}

// Close shuts the buffer down.
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		close(p.ch)
		p.closed = true
	}
	p.mu.Unlock()
	return nil
}

var _ Publisher = (*MemoryPublisher)(nil)
