package intent

import (
	"strings"
	"time"
)

// SortOrder defines how results should be ordered when listing intents.
type SortOrder int

const (
	// SortByUpdatedDesc orders intents by UpdatedAt descending (most recent first).
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc orders intents by UpdatedAt ascending (oldest first).
	SortByUpdatedAsc
)

// ListOptions controls how intents are selected when querying the store.
type ListOptions struct {
	Limit      int
	Offset     int
	States     []State
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
	Query      string
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.States != nil {
		opts.States = normalizeStates(opts.States)
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.Query = strings.TrimSpace(opts.Query)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of intents returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching intents before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStates filters intents by the provided lifecycle states.
func WithStates(states ...State) ListOption {
	return func(opts *ListOptions) {
		opts.States = append(opts.States[:0], states...)
	}
}

// WithUpdatedSince filters intents updated after the provided instant (inclusive).
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedGTE = 0
			return
		}
		opts.UpdatedGTE = ts.Unix()
	}
}

// WithUpdatedUntil filters intents updated before the provided instant (inclusive).
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedLTE = 0
			return
		}
		opts.UpdatedLTE = ts.Unix()
	}
}

// WithSortOrder changes the returned order of intents.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// WithQuery filters intents by fuzzy matching across name, description and
// backend reference.
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) {
		opts.Query = query
	}
}

// BuildListOptions applies option functions on top of defaults.
func BuildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStates(input []State) []State {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[State]struct{}, len(input))
	result := make([]State, 0, len(input))
	for _, state := range input {
		if !IsValidState(state) {
			continue
		}
		if _, ok := seen[state]; ok {
			continue
		}
		seen[state] = struct{}{}
		result = append(result, state)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
