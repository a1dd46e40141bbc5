package intent

// IntentStats aggregates per-state counts, typically for dashboards or
// health checks.
type IntentStats struct {
	Total           int   `json:"total"`
	Draft           int   `json:"draft"`
	Submitted       int   `json:"submitted"`
	Active          int   `json:"active"`
	Failed          int   `json:"failed"`
	Terminated      int   `json:"terminated"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *IntentStats) count(state State) {
	s.Total++
	switch state {
	case StateDraft:
		s.Draft++
	case StateSubmitted:
		s.Submitted++
	case StateActive:
		s.Active++
	case StateFailed:
		s.Failed++
	case StateTerminated:
		s.Terminated++
	}
}
