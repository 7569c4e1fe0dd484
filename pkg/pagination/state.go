package pagination

import (
	"github.com/Sternrassler/search-stream/pkg/client"
)

// ServiceStatus reports whether the search service answered the last fetch.
type ServiceStatus int

const (
	// StatusUnknown is only used by the initial empty State.
	StatusUnknown ServiceStatus = iota
	StatusOnline
	StatusOffline
)

// String returns the status name.
func (s ServiceStatus) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// State is one snapshot of a run. Items only grows within a run.
type State struct {
	Items         []client.Item
	Status        ServiceStatus
	LimitExceeded bool
}

// EmptyState returns the snapshot emitted before any page is fetched.
func EmptyState() State {
	return State{Items: []client.Item{}}
}

// IsEmpty reports whether s is the initial empty snapshot.
func (s State) IsEmpty() bool {
	return len(s.Items) == 0 && s.Status == StatusUnknown && !s.LimitExceeded
}
