package relay

import (
	"go.uber.org/atomic"
)

// State is the per-URL connection bookkeeping. All fields are atomics so the
// subscription loop, publisher and dashboard can touch them without a lock.
type State struct {
	URL               string
	Connected         atomic.Bool
	LastSeen          atomic.Int64 // unix ms of last received event
	MessagesIn        atomic.Int64
	MessagesOut       atomic.Int64
	Errors            atomic.Int64
	LastError         atomic.String
	ReconnectAttempts atomic.Int32
	PermanentlyFailed atomic.Bool
}

// Snapshot is the JSON-friendly copy of a State.
type Snapshot struct {
	URL               string `json:"url"`
	Connected         bool   `json:"connected"`
	LastSeen          int64  `json:"last_seen"`
	MessagesIn        int64  `json:"messages_in"`
	MessagesOut       int64  `json:"messages_out"`
	Errors            int64  `json:"errors"`
	LastError         string `json:"last_error,omitempty"`
	ReconnectAttempts int32  `json:"reconnect_attempts"`
	PermanentlyFailed bool   `json:"permanently_failed"`
}

func (s *State) snapshot() Snapshot {
	return Snapshot{
		URL:               s.URL,
		Connected:         s.Connected.Load(),
		LastSeen:          s.LastSeen.Load(),
		MessagesIn:        s.MessagesIn.Load(),
		MessagesOut:       s.MessagesOut.Load(),
		Errors:            s.Errors.Load(),
		LastError:         s.LastError.Load(),
		ReconnectAttempts: s.ReconnectAttempts.Load(),
		PermanentlyFailed: s.PermanentlyFailed.Load(),
	}
}

func (s *State) recordError(err error) {
	s.Errors.Inc()
	s.LastError.Store(err.Error())
}
