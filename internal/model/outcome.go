package model

import "time"

// State is a pipeline run state.
type State string

const (
	StateResolving  State = "RESOLVING"
	StateFiltering  State = "FILTERING"
	StateRetrieving State = "RETRIEVING"
	StateComposing  State = "COMPOSING"
	StateMutating   State = "MUTATING"
	StateSkipped    State = "SKIPPED"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSkipped || s == StateDone || s == StateFailed
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	RunID     string
	AccountID string
	State     State
	Reason    string // skip reason, set when State is SKIPPED
	MessageID string
	ThreadID  string
	Subject   string
	From      string
	DraftID   string
	Err       error
	Permanent bool   // only meaningful when State is FAILED
	Warning   string // set on partial success
	StartedAt time.Time
	EndedAt   time.Time
}

// Acknowledge reports whether the notification should be acknowledged to the
// push transport. Only transient failures ask for redelivery.
func (o Outcome) Acknowledge() bool {
	return o.State != StateFailed || o.Permanent
}

// ErrString returns the error text or "".
func (o Outcome) ErrString() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
