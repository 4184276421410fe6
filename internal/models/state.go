// -----------------------------------------------------------------------
// State - the closed dictionary of job lifecycle states and the legal
// transitions between them
// -----------------------------------------------------------------------

package models

import "fmt"

// State identifies one member of the job lifecycle dictionary. The string
// value is the wire identity persisted in the state table; it must never
// change once a database has been initialised.
type State string

const (
	StatePending   State = "PENDING"
	StateStaged    State = "STAGED"
	StateStarted   State = "STARTED"
	StateSucceeded State = "SUCCEEDED"
	StateArchived  State = "ARCHIVED"
	StateAnnotated State = "ANNOTATED"
	StateUnstaged  State = "UNSTAGED"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// AllStates lists every member in seeding order. The state table is
// populated from this slice exactly once, by the init command.
var AllStates = []State{
	StatePending,
	StateStaged,
	StateStarted,
	StateSucceeded,
	StateArchived,
	StateAnnotated,
	StateUnstaged,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

// StateDescriptions maps each state to its human-readable description,
// stored alongside the name at initialisation.
var StateDescriptions = map[State]string{
	StatePending:   "Pending any action",
	StateStaged:    "Work data have been staged",
	StateStarted:   "Work has started",
	StateSucceeded: "Work was done successfully",
	StateArchived:  "Work data have been archived",
	StateAnnotated: "Work data have been annotated",
	StateUnstaged:  "Work data have been unstaged",
	StateCompleted: "All actions are complete",
	StateFailed:    "Work has failed",
	StateCancelled: "Work has been cancelled",
}

// Transitions is the legal state transition table. A move from key to one
// of the listed values is permitted; anything else is an error. COMPLETED
// and CANCELLED have no outgoing transitions.
var Transitions = map[State][]State{
	StatePending:   {StateStaged, StateCancelled},
	StateStaged:    {StateStarted, StateUnstaged, StateCancelled},
	StateStarted:   {StateSucceeded, StateFailed, StateCancelled},
	StateSucceeded: {StateArchived, StateCancelled},
	StateArchived:  {StateAnnotated, StateCancelled},
	StateAnnotated: {StateUnstaged, StateCancelled},
	StateUnstaged:  {StateCompleted, StateCancelled},
	StateFailed:    {StateCancelled},
	StateCompleted: {},
	StateCancelled: {},
}

// String returns the wire identity of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a member of the state dictionary.
func (s State) Valid() bool {
	_, ok := StateDescriptions[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions at all.
func (s State) Terminal() bool {
	return len(Transitions[s]) == 0
}

// CanTransitionTo reports whether the move from s to target appears in the
// transition table.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range Transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports an attempt to move a job between two
// states the transition table does not connect.
type InvalidTransitionError struct {
	JobID int64
	From  State
	To    State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s for job %d", e.From, e.To, e.JobID)
}
