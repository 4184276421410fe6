package models

import "fmt"

// WorkKind identifies one pipeline specialisation. The set is closed; the
// registry refuses configuration naming any other value.
type WorkKind string

const (
	// KindONTRunData stages a completed Oxford Nanopore run, executes the
	// configured analysis command and archives the output.
	KindONTRunData WorkKind = "ONTRunData"

	// KindONTRunMetadataUpdate re-annotates an archived run with
	// sample and study metadata drawn from the warehouse.
	KindONTRunMetadataUpdate WorkKind = "ONTRunMetadataUpdate"
)

// AllWorkKinds lists every registered kind.
var AllWorkKinds = []WorkKind{
	KindONTRunData,
	KindONTRunMetadataUpdate,
}

// endStates maps each kind to the states that make an (inputPath, kind)
// pair ineligible for re-enqueue. Completion is terminal for run data but
// not for metadata updates, which may be re-run as warehouse data changes.
var endStates = map[WorkKind][]State{
	KindONTRunData:           {StateCompleted, StateCancelled},
	KindONTRunMetadataUpdate: {StateCancelled},
}

// ParseWorkKind converts a wire string into a WorkKind.
func ParseWorkKind(s string) (WorkKind, error) {
	k := WorkKind(s)
	if _, ok := endStates[k]; !ok {
		return "", fmt.Errorf("unknown work kind %q", s)
	}
	return k, nil
}

// String returns the wire identity of the kind.
func (k WorkKind) String() string {
	return string(k)
}

// EndStates returns the end-state set for the kind.
func (k WorkKind) EndStates() []State {
	return endStates[k]
}

// IsEndState reports whether s belongs to the kind's end-state set.
func (k WorkKind) IsEndState(s State) bool {
	for _, e := range endStates[k] {
		if e == s {
			return true
		}
	}
	return false
}
