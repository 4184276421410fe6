package models

import "testing"

func TestJob_Active(t *testing.T) {
	tests := []struct {
		name   string
		kind   WorkKind
		state  State
		active bool
	}{
		{"pending run data", KindONTRunData, StatePending, true},
		{"failed run data", KindONTRunData, StateFailed, true},
		{"completed run data", KindONTRunData, StateCompleted, false},
		{"cancelled run data", KindONTRunData, StateCancelled, false},
		{"completed metadata update", KindONTRunMetadataUpdate, StateCompleted, true},
		{"cancelled metadata update", KindONTRunMetadataUpdate, StateCancelled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{ID: 1, WorkKind: tt.kind, State: tt.state}
			if got := job.Active(); got != tt.active {
				t.Errorf("Active(): got %v, want %v", got, tt.active)
			}
		})
	}
}

func TestJob_InProgress(t *testing.T) {
	for _, s := range AllStates {
		job := &Job{ID: 1, WorkKind: KindONTRunData, State: s}
		want := s != StateCompleted && s != StateCancelled
		if got := job.InProgress(); got != want {
			t.Errorf("InProgress() in %s: got %v, want %v", s, got, want)
		}
	}
}
