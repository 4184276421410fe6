package models

import (
	"fmt"
	"time"
)

// Job is one unit of work against a single archive path. Exactly one job
// per (InputPath, WorkKind) pair may be in a non-end-state at any time;
// concluded jobs are retained as the audit trail that gates re-enqueue.
type Job struct {
	ID          int64     `json:"id" badgerhold:"key"`
	InputPath   string    `json:"input_path"`
	WorkKind    WorkKind  `json:"work_kind"`
	State       State     `json:"state"`
	Created     time.Time `json:"created"`
	LastUpdated time.Time `json:"last_updated"`
}

// Active reports whether the job still has work outstanding for its kind,
// i.e. its state is not in the kind's end-state set.
func (j *Job) Active() bool {
	return !j.WorkKind.IsEndState(j.State)
}

// InProgress reports whether the job is in any state other than COMPLETED
// or CANCELLED, regardless of kind.
func (j *Job) InProgress() bool {
	return j.State != StateCompleted && j.State != StateCancelled
}

func (j *Job) String() string {
	return fmt.Sprintf("job %d [%s] %s (%s)", j.ID, j.WorkKind, j.InputPath, j.State)
}

// ONTMeta records the warehouse identity of the dataset behind a job. A
// job gains one row per warehouse record that maps to its archive path;
// merged flowcells therefore yield several rows, all consumed together by
// the annotate step.
type ONTMeta struct {
	ID             int64  `json:"id" badgerhold:"key"`
	JobID          int64  `json:"job_id"`
	ExperimentName string `json:"experiment_name"`
	InstrumentSlot int    `json:"instrument_slot"`
}

func (m ONTMeta) String() string {
	return fmt.Sprintf("%s slot %d", m.ExperimentName, m.InstrumentSlot)
}
