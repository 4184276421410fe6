package interfaces

import (
	"context"
	"fmt"

	"github.com/ternarybob/workbot/internal/models"
)

// Worker - pipeline step bodies for one work kind
//
// A worker implements what each pipeline step does; the engine owns when
// steps run and how job state moves. Step bodies must be safe to re-run
// after a partial failure, because the engine retries jobs on later passes.
type Worker interface {
	// Kind returns the work kind this worker serves.
	Kind() models.WorkKind

	// StageInput fetches the dataset into local scratch space. It returns
	// false with a nil error when the input does not exist yet or is not
	// complete yet, in which case the engine leaves the job PENDING for a
	// later pass.
	StageInput(ctx context.Context, job *models.Job) (bool, error)

	// RunAnalysis performs the work of the job.
	RunAnalysis(ctx context.Context, job *models.Job) error

	// ArchiveOutput copies analysis results back to the archive.
	ArchiveOutput(ctx context.Context, job *models.Job) error

	// Annotate attaches metadata to the archived results.
	Annotate(ctx context.Context, job *models.Job) error

	// Unstage removes the job's local scratch space.
	Unstage(ctx context.Context, job *models.Job) error

	// Complete performs final bookkeeping once a job has unstaged.
	Complete(ctx context.Context, job *models.Job) error
}

// AnalysisError reports an analysis subprocess that ran and failed. The
// engine turns it into a FAILED transition rather than aborting the pass.
type AnalysisError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis command %q exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
}
