package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/workbot/internal/models"
)

// ErrJobConcluded is returned by InsertJob when the input path already has a
// job of the requested kind in one of that kind's end states. Concluded
// datasets are never re-queued automatically.
var ErrJobConcluded = errors.New("work for this input path has already concluded")

// JobStore - interface for job scheduling state persistence
type JobStore interface {
	// Init creates the schema and seeds the state reference rows.
	// Safe to call on an already initialised store.
	Init(ctx context.Context) error

	// InsertJob queues a new PENDING job for the input path. If a job of
	// the same kind already exists for the path and is not in one of the
	// kind's end states, nothing is inserted and (nil, nil) is returned.
	// If one exists in an end state, ErrJobConcluded is returned.
	InsertJob(ctx context.Context, inputPath string, kind models.WorkKind) (*models.Job, error)

	// GetJob returns the job with the given identifier.
	GetJob(ctx context.Context, id int64) (*models.Job, error)

	// FindJobs returns the jobs for an input path and kind, ordered by id.
	// When include is non-empty only jobs in those states are returned;
	// jobs in any exclude state are always dropped.
	FindJobs(ctx context.Context, inputPath string, kind models.WorkKind, include []models.State, exclude []models.State) ([]*models.Job, error)

	// FindInProgress returns every job not yet COMPLETED or CANCELLED,
	// ordered by id.
	FindInProgress(ctx context.Context) ([]*models.Job, error)

	// Transition moves the job to the target state after validating the
	// move against the transition table. On success the job's State and
	// LastUpdated fields are updated in place.
	Transition(ctx context.Context, job *models.Job, to models.State) error

	// AttachMeta records a sequencing run identity against the job.
	AttachMeta(ctx context.Context, job *models.Job, experimentName string, instrumentSlot int) error

	// MetaFor returns the run identities attached to the job.
	MetaFor(ctx context.Context, job *models.Job) ([]models.ONTMeta, error)

	// Close releases the underlying store.
	Close() error
}
