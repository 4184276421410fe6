// -----------------------------------------------------------------------
// Engine - drives jobs through the guarded pipeline steps
// -----------------------------------------------------------------------

package pipeline

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
)

// WorkerSource resolves the worker serving a work kind. The workers
// package's Registry satisfies it.
type WorkerSource interface {
	Worker(kind models.WorkKind) (interfaces.Worker, error)
}

// Engine executes the pipeline steps of a job in order, each conditional on
// the job being in the step's precondition state. Steps whose precondition
// does not match are skipped, which is what makes Run resumable: a job that
// previously stopped part-way picks up at whichever step matches its
// current state.
type Engine struct {
	logger  arbor.ILogger
	store   interfaces.JobStore
	workers WorkerSource
}

// NewEngine creates a pipeline engine over the given store and workers.
func NewEngine(logger arbor.ILogger, store interfaces.JobStore, workers WorkerSource) *Engine {
	return &Engine{
		logger:  logger,
		store:   store,
		workers: workers,
	}
}

// Run advances the job as far as it can go in one pass. A job whose input
// is not ready stays PENDING without error. Any error other than an
// analysis failure leaves the job in its current state for the next pass
// to retry.
func (e *Engine) Run(ctx context.Context, job *models.Job) error {
	worker, err := e.workers.Worker(job.WorkKind)
	if err != nil {
		return err
	}

	if err := e.stage(ctx, job, worker); err != nil {
		return err
	}
	if err := e.analyse(ctx, job, worker); err != nil {
		return err
	}
	if err := e.step(ctx, job, models.StateSucceeded, models.StateArchived, func(ctx context.Context) error {
		return worker.ArchiveOutput(ctx, job)
	}); err != nil {
		return err
	}
	if err := e.step(ctx, job, models.StateArchived, models.StateAnnotated, func(ctx context.Context) error {
		return worker.Annotate(ctx, job)
	}); err != nil {
		return err
	}
	if err := e.step(ctx, job, models.StateAnnotated, models.StateUnstaged, func(ctx context.Context) error {
		return worker.Unstage(ctx, job)
	}); err != nil {
		return err
	}
	return e.step(ctx, job, models.StateUnstaged, models.StateCompleted, func(ctx context.Context) error {
		return worker.Complete(ctx, job)
	})
}

// Cancel moves the job to CANCELLED, removing its local scratch first when
// the current state says scratch exists. Cancelling a job in a terminal
// state returns an InvalidTransitionError.
func (e *Engine) Cancel(ctx context.Context, job *models.Job) error {
	worker, err := e.workers.Worker(job.WorkKind)
	if err != nil {
		return err
	}

	if job.State == models.StateStaged || job.State == models.StateAnnotated {
		if err := worker.Unstage(ctx, job); err != nil {
			return err
		}
	}

	if err := e.store.Transition(ctx, job, models.StateCancelled); err != nil {
		return err
	}

	e.logger.Info().
		Int64("job_id", job.ID).
		Str("path", job.InputPath).
		Msg("Cancelled job")
	return nil
}

// step runs body when the job is in pre, committing the move to post only
// after the body succeeds. A body error leaves the state untouched.
func (e *Engine) step(ctx context.Context, job *models.Job, pre, post models.State, body func(context.Context) error) error {
	if job.State != pre {
		return nil
	}
	if err := body(ctx); err != nil {
		return err
	}
	return e.store.Transition(ctx, job, post)
}

// stage differs from the other steps in that the worker may report the
// input is not ready, which is not an error: the job stays PENDING.
func (e *Engine) stage(ctx context.Context, job *models.Job, worker interfaces.Worker) error {
	if job.State != models.StatePending {
		return nil
	}

	ready, err := worker.StageInput(ctx, job)
	if err != nil {
		return err
	}
	if !ready {
		e.logger.Debug().
			Int64("job_id", job.ID).
			Str("path", job.InputPath).
			Msg("Input not ready; job stays queued")
		return nil
	}

	return e.store.Transition(ctx, job, models.StateStaged)
}

// analyse commits STARTED before running the body so that a failure has a
// state to fall to. A body error moves the job to FAILED and is returned
// to the caller.
func (e *Engine) analyse(ctx context.Context, job *models.Job, worker interfaces.Worker) error {
	if job.State != models.StateStaged {
		return nil
	}

	if err := e.store.Transition(ctx, job, models.StateStarted); err != nil {
		return err
	}

	if err := worker.RunAnalysis(ctx, job); err != nil {
		e.logger.Error().
			Err(err).
			Int64("job_id", job.ID).
			Str("path", job.InputPath).
			Msg("Analysis failed")

		if terr := e.store.Transition(ctx, job, models.StateFailed); terr != nil {
			return terr
		}
		return err
	}

	return e.store.Transition(ctx, job, models.StateSucceeded)
}
