package badger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStore implements the JobStore interface for Badger. Badger locks its
// directory to a single process, so the in-process mutex is enough to
// serialise the read-check-insert in InsertJob.
type JobStore struct {
	db       *BadgerDB
	logger   arbor.ILogger
	mu       sync.Mutex
	lastJob  int64
	lastMeta int64
}

var _ interfaces.JobStore = (*JobStore)(nil)

// NewJobStore opens the database directory at path
func NewJobStore(logger arbor.ILogger, path string) (interfaces.JobStore, error) {
	db, err := Open(logger, path)
	if err != nil {
		return nil, err
	}

	s := &JobStore{
		db:     db,
		logger: logger,
	}

	if err := s.loadSequences(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load id sequences: %w", err)
	}
	return s, nil
}

// loadSequences recovers the highest assigned ids so new records continue
// the sequence after a restart.
func (s *JobStore) loadSequences() error {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, nil); err != nil {
		return err
	}
	for _, job := range jobs {
		if job.ID > s.lastJob {
			s.lastJob = job.ID
		}
	}

	var metas []models.ONTMeta
	if err := s.db.Store().Find(&metas, nil); err != nil {
		return err
	}
	for _, meta := range metas {
		if meta.ID > s.lastMeta {
			s.lastMeta = meta.ID
		}
	}
	return nil
}

// Init is a no-op for Badger; the store is schemaless.
func (s *JobStore) Init(ctx context.Context) error {
	return nil
}

// InsertJob queues a PENDING job unless the path already has one of this
// kind that is either still in flight or concluded.
func (s *JobStore) InsertJob(ctx context.Context, inputPath string, kind models.WorkKind) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []models.Job
	query := badgerhold.Where("InputPath").Eq(inputPath).And("WorkKind").Eq(kind)
	if err := s.db.Store().Find(&existing, query); err != nil {
		return nil, fmt.Errorf("failed to find jobs: %w", err)
	}

	for _, job := range existing {
		if kind.IsEndState(job.State) {
			return nil, fmt.Errorf("%s %s: %w", kind, inputPath, interfaces.ErrJobConcluded)
		}
	}
	for _, job := range existing {
		if job.InProgress() {
			s.logger.Debug().Str("kind", kind.String()).Str("path", inputPath).Msg("Job already queued")
			return nil, nil
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	s.lastJob++
	job := &models.Job{
		ID:          s.lastJob,
		InputPath:   inputPath,
		WorkKind:    kind,
		State:       models.StatePending,
		Created:     now,
		LastUpdated: now,
	}
	if err := s.db.Store().Insert(job.ID, job); err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	s.logger.Debug().Int64("job", job.ID).Str("kind", kind.String()).Str("path", inputPath).Msg("Job queued")
	return job, nil
}

// GetJob returns the job with the given id
func (s *JobStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job %d not found", id)
		}
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return &job, nil
}

// FindJobs returns the jobs for an input path and kind, ordered by id
func (s *JobStore) FindJobs(ctx context.Context, inputPath string, kind models.WorkKind, include []models.State, exclude []models.State) ([]*models.Job, error) {
	var found []models.Job
	query := badgerhold.Where("InputPath").Eq(inputPath).And("WorkKind").Eq(kind)
	if err := s.db.Store().Find(&found, query); err != nil {
		return nil, fmt.Errorf("failed to find jobs: %w", err)
	}

	var jobs []*models.Job
	for i := range found {
		job := &found[i]
		if len(include) > 0 && !stateIn(job.State, include) {
			continue
		}
		if stateIn(job.State, exclude) {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// FindInProgress returns every job not yet COMPLETED or CANCELLED
func (s *JobStore) FindInProgress(ctx context.Context) ([]*models.Job, error) {
	var found []models.Job
	query := badgerhold.Where("State").Ne(models.StateCompleted).And("State").Ne(models.StateCancelled)
	if err := s.db.Store().Find(&found, query); err != nil {
		return nil, fmt.Errorf("failed to find in-progress jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(found))
	for i := range found {
		jobs = append(jobs, &found[i])
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

// Transition moves the job to the target state. The stored state is
// re-read under the lock, so a job moved elsewhere since it was read
// cannot be transitioned from stale knowledge.
func (s *JobStore) Transition(ctx context.Context, job *models.Job, to models.State) error {
	if !job.State.CanTransitionTo(to) {
		return &models.InvalidTransitionError{JobID: job.ID, From: job.State, To: to}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored models.Job
	if err := s.db.Store().Get(job.ID, &stored); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("job %d not found", job.ID)
		}
		return fmt.Errorf("failed to get job %d: %w", job.ID, err)
	}
	if stored.State != job.State {
		return &models.InvalidTransitionError{JobID: job.ID, From: stored.State, To: to}
	}

	now := time.Now().UTC().Truncate(time.Second)
	stored.State = to
	stored.LastUpdated = now
	if err := s.db.Store().Update(job.ID, &stored); err != nil {
		return fmt.Errorf("failed to update job %d: %w", job.ID, err)
	}

	s.logger.Debug().Int64("job", job.ID).Str("from", job.State.String()).Str("to", to.String()).Msg("State transition")
	job.State = to
	job.LastUpdated = now
	return nil
}

// AttachMeta records a sequencing run identity against the job
func (s *JobStore) AttachMeta(ctx context.Context, job *models.Job, experimentName string, instrumentSlot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored models.Job
	if err := s.db.Store().Get(job.ID, &stored); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("job %d not found", job.ID)
		}
		return fmt.Errorf("failed to get job %d: %w", job.ID, err)
	}

	s.lastMeta++
	meta := models.ONTMeta{
		ID:             s.lastMeta,
		JobID:          job.ID,
		ExperimentName: experimentName,
		InstrumentSlot: instrumentSlot,
	}
	if err := s.db.Store().Insert(meta.ID, &meta); err != nil {
		return fmt.Errorf("failed to attach metadata to job %d: %w", job.ID, err)
	}
	return nil
}

// MetaFor returns the run identities attached to the job
func (s *JobStore) MetaFor(ctx context.Context, job *models.Job) ([]models.ONTMeta, error) {
	var metas []models.ONTMeta
	if err := s.db.Store().Find(&metas, badgerhold.Where("JobID").Eq(job.ID)); err != nil {
		return nil, fmt.Errorf("failed to read metadata for job %d: %w", job.ID, err)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas, nil
}

// Close closes the database connection
func (s *JobStore) Close() error {
	return s.db.Close()
}

func stateIn(state models.State, states []models.State) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
