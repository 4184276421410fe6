package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
)

const selectJob = `
	SELECT w.id, w.input_path, w.work_type, s.name, w.created, w.last_updated
	FROM workinstance w
	JOIN state s ON s.id = w.state_id`

// JobStore implements SQLite storage for pipeline jobs
type JobStore struct {
	db     *DB
	logger arbor.ILogger
	mu     sync.Mutex
}

var _ interfaces.JobStore = (*JobStore)(nil)

// NewJobStore opens the database at path and ensures the schema exists
func NewJobStore(logger arbor.ILogger, path string) (interfaces.JobStore, error) {
	db, err := Open(logger, path)
	if err != nil {
		return nil, err
	}

	s := &JobStore{
		db:     db,
		logger: logger,
	}

	if err := s.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the tables and seeds the state dictionary. Both steps are
// idempotent, so calling it against a live database is harmless.
func (s *JobStore) Init(ctx context.Context) error {
	if _, err := s.db.DB().ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	for _, state := range models.AllStates {
		_, err := s.db.DB().ExecContext(ctx,
			`INSERT INTO state (name, description) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
			string(state), models.StateDescriptions[state])
		if err != nil {
			return fmt.Errorf("failed to seed state %s: %w", state, err)
		}
	}
	return nil
}

// InsertJob queues a PENDING job unless the path already has one of this
// kind that is either still in flight or concluded. The checks and the
// insert share one write transaction, so two racing enqueues cannot both
// pass the checks.
func (s *JobStore) InsertJob(ctx context.Context, inputPath string, kind models.WorkKind) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	concluded, err := countJobs(ctx, tx, inputPath, kind, kind.EndStates(), true)
	if err != nil {
		return nil, fmt.Errorf("failed to check end states: %w", err)
	}
	if concluded > 0 {
		return nil, fmt.Errorf("%s %s: %w", kind, inputPath, interfaces.ErrJobConcluded)
	}

	// Anything outside the end states and outside CANCELLED/COMPLETED is
	// still in flight and blocks a new job for the same path.
	settled := append([]models.State{}, kind.EndStates()...)
	for _, state := range []models.State{models.StateCancelled, models.StateCompleted} {
		if !kind.IsEndState(state) {
			settled = append(settled, state)
		}
	}
	inFlight, err := countJobs(ctx, tx, inputPath, kind, settled, false)
	if err != nil {
		return nil, fmt.Errorf("failed to check in-flight jobs: %w", err)
	}
	if inFlight > 0 {
		s.logger.Debug().Str("kind", kind.String()).Str("path", inputPath).Msg("Job already queued")
		return nil, nil
	}

	now := time.Now().UTC().Truncate(time.Second)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO workinstance (input_path, work_type, state_id, created, last_updated)
		VALUES (?, ?, (SELECT id FROM state WHERE name = ?), ?, ?)`,
		inputPath, string(kind), string(models.StatePending), now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read job id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job: %w", err)
	}

	s.logger.Debug().Int64("job", id).Str("kind", kind.String()).Str("path", inputPath).Msg("Job queued")
	return &models.Job{
		ID:          id,
		InputPath:   inputPath,
		WorkKind:    kind,
		State:       models.StatePending,
		Created:     now,
		LastUpdated: now,
	}, nil
}

// GetJob returns the job with the given id
func (s *JobStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	row := s.db.DB().QueryRowContext(ctx, selectJob+` WHERE w.id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return job, nil
}

// FindJobs returns the jobs for an input path and kind, ordered by id
func (s *JobStore) FindJobs(ctx context.Context, inputPath string, kind models.WorkKind, include []models.State, exclude []models.State) ([]*models.Job, error) {
	query := selectJob + ` WHERE w.input_path = ? AND w.work_type = ?`
	args := []any{inputPath, string(kind)}

	if len(include) > 0 {
		query += fmt.Sprintf(` AND s.name IN (%s)`, placeholders(len(include)))
		for _, state := range include {
			args = append(args, string(state))
		}
	}
	if len(exclude) > 0 {
		query += fmt.Sprintf(` AND s.name NOT IN (%s)`, placeholders(len(exclude)))
		for _, state := range exclude {
			args = append(args, string(state))
		}
	}
	query += ` ORDER BY w.id`

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// FindInProgress returns every job not yet COMPLETED or CANCELLED
func (s *JobStore) FindInProgress(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		selectJob+` WHERE s.name NOT IN (?, ?) ORDER BY w.id`,
		string(models.StateCompleted), string(models.StateCancelled))
	if err != nil {
		return nil, fmt.Errorf("failed to find in-progress jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Transition moves the job to the target state. The UPDATE is guarded on
// the expected current state, so a job moved by another process since it
// was read cannot be transitioned from stale knowledge.
func (s *JobStore) Transition(ctx context.Context, job *models.Job, to models.State) error {
	if !job.State.CanTransitionTo(to) {
		return &models.InvalidTransitionError{JobID: job.ID, From: job.State, To: to}
	}

	now := time.Now().UTC().Truncate(time.Second)
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE workinstance
		SET state_id = (SELECT id FROM state WHERE name = ?), last_updated = ?
		WHERE id = ? AND state_id = (SELECT id FROM state WHERE name = ?)`,
		string(to), now.Unix(), job.ID, string(job.State))
	if err != nil {
		return fmt.Errorf("failed to update job %d: %w", job.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		stored, err := s.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		return &models.InvalidTransitionError{JobID: job.ID, From: stored.State, To: to}
	}

	s.logger.Debug().Int64("job", job.ID).Str("from", job.State.String()).Str("to", to.String()).Msg("State transition")
	job.State = to
	job.LastUpdated = now
	return nil
}

// AttachMeta records a sequencing run identity against the job
func (s *JobStore) AttachMeta(ctx context.Context, job *models.Job, experimentName string, instrumentSlot int) error {
	if _, err := s.GetJob(ctx, job.ID); err != nil {
		return err
	}

	_, err := s.db.DB().ExecContext(ctx,
		`INSERT INTO ontmeta (workinstance_id, experiment_name, instrument_slot) VALUES (?, ?, ?)`,
		job.ID, experimentName, instrumentSlot)
	if err != nil {
		return fmt.Errorf("failed to attach metadata to job %d: %w", job.ID, err)
	}
	return nil
}

// MetaFor returns the run identities attached to the job
func (s *JobStore) MetaFor(ctx context.Context, job *models.Job) ([]models.ONTMeta, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT id, workinstance_id, experiment_name, instrument_slot FROM ontmeta WHERE workinstance_id = ? ORDER BY id`,
		job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata for job %d: %w", job.ID, err)
	}
	defer rows.Close()

	var metas []models.ONTMeta
	for rows.Next() {
		var meta models.ONTMeta
		if err := rows.Scan(&meta.ID, &meta.JobID, &meta.ExperimentName, &meta.InstrumentSlot); err != nil {
			return nil, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// Close closes the database connection
func (s *JobStore) Close() error {
	return s.db.Close()
}

// countJobs counts the jobs for (inputPath, kind) whose state name is in
// states (in = true) or outside states (in = false).
func countJobs(ctx context.Context, tx *sql.Tx, inputPath string, kind models.WorkKind, states []models.State, in bool) (int, error) {
	args := []any{inputPath, string(kind)}

	clause := ""
	switch {
	case len(states) == 0 && in:
		return 0, nil
	case len(states) > 0 && in:
		clause = fmt.Sprintf(` AND s.name IN (%s)`, placeholders(len(states)))
	case len(states) > 0 && !in:
		clause = fmt.Sprintf(` AND s.name NOT IN (%s)`, placeholders(len(states)))
	}
	for _, state := range states {
		args = append(args, string(state))
	}

	query := `
		SELECT COUNT(*) FROM workinstance w
		JOIN state s ON s.id = w.state_id
		WHERE w.input_path = ? AND w.work_type = ?` + clause

	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job     models.Job
		kind    string
		state   string
		created int64
		updated int64
	)
	if err := row.Scan(&job.ID, &job.InputPath, &kind, &state, &created, &updated); err != nil {
		return nil, err
	}
	job.WorkKind = models.WorkKind(kind)
	job.State = models.State(state)
	job.Created = time.Unix(created, 0).UTC()
	job.LastUpdated = time.Unix(updated, 0).UTC()
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
