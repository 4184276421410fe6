package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/workbot/internal/common"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
	"github.com/ternarybob/workbot/internal/storage"
)

// scriptedWorker exercises the engine's state handling without real
// staging or subprocesses. Each step records its call and returns the
// scripted result.
type scriptedWorker struct {
	kind        models.WorkKind
	stageReady  bool
	stageErr    error
	analysisErr error
	archiveErr  error
	annotateErr error
	unstageErr  error
	calls       []string
}

var _ interfaces.Worker = (*scriptedWorker)(nil)

func (w *scriptedWorker) Kind() models.WorkKind { return w.kind }

func (w *scriptedWorker) StageInput(ctx context.Context, job *models.Job) (bool, error) {
	w.calls = append(w.calls, "stage")
	return w.stageReady, w.stageErr
}

func (w *scriptedWorker) RunAnalysis(ctx context.Context, job *models.Job) error {
	w.calls = append(w.calls, "analyse")
	return w.analysisErr
}

func (w *scriptedWorker) ArchiveOutput(ctx context.Context, job *models.Job) error {
	w.calls = append(w.calls, "archive")
	return w.archiveErr
}

func (w *scriptedWorker) Annotate(ctx context.Context, job *models.Job) error {
	w.calls = append(w.calls, "annotate")
	return w.annotateErr
}

func (w *scriptedWorker) Unstage(ctx context.Context, job *models.Job) error {
	w.calls = append(w.calls, "unstage")
	return w.unstageErr
}

func (w *scriptedWorker) Complete(ctx context.Context, job *models.Job) error {
	w.calls = append(w.calls, "complete")
	return nil
}

// singleWorker serves the same worker for every kind.
type singleWorker struct {
	worker interfaces.Worker
}

func (s singleWorker) Worker(kind models.WorkKind) (interfaces.Worker, error) {
	return s.worker, nil
}

func newTestEngine(t *testing.T, worker interfaces.Worker) (*Engine, interfaces.JobStore) {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Storage.URL = filepath.Join(t.TempDir(), "workbot.db")

	store, err := storage.NewJobStore(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewEngine(arbor.NewLogger(), store, singleWorker{worker}), store
}

func queueJob(t *testing.T, store interfaces.JobStore, path string) *models.Job {
	t.Helper()

	job, err := store.InsertJob(context.Background(), path, models.KindONTRunData)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func advance(t *testing.T, store interfaces.JobStore, job *models.Job, states ...models.State) {
	t.Helper()
	for _, state := range states {
		require.NoError(t, store.Transition(context.Background(), job, state))
	}
}

func TestEngine_RunFullLifecycle(t *testing.T) {
	worker := &scriptedWorker{kind: models.KindONTRunData, stageReady: true}
	engine, store := newTestEngine(t, worker)
	ctx := context.Background()

	job := queueJob(t, store, "/testZone/ont/run1")
	require.NoError(t, engine.Run(ctx, job))

	assert.Equal(t, models.StateCompleted, job.State)
	assert.Equal(t, []string{"stage", "analyse", "archive", "annotate", "unstage", "complete"}, worker.calls)

	// The store saw every transition, not just the final state
	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, got.State)
}

func TestEngine_InputNotReady(t *testing.T) {
	worker := &scriptedWorker{kind: models.KindONTRunData, stageReady: false}
	engine, store := newTestEngine(t, worker)
	ctx := context.Background()

	job := queueJob(t, store, "/testZone/ont/run1")

	// While the input is absent or incomplete the job just waits
	require.NoError(t, engine.Run(ctx, job))
	assert.Equal(t, models.StatePending, job.State)
	assert.Equal(t, []string{"stage"}, worker.calls)

	require.NoError(t, engine.Run(ctx, job))
	assert.Equal(t, models.StatePending, job.State)

	// Once the input is ready the next pass takes it all the way
	worker.stageReady = true
	require.NoError(t, engine.Run(ctx, job))
	assert.Equal(t, models.StateCompleted, job.State)
}

func TestEngine_StageErrorKeepsPending(t *testing.T) {
	worker := &scriptedWorker{
		kind:     models.KindONTRunData,
		stageErr: errors.New("archive unreachable"),
	}
	engine, store := newTestEngine(t, worker)
	ctx := context.Background()

	job := queueJob(t, store, "/testZone/ont/run1")
	err := engine.Run(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive unreachable")
	assert.Equal(t, models.StatePending, job.State)
}

func TestEngine_AnalysisFailure(t *testing.T) {
	worker := &scriptedWorker{
		kind:       models.KindONTRunData,
		stageReady: true,
		analysisErr: &interfaces.AnalysisError{
			Command:  "artic -i in -o out -v",
			ExitCode: 1,
			Stderr:   "segfault",
		},
	}
	engine, store := newTestEngine(t, worker)
	ctx := context.Background()

	job := queueJob(t, store, "/testZone/ont/run1")
	err := engine.Run(ctx, job)
	require.Error(t, err)

	var aerr *interfaces.AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 1, aerr.ExitCode)

	assert.Equal(t, models.StateFailed, job.State)
	assert.Equal(t, []string{"stage", "analyse"}, worker.calls)
}

func TestEngine_FailedJobNeverResumes(t *testing.T) {
	worker := &scriptedWorker{
		kind:        models.KindONTRunData,
		stageReady:  true,
		analysisErr: errors.New("out of disk"),
	}
	engine, store := newTestEngine(t, worker)
	ctx := context.Background()

	job := queueJob(t, store, "/testZone/ont/run1")
	require.Error(t, engine.Run(ctx, job))
	require.Equal(t, models.StateFailed, job.State)

	// Later passes leave a FAILED job alone even if the fault is gone
	worker.analysisErr = nil
	before := len(worker.calls)
	require.NoError(t, engine.Run(ctx, job))
	assert.Equal(t, models.StateFailed, job.State)
	assert.Equal(t, before, len(worker.calls))
}

func TestEngine_StepFailureResumesAtSameStep(t *testing.T) {
	worker := &scriptedWorker{
		kind:       models.KindONTRunData,
		stageReady: true,
		archiveErr: errors.New("quota exceeded"),
	}
	engine, store := newTestEngine(t, worker)
	ctx := context.Background()

	job := queueJob(t, store, "/testZone/ont/run1")
	err := engine.Run(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, models.StateSucceeded, job.State)

	// The next pass does not re-stage or re-analyse; it picks up at the
	// step that failed
	worker.archiveErr = nil
	before := len(worker.calls)
	require.NoError(t, engine.Run(ctx, job))
	assert.Equal(t, models.StateCompleted, job.State)
	assert.Equal(t, []string{"archive", "annotate", "unstage", "complete"}, worker.calls[before:])
}

func TestEngine_ResumeSkipsEarlierSteps(t *testing.T) {
	worker := &scriptedWorker{kind: models.KindONTRunData, stageReady: true}
	engine, store := newTestEngine(t, worker)
	ctx := context.Background()

	job := queueJob(t, store, "/testZone/ont/run1")
	advance(t, store, job, models.StateStaged, models.StateStarted, models.StateSucceeded, models.StateArchived)

	require.NoError(t, engine.Run(ctx, job))
	assert.Equal(t, models.StateCompleted, job.State)
	assert.Equal(t, []string{"annotate", "unstage", "complete"}, worker.calls)
}

func TestEngine_Cancel(t *testing.T) {
	tests := []struct {
		name        string
		states      []models.State
		wantUnstage bool
	}{
		{"pending has no scratch", nil, false},
		{"staged holds scratch", []models.State{models.StateStaged}, true},
		{"started leaves scratch to the next job", []models.State{models.StateStaged, models.StateStarted}, false},
		{"annotated holds scratch", []models.State{models.StateStaged, models.StateStarted, models.StateSucceeded, models.StateArchived, models.StateAnnotated}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worker := &scriptedWorker{kind: models.KindONTRunData}
			engine, store := newTestEngine(t, worker)
			ctx := context.Background()

			job := queueJob(t, store, "/testZone/ont/run1")
			advance(t, store, job, tt.states...)

			require.NoError(t, engine.Cancel(ctx, job))
			assert.Equal(t, models.StateCancelled, job.State)

			if tt.wantUnstage {
				assert.Equal(t, []string{"unstage"}, worker.calls)
			} else {
				assert.Empty(t, worker.calls)
			}
		})
	}
}

func TestEngine_CancelFailed(t *testing.T) {
	worker := &scriptedWorker{
		kind:        models.KindONTRunData,
		stageReady:  true,
		analysisErr: errors.New("broken"),
	}
	engine, store := newTestEngine(t, worker)
	ctx := context.Background()

	job := queueJob(t, store, "/testZone/ont/run1")
	require.Error(t, engine.Run(ctx, job))
	require.Equal(t, models.StateFailed, job.State)

	// Cancellation is the only way out of FAILED
	require.NoError(t, engine.Cancel(ctx, job))
	assert.Equal(t, models.StateCancelled, job.State)
}

func TestEngine_CancelTerminal(t *testing.T) {
	worker := &scriptedWorker{kind: models.KindONTRunData, stageReady: true}
	engine, store := newTestEngine(t, worker)
	ctx := context.Background()

	job := queueJob(t, store, "/testZone/ont/run1")
	require.NoError(t, engine.Run(ctx, job))
	require.Equal(t, models.StateCompleted, job.State)

	err := engine.Cancel(ctx, job)
	require.Error(t, err)

	var terr *models.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.StateCompleted, terr.From)
	assert.Equal(t, models.StateCancelled, terr.To)

	// Cancelling twice is also rejected
	cancelled := queueJob(t, store, "/testZone/ont/run2")
	require.NoError(t, engine.Cancel(ctx, cancelled))
	require.Error(t, engine.Cancel(ctx, cancelled))
}
