// -----------------------------------------------------------------------
// RunDataWorker - stages a completed Oxford Nanopore run, executes the
// configured analysis command and archives the annotated output
// -----------------------------------------------------------------------

package ont

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	gopath "path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/workbot/internal/common"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
	"github.com/ternarybob/workbot/internal/warehouse"
)

// completionMarker is written by the instrument software as the last file
// of a run. Until it appears among the collection's immediate children the
// run is still being uploaded.
const completionMarker = "final_report.txt.gz"

// RunDataWorker owns the subtrees {stagingRoot}/{jobID}/ locally and
// {archiveRoot}/{jobID}/ in the archive. Staged input lands in input/,
// analysis results in output/.
type RunDataWorker struct {
	logger      arbor.ILogger
	archive     interfaces.Archive
	store       interfaces.JobStore
	command     string
	archiveRoot string
	stagingRoot string
}

var _ interfaces.Worker = (*RunDataWorker)(nil)

// NewRunDataWorker creates a worker for the ONTRunData kind. command is the
// analysis command template from configuration; archiveRoot and stagingRoot
// are the per-deployment result and scratch roots.
func NewRunDataWorker(logger arbor.ILogger, archive interfaces.Archive, store interfaces.JobStore, command, archiveRoot, stagingRoot string) *RunDataWorker {
	return &RunDataWorker{
		logger:      logger,
		archive:     archive,
		store:       store,
		command:     command,
		archiveRoot: archiveRoot,
		stagingRoot: stagingRoot,
	}
}

// Kind returns the work kind this worker serves.
func (w *RunDataWorker) Kind() models.WorkKind {
	return models.KindONTRunData
}

// StageInput downloads the run into local scratch once the input collection
// exists and carries the completion marker. Incomplete input is not an
// error; the job stays queued for a later pass.
func (w *RunDataWorker) StageInput(ctx context.Context, job *models.Job) (bool, error) {
	exists, err := w.archive.Exists(ctx, job.InputPath)
	if err != nil {
		return false, err
	}
	if !exists {
		w.logger.Info().
			Int64("job_id", job.ID).
			Str("path", job.InputPath).
			Msg("Input data not present in the archive yet")
		return false, nil
	}

	complete, err := w.inputComplete(ctx, job)
	if err != nil {
		return false, err
	}
	if !complete {
		w.logger.Info().
			Int64("job_id", job.ID).
			Str("path", job.InputPath).
			Msg("Input data not complete yet")
		return false, nil
	}

	jobDir := w.stagingDir(job)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return false, fmt.Errorf("creating staging directory: %w", err)
	}

	w.logger.Info().
		Int64("job_id", job.ID).
		Str("path", job.InputPath).
		Str("staging_dir", jobDir).
		Msg("Staging input data")

	if err := w.archive.Get(ctx, job.InputPath, jobDir); err != nil {
		return false, err
	}

	// The download lands under the collection's leaf name; move it to the
	// fixed path the analysis step expects.
	downloaded := filepath.Join(jobDir, gopath.Base(gopath.Clean(job.InputPath)))
	inputDir := w.inputDir(job)
	if err := os.RemoveAll(inputDir); err != nil {
		return false, fmt.Errorf("clearing staging input directory: %w", err)
	}
	if err := os.Rename(downloaded, inputDir); err != nil {
		return false, fmt.Errorf("renaming staged input: %w", err)
	}

	return true, nil
}

// RunAnalysis executes the configured command with the staged input and an
// output directory created for the job, working directory set to the
// latter. A non-zero exit becomes an AnalysisError carrying the captured
// stderr.
func (w *RunDataWorker) RunAnalysis(ctx context.Context, job *models.Job) error {
	if w.command == "" {
		return fmt.Errorf("no analysis command configured for %s", w.Kind())
	}

	outputDir := w.outputDir(job)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	args := strings.Fields(w.command)
	args = append(args, "-i", w.inputDir(job), "-o", outputDir, "-v")
	rendered := strings.Join(args, " ")

	w.logger.Info().
		Int64("job_id", job.ID).
		Str("command", rendered).
		Msg("Running analysis")

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = outputDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &interfaces.AnalysisError{
				Command:  rendered,
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return fmt.Errorf("running analysis command %q: %w", rendered, err)
	}

	w.logger.Info().
		Int64("job_id", job.ID).
		Dur("duration", time.Since(start)).
		Msg("Analysis succeeded")
	return nil
}

// ArchiveOutput uploads the analysis results into the job's archive
// collection and stamps it with provenance metadata.
func (w *RunDataWorker) ArchiveOutput(ctx context.Context, job *models.Job) error {
	dst := w.archivePath(job)

	w.logger.Info().
		Int64("job_id", job.ID).
		Str("path", dst).
		Msg("Archiving output data")

	if err := w.archive.EnsureCollection(ctx, dst); err != nil {
		return err
	}
	if err := w.archive.Put(ctx, w.outputDir(job), dst); err != nil {
		return err
	}

	creation := warehouse.MakeCreationMetadata(common.ServiceName, time.Now())
	if _, err := w.archive.MetaAdd(ctx, dst, creation...); err != nil {
		return err
	}
	return nil
}

// Annotate attaches the instrument tags of every run identity recorded for
// the job to the archived results.
func (w *RunDataWorker) Annotate(ctx context.Context, job *models.Job) error {
	metas, err := w.store.MetaFor(ctx, job)
	if err != nil {
		return err
	}

	dst := w.archivePath(job)
	for _, meta := range metas {
		w.logger.Debug().
			Int64("job_id", job.ID).
			Str("experiment_name", meta.ExperimentName).
			Int("instrument_slot", meta.InstrumentSlot).
			Msg("Annotating output data")

		if _, err := w.archive.MetaAdd(ctx, dst, RunAVUs(meta.ExperimentName, meta.InstrumentSlot)...); err != nil {
			w.logger.Error().
				Err(err).
				Int64("job_id", job.ID).
				Str("path", dst).
				Msg("Failed to annotate output data")
			return err
		}
	}
	return nil
}

// Unstage removes the job's local scratch space.
func (w *RunDataWorker) Unstage(ctx context.Context, job *models.Job) error {
	jobDir := w.stagingDir(job)

	w.logger.Info().
		Int64("job_id", job.ID).
		Str("staging_dir", jobDir).
		Msg("Unstaging input data")

	if err := os.RemoveAll(jobDir); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}
	return nil
}

// Complete performs final bookkeeping.
func (w *RunDataWorker) Complete(ctx context.Context, job *models.Job) error {
	w.logger.Info().
		Int64("job_id", job.ID).
		Str("path", job.InputPath).
		Msg("Work complete")
	return nil
}

// inputComplete reports whether the completion marker is present among the
// input collection's immediate children.
func (w *RunDataWorker) inputComplete(ctx context.Context, job *models.Job) (bool, error) {
	entries, err := w.archive.List(ctx, job.InputPath, interfaces.ListOptions{Contents: true})
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if !entry.Collection && strings.HasSuffix(entry.Path, completionMarker) {
			return true, nil
		}
	}
	return false, nil
}

func (w *RunDataWorker) stagingDir(job *models.Job) string {
	return filepath.Join(w.stagingRoot, strconv.FormatInt(job.ID, 10))
}

func (w *RunDataWorker) inputDir(job *models.Job) string {
	return filepath.Join(w.stagingDir(job), "input")
}

func (w *RunDataWorker) outputDir(job *models.Job) string {
	return filepath.Join(w.stagingDir(job), "output")
}

func (w *RunDataWorker) archivePath(job *models.Job) string {
	return gopath.Join(w.archiveRoot, strconv.FormatInt(job.ID, 10))
}
