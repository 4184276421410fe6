// -----------------------------------------------------------------------
// RunMetadataWorker - refreshes sample and study metadata on an archived
// Oxford Nanopore run from the tracking warehouse
// -----------------------------------------------------------------------

package ont

import (
	"context"
	"fmt"
	gopath "path"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
	"github.com/ternarybob/workbot/internal/warehouse"
)

// RunMetadataWorker annotates the raw run data in place; there is nothing
// to stage, analyse or archive, so every step except Annotate only advances
// the state machine.
type RunMetadataWorker struct {
	logger    arbor.ILogger
	archive   interfaces.Archive
	store     interfaces.JobStore
	warehouse interfaces.Warehouse
}

var _ interfaces.Worker = (*RunMetadataWorker)(nil)

// NewRunMetadataWorker creates a worker for the ONTRunMetadataUpdate kind.
func NewRunMetadataWorker(logger arbor.ILogger, archive interfaces.Archive, store interfaces.JobStore, wh interfaces.Warehouse) *RunMetadataWorker {
	return &RunMetadataWorker{
		logger:    logger,
		archive:   archive,
		store:     store,
		warehouse: wh,
	}
}

// Kind returns the work kind this worker serves.
func (w *RunMetadataWorker) Kind() models.WorkKind {
	return models.KindONTRunMetadataUpdate
}

// StageInput has nothing to stage.
func (w *RunMetadataWorker) StageInput(ctx context.Context, job *models.Job) (bool, error) {
	return true, nil
}

// RunAnalysis has nothing to run.
func (w *RunMetadataWorker) RunAnalysis(ctx context.Context, job *models.Job) error {
	return nil
}

// ArchiveOutput has nothing to archive.
func (w *RunMetadataWorker) ArchiveOutput(ctx context.Context, job *models.Job) error {
	return nil
}

// Annotate refreshes the metadata on the run collection. The top collection
// gains the instrument tags; each de-plexed barcode sub-collection gains its
// tag index plus the study and sample tags of its flowcell row. A run with
// a single un-tagged library carries the study and sample tags on the top
// collection itself.
func (w *RunMetadataWorker) Annotate(ctx context.Context, job *models.Job) error {
	metas, err := w.store.MetaFor(ctx, job)
	if err != nil {
		return err
	}
	if len(metas) != 1 {
		return fmt.Errorf("metadata update job %d requires exactly one run identity, found %d", job.ID, len(metas))
	}
	meta := metas[0]

	w.logger.Debug().
		Int64("job_id", job.ID).
		Str("experiment_name", meta.ExperimentName).
		Int("instrument_slot", meta.InstrumentSlot).
		Msg("Searching the warehouse for flowcell information")

	if _, err := w.archive.MetaAdd(ctx, job.InputPath, RunAVUs(meta.ExperimentName, meta.InstrumentSlot)...); err != nil {
		return err
	}

	flowcells, err := w.warehouse.FlowcellsFor(ctx, meta.ExperimentName, meta.InstrumentSlot)
	if err != nil {
		return err
	}

	for i := range flowcells {
		fc := &flowcells[i]
		if fc.Multiplexed() {
			if err := w.annotateBarcode(ctx, job, fc); err != nil {
				return err
			}
			continue
		}
		// A single un-tagged library has no barcode sub-collections; its
		// tags belong on the run collection.
		if err := w.annotateRun(ctx, job, fc); err != nil {
			return err
		}
	}
	return nil
}

// Unstage has nothing to remove.
func (w *RunMetadataWorker) Unstage(ctx context.Context, job *models.Job) error {
	return nil
}

// Complete performs final bookkeeping.
func (w *RunMetadataWorker) Complete(ctx context.Context, job *models.Job) error {
	w.logger.Info().
		Int64("job_id", job.ID).
		Str("path", job.InputPath).
		Msg("Metadata update complete")
	return nil
}

// annotateBarcode tags the barcode sub-collection named by the de-plexers
// (Guppy, qcat) for the flowcell's tag identifier.
func (w *RunMetadataWorker) annotateBarcode(ctx context.Context, job *models.Job, fc *models.Flowcell) error {
	bpath := gopath.Join(job.InputPath, fmt.Sprintf("barcode%02d", fc.TagIdentifier))

	w.logger.Debug().
		Int64("job_id", job.ID).
		Str("path", bpath).
		Int("tag_identifier", fc.TagIdentifier).
		Msg("Annotating barcode collection")

	if _, err := w.archive.MetaAdd(ctx, bpath, warehouse.MakeTagIndexMetadata(fc.TagIdentifier)); err != nil {
		return err
	}
	if _, err := w.archive.MetaAdd(ctx, bpath, warehouse.MakeStudyMetadata(fc.Study)...); err != nil {
		return err
	}
	if _, err := w.archive.MetaAdd(ctx, bpath, warehouse.MakeSampleMetadata(fc.Sample)...); err != nil {
		return err
	}
	return nil
}

func (w *RunMetadataWorker) annotateRun(ctx context.Context, job *models.Job, fc *models.Flowcell) error {
	w.logger.Debug().
		Int64("job_id", job.ID).
		Str("path", job.InputPath).
		Msg("Annotating run collection")

	if _, err := w.archive.MetaAdd(ctx, job.InputPath, warehouse.MakeStudyMetadata(fc.Study)...); err != nil {
		return err
	}
	if _, err := w.archive.MetaAdd(ctx, job.InputPath, warehouse.MakeSampleMetadata(fc.Sample)...); err != nil {
		return err
	}
	return nil
}
