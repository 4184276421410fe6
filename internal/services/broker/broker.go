// -----------------------------------------------------------------------
// Broker - discovers runs needing work and queues jobs for them
// -----------------------------------------------------------------------

package broker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
	"github.com/ternarybob/workbot/internal/workers/ont"
)

// Broker finds sequencing runs whose warehouse records changed recently,
// locates them in the archive by their instrument tags and queues one job
// per located collection. It queues jobs of a single kind; deployments
// wanting several kinds run one broker per kind.
type Broker struct {
	logger    arbor.ILogger
	store     interfaces.JobStore
	archive   interfaces.Archive
	warehouse interfaces.Warehouse
	kind      models.WorkKind
	zone      string
}

// NewBroker creates a broker queueing jobs of the given kind. zone narrows
// archive queries; empty means the archive client's default.
func NewBroker(logger arbor.ILogger, store interfaces.JobStore, archive interfaces.Archive, wh interfaces.Warehouse, kind models.WorkKind, zone string) *Broker {
	return &Broker{
		logger:    logger,
		store:     store,
		archive:   archive,
		warehouse: wh,
		kind:      kind,
		zone:      zone,
	}
}

// Kind returns the work kind this broker queues.
func (b *Broker) Kind() models.WorkKind {
	return b.kind
}

// RequestWork queues jobs for every archived run whose warehouse records
// changed at or after since. Returns the number of jobs added. Runs not yet
// present in the archive are skipped, as are runs with work already queued
// or concluded, so repeating a pass over the same window adds nothing.
func (b *Broker) RequestWork(ctx context.Context, since time.Time) (int, error) {
	passID := uuid.New().String()

	b.logger.Info().
		Str("pass_id", passID).
		Str("kind", b.kind.String()).
		Str("since", since.UTC().Format(time.RFC3339)).
		Msg("Starting discovery pass")

	slots, err := b.warehouse.RecentExperimentSlots(ctx, since)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, slot := range slots {
		added, err := b.addWorkForRun(ctx, slot)
		if err != nil {
			b.logger.Error().
				Err(err).
				Str("pass_id", passID).
				Str("experiment_name", slot.ExperimentName).
				Int("instrument_slot", slot.InstrumentSlot).
				Msg("Failed to add new work")
			return total, err
		}

		b.logger.Info().
			Str("pass_id", passID).
			Str("experiment_name", slot.ExperimentName).
			Int("instrument_slot", slot.InstrumentSlot).
			Int("added", added).
			Msg("Checked for work")
		total += added
	}

	b.logger.Info().
		Str("pass_id", passID).
		Int("added", total).
		Msg("Discovery pass complete")
	return total, nil
}

// addWorkForRun queues jobs for one run, identified by its experiment name
// and instrument slot. The run's instrument tags locate it in the archive;
// a run that is not both archived and tagged yields nothing.
func (b *Broker) addWorkForRun(ctx context.Context, slot models.ExperimentSlot) (int, error) {
	opts := interfaces.MetaQueryOptions{Collections: true, Zone: b.zone}
	found, err := b.archive.MetaQuery(ctx, opts, ont.RunAVUs(slot.ExperimentName, slot.InstrumentSlot)...)
	if err != nil {
		return 0, err
	}

	if len(found) == 0 {
		b.logger.Info().
			Str("experiment_name", slot.ExperimentName).
			Int("instrument_slot", slot.InstrumentSlot).
			Msg("No collection in the archive for this run")
		return 0, nil
	}

	added := 0
	for _, path := range found {
		job, err := b.store.InsertJob(ctx, path, b.kind)
		if err != nil {
			if errors.Is(err, interfaces.ErrJobConcluded) {
				b.logger.Warn().
					Err(err).
					Str("path", path).
					Msg("Work already concluded for this path")
				continue
			}
			return added, err
		}
		if job == nil {
			continue
		}

		if err := b.store.AttachMeta(ctx, job, slot.ExperimentName, slot.InstrumentSlot); err != nil {
			return added, err
		}

		b.logger.Info().
			Int64("job_id", job.ID).
			Str("path", path).
			Str("kind", b.kind.String()).
			Msg("Added job")
		added++
	}
	return added, nil
}
