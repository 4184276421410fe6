package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/workbot/internal/models"
)

// Warehouse - read-only interface to the sequencing tracking database
type Warehouse interface {
	// RecentExperimentSlots returns the distinct (experiment name,
	// instrument slot) pairs whose flowcell rows changed at or after
	// since, ordered by experiment name then slot.
	RecentExperimentSlots(ctx context.Context, since time.Time) ([]models.ExperimentSlot, error)

	// FlowcellsFor returns the flowcell rows for one experiment slot with
	// sample and study joined, ordered by tag identifier.
	FlowcellsFor(ctx context.Context, experimentName string, instrumentSlot int) ([]models.Flowcell, error)

	// Close releases the underlying connection.
	Close() error
}
