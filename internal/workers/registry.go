// -----------------------------------------------------------------------
// Registry - maps configured work kinds to their worker implementations
// -----------------------------------------------------------------------

package workers

import (
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/workbot/internal/common"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
	"github.com/ternarybob/workbot/internal/workers/ont"
)

// Worker class names accepted in the [workers.<kind>] config sections.
const (
	ClassRunData     = "ont_run_data"
	ClassRunMetadata = "ont_run_metadata"
)

// Registry holds one constructed worker per configured work kind. The kind
// set is closed at construction; configuration naming an unknown kind or
// class is rejected.
type Registry struct {
	logger  arbor.ILogger
	workers map[models.WorkKind]interfaces.Worker
}

// NewRegistry builds the workers declared in config.Workers, wiring each to
// the archive, job store and warehouse it needs.
func NewRegistry(logger arbor.ILogger, config *common.Config, store interfaces.JobStore, archive interfaces.Archive, wh interfaces.Warehouse) (*Registry, error) {
	r := &Registry{
		logger:  logger,
		workers: make(map[models.WorkKind]interfaces.Worker, len(config.Workers)),
	}

	for name, wc := range config.Workers {
		kind, err := models.ParseWorkKind(name)
		if err != nil {
			return nil, fmt.Errorf("workers.%s: %w", name, err)
		}

		var worker interfaces.Worker
		switch wc.Class {
		case ClassRunData:
			worker = ont.NewRunDataWorker(logger, archive, store, wc.Command, config.Archive.Root, config.Staging.Root)
		case ClassRunMetadata:
			worker = ont.NewRunMetadataWorker(logger, archive, store, wh)
		default:
			return nil, fmt.Errorf("workers.%s: unknown worker class %q", name, wc.Class)
		}

		if worker.Kind() != kind {
			return nil, fmt.Errorf("workers.%s: class %q serves kind %s", name, wc.Class, worker.Kind())
		}

		r.workers[kind] = worker
		logger.Debug().
			Str("kind", kind.String()).
			Str("class", wc.Class).
			Msg("Registered worker")
	}

	return r, nil
}

// Worker returns the worker registered for the kind.
func (r *Registry) Worker(kind models.WorkKind) (interfaces.Worker, error) {
	worker, ok := r.workers[kind]
	if !ok {
		return nil, fmt.Errorf("no worker registered for kind %s", kind)
	}
	return worker, nil
}

// Kinds returns the registered kinds in stable order.
func (r *Registry) Kinds() []models.WorkKind {
	kinds := make([]models.WorkKind, 0, len(r.workers))
	for kind := range r.workers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// EndStates returns the end-state set of a registered kind.
func (r *Registry) EndStates(kind models.WorkKind) []models.State {
	return kind.EndStates()
}
