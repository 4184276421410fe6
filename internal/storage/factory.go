package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/workbot/internal/common"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/storage/badger"
	"github.com/ternarybob/workbot/internal/storage/sqlite"
)

// NewJobStore opens the job store backend selected by config
func NewJobStore(logger arbor.ILogger, config *common.Config) (interfaces.JobStore, error) {
	switch config.Storage.Type {
	case "sqlite", "":
		return sqlite.NewJobStore(logger, config.Storage.URL)
	case "badger":
		return badger.NewJobStore(logger, config.Storage.URL)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (supported: sqlite, badger)", config.Storage.Type)
	}
}
