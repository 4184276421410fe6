package badger

import (
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerDB manages the badgerhold store backing the embedded job store
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// Open opens the badger job database at path, creating it if needed
func Open(logger arbor.ILogger, path string) (*BadgerDB, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Options = badger.DefaultOptions(path)
	options.Logger = badgerLogger{logger}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Badger job database opened")

	return &BadgerDB{
		store:  store,
		logger: logger,
	}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

// badgerLogger forwards badger's internal log lines to arbor. Badger
// terminates each message with a newline that arbor would double up.
type badgerLogger struct {
	log arbor.ILogger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
