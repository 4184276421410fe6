// -----------------------------------------------------------------------
// Archive - contract for the content-addressed data archive
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/workbot/internal/models"
)

// ArchiveEntry is one item described by Archive.List.
type ArchiveEntry struct {
	Path       string       // absolute archive path
	Collection bool         // true for collections, false for data objects
	Checksum   string       // populated when opts.Checksums was set
	AVUs       []models.AVU // populated when opts.AVUs was set
}

// ListOptions control what Archive.List returns.
type ListOptions struct {
	Contents  bool // list immediate children instead of the item itself
	AVUs      bool // include metadata on each entry
	Checksums bool // include checksums on data objects
}

// MetaQueryOptions scope a metadata query.
type MetaQueryOptions struct {
	Collections bool   // match collections
	Objects     bool   // match data objects
	Zone        string // restrict the query to a zone, empty for the default
}

// Archive - interface to the data archive
//
// Paths are absolute archive paths. Implementations decide whether a path
// names a collection or a data object; callers never have to say which.
type Archive interface {
	// Exists reports whether path names a collection or data object.
	Exists(ctx context.Context, path string) (bool, error)

	// List describes path, or its immediate children when opts.Contents
	// is set and path is a collection.
	List(ctx context.Context, path string, opts ListOptions) ([]ArchiveEntry, error)

	// EnsureCollection creates the collection and any missing parents.
	EnsureCollection(ctx context.Context, path string) error

	// RemoveCollection removes a collection and its contents.
	RemoveCollection(ctx context.Context, path string) error

	// Get downloads a collection or data object recursively into the
	// local directory, verifying checksums on the way.
	Get(ctx context.Context, remotePath, localDir string) error

	// Put uploads a local file or directory tree into the collection,
	// registering checksums on the way.
	Put(ctx context.Context, localPath, remotePath string) error

	// Metadata returns the AVUs attached to path, in canonical order.
	Metadata(ctx context.Context, path string) ([]models.AVU, error)

	// MetaAdd attaches the AVUs not already present and returns how many
	// were newly added. Re-adding existing AVUs is not an error.
	MetaAdd(ctx context.Context, path string, avus ...models.AVU) (int, error)

	// MetaRemove detaches the AVUs that are present and returns how many
	// were removed. Removing absent AVUs is not an error.
	MetaRemove(ctx context.Context, path string, avus ...models.AVU) (int, error)

	// MetaSupersede replaces the current values of each given AVU's
	// attribute with the given value, attribute by attribute, and returns
	// how many AVUs were removed and added. When history is true a trail
	// AVU recording each superseded attribute's old values is attached.
	MetaSupersede(ctx context.Context, path string, history bool, avus ...models.AVU) (removed int, added int, err error)

	// MetaQuery returns the paths of the items carrying every given AVU.
	MetaQuery(ctx context.Context, opts MetaQueryOptions, avus ...models.AVU) ([]string, error)

	// Chmod sets the access level for a user or group on path.
	Chmod(ctx context.Context, path, level, owner string, recurse bool) error
}
