// -----------------------------------------------------------------------
// archivetest - in-memory archive for tests
// -----------------------------------------------------------------------

// Package archivetest provides an in-memory stand-in for the data archive
// so that workers, the broker and the pipeline can be tested without a
// baton process or an archive server. It mirrors the real client's
// observable behaviour: leaf-name transfer semantics, client-side
// metadata diffs and the not-exist error code.
package archivetest

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	gopath "path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/workbot/internal/archive"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
)

// node is one item in the simulated archive tree. A collection has
// children, a data object has content.
type node struct {
	collection bool
	children   map[string]*node
	content    []byte
	avus       map[models.AVU]struct{}
	access     map[string]string // owner -> level
}

func newNode(collection bool) *node {
	n := &node{
		collection: collection,
		avus:       make(map[models.AVU]struct{}),
		access:     make(map[string]string),
	}
	if collection {
		n.children = make(map[string]*node)
	}
	return n
}

// Server is an in-memory interfaces.Archive. The zero value is not
// usable; create one with New.
type Server struct {
	mu   sync.Mutex
	root *node
}

var _ interfaces.Archive = (*Server)(nil)

// New returns an empty archive containing only the root collection.
func New() *Server {
	return &Server{root: newNode(true)}
}

// AddCollection creates a collection and any missing parents. It is a
// fixture helper and panics if the path runs through a data object.
func (s *Server) AddCollection(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(path)
}

// AddObject creates a data object with the given content, creating any
// missing parent collections. An existing object at the path is
// replaced.
func (s *Server) AddObject(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.ensure(gopath.Dir(path))
	leaf := gopath.Base(path)
	obj := newNode(false)
	obj.content = append([]byte(nil), content...)
	parent.children[leaf] = obj
}

// Object returns a copy of a data object's content and whether the path
// names a data object.
func (s *Server) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lookup(path)
	if n == nil || n.collection {
		return nil, false
	}
	return append([]byte(nil), n.content...), true
}

// AccessFor returns the access level recorded for an owner on a path,
// or the empty string when none was set.
func (s *Server) AccessFor(path, owner string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lookup(path)
	if n == nil {
		return ""
	}
	return n.access[owner]
}

// Exists implements interfaces.Archive.
func (s *Server) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(path) != nil, nil
}

// List implements interfaces.Archive.
func (s *Server) List(ctx context.Context, path string, opts interfaces.ListOptions) ([]interfaces.ArchiveEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lookup(path)
	if n == nil {
		return nil, notExist("list", path)
	}

	if opts.Contents && n.collection {
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)

		entries := make([]interfaces.ArchiveEntry, 0, len(names))
		for _, name := range names {
			entries = append(entries, entryFor(n.children[name], gopath.Join(clean(path), name), opts))
		}
		return entries, nil
	}

	return []interfaces.ArchiveEntry{entryFor(n, clean(path), opts)}, nil
}

// EnsureCollection implements interfaces.Archive.
func (s *Server) EnsureCollection(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.root
	for _, part := range split(path) {
		next, ok := cur.children[part]
		if !ok {
			next = newNode(true)
			cur.children[part] = next
		}
		if !next.collection {
			return &archive.ClientError{Op: "imkdir", Path: path, Message: "path is a data object"}
		}
		cur = next
	}
	return nil
}

// RemoveCollection implements interfaces.Archive.
func (s *Server) RemoveCollection(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := split(path)
	if len(parts) == 0 {
		return &archive.ClientError{Op: "irm", Path: path, Message: "cannot remove the root collection"}
	}

	parent := s.lookup(gopath.Dir(clean(path)))
	if parent == nil {
		return notExist("irm", path)
	}
	leaf := parts[len(parts)-1]
	n, ok := parent.children[leaf]
	if !ok {
		return notExist("irm", path)
	}
	if !n.collection {
		return &archive.ClientError{Op: "irm", Path: path, Message: "path is a data object"}
	}
	delete(parent.children, leaf)
	return nil
}

// Get implements interfaces.Archive. As with the real client, the
// remote item lands inside localDir under its own leaf name.
func (s *Server) Get(ctx context.Context, remotePath, localDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lookup(remotePath)
	if n == nil {
		return notExist("iget", remotePath)
	}
	return writeLocal(n, filepath.Join(localDir, gopath.Base(clean(remotePath))))
}

// Put implements interfaces.Archive. The local file or directory lands
// inside the remote collection under its own leaf name.
func (s *Server) Put(ctx context.Context, localPath, remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.lookup(remotePath)
	if coll == nil {
		return notExist("iput", remotePath)
	}
	if !coll.collection {
		return &archive.ClientError{Op: "iput", Path: remotePath, Message: "destination is a data object"}
	}

	child, err := readLocal(localPath)
	if err != nil {
		return &archive.ClientError{Op: "iput", Path: localPath, Message: err.Error()}
	}
	coll.children[filepath.Base(localPath)] = child
	return nil
}

// Metadata implements interfaces.Archive.
func (s *Server) Metadata(ctx context.Context, path string) ([]models.AVU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lookup(path)
	if n == nil {
		return nil, notExist("list", path)
	}
	return sortedAVUs(n), nil
}

// MetaAdd implements interfaces.Archive.
func (s *Server) MetaAdd(ctx context.Context, path string, avus ...models.AVU) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lookup(path)
	if n == nil {
		return 0, notExist("metamod", path)
	}

	added := 0
	for _, avu := range normalizeAll(avus) {
		if _, ok := n.avus[avu]; !ok {
			n.avus[avu] = struct{}{}
			added++
		}
	}
	return added, nil
}

// MetaRemove implements interfaces.Archive.
func (s *Server) MetaRemove(ctx context.Context, path string, avus ...models.AVU) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lookup(path)
	if n == nil {
		return 0, notExist("metamod", path)
	}

	removed := 0
	for _, avu := range normalizeAll(avus) {
		if _, ok := n.avus[avu]; ok {
			delete(n.avus, avu)
			removed++
		}
	}
	return removed, nil
}

// MetaSupersede implements interfaces.Archive using the same
// attribute-by-attribute diff as the real client.
func (s *Server) MetaSupersede(ctx context.Context, path string, history bool, avus ...models.AVU) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lookup(path)
	if n == nil {
		return 0, 0, notExist("metamod", path)
	}
	current := sortedAVUs(n)

	desired := make(map[string][]models.AVU)
	var attrs []string
	for _, avu := range normalizeAll(avus) {
		key := avu.WireAttribute()
		if _, ok := desired[key]; !ok {
			attrs = append(attrs, key)
		}
		desired[key] = append(desired[key], avu)
	}
	sort.Strings(attrs)

	now := time.Now().UTC()
	removed, added := 0, 0
	for _, attr := range attrs {
		var old []models.AVU
		for _, cur := range current {
			if cur.WireAttribute() == attr {
				old = append(old, cur)
			}
		}
		group := desired[attr]

		var rem, add []models.AVU
		for _, avu := range old {
			if !contains(group, avu) {
				rem = append(rem, avu)
			}
		}
		for _, avu := range group {
			if !contains(old, avu) {
				add = append(add, avu)
			}
		}
		if len(rem) == 0 && len(add) == 0 {
			continue
		}

		if history && len(old) > 0 {
			add = append(add, historyAVU(group[0], old, now))
		}
		for _, avu := range rem {
			delete(n.avus, avu)
			removed++
		}
		for _, avu := range add {
			if _, ok := n.avus[avu]; !ok {
				n.avus[avu] = struct{}{}
				added++
			}
		}
	}
	return removed, added, nil
}

// MetaQuery implements interfaces.Archive. The zone restricts matches
// to paths under /{zone}.
func (s *Server) MetaQuery(ctx context.Context, opts interfaces.MetaQueryOptions, avus ...models.AVU) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := normalizeAll(avus)
	var paths []string
	s.walk(s.root, "/", func(n *node, path string) {
		if n.collection && !opts.Collections {
			return
		}
		if !n.collection && !opts.Objects {
			return
		}
		if opts.Zone != "" && !inZone(path, opts.Zone) {
			return
		}
		for _, avu := range query {
			if _, ok := n.avus[avu]; !ok {
				return
			}
		}
		paths = append(paths, path)
	})
	sort.Strings(paths)
	return paths, nil
}

// Chmod implements interfaces.Archive.
func (s *Server) Chmod(ctx context.Context, path, level, owner string, recurse bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.lookup(path)
	if n == nil {
		return notExist("chmod", path)
	}
	setAccess(n, owner, level, recurse)
	return nil
}

func setAccess(n *node, owner, level string, recurse bool) {
	n.access[owner] = level
	if recurse && n.collection {
		for _, child := range n.children {
			setAccess(child, owner, level, recurse)
		}
	}
}

func (s *Server) walk(n *node, path string, fn func(*node, string)) {
	fn(n, path)
	if !n.collection {
		return
	}
	for name, child := range n.children {
		s.walk(child, gopath.Join(path, name), fn)
	}
}

func (s *Server) lookup(path string) *node {
	cur := s.root
	for _, part := range split(path) {
		if !cur.collection {
			return nil
		}
		next, ok := cur.children[part]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// ensure creates collections down to path and returns the final one.
func (s *Server) ensure(path string) *node {
	cur := s.root
	for _, part := range split(path) {
		next, ok := cur.children[part]
		if !ok {
			next = newNode(true)
			cur.children[part] = next
		}
		if !next.collection {
			panic(fmt.Sprintf("archivetest: %s passes through a data object", path))
		}
		cur = next
	}
	return cur
}

func entryFor(n *node, path string, opts interfaces.ListOptions) interfaces.ArchiveEntry {
	entry := interfaces.ArchiveEntry{Path: path, Collection: n.collection}
	if opts.AVUs {
		entry.AVUs = sortedAVUs(n)
	}
	if opts.Checksums && !n.collection {
		entry.Checksum = fmt.Sprintf("%x", md5.Sum(n.content))
	}
	return entry
}

func writeLocal(n *node, dest string) error {
	if !n.collection {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return &archive.ClientError{Op: "iget", Path: dest, Message: err.Error()}
		}
		if err := os.WriteFile(dest, n.content, 0o644); err != nil {
			return &archive.ClientError{Op: "iget", Path: dest, Message: err.Error()}
		}
		return nil
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return &archive.ClientError{Op: "iget", Path: dest, Message: err.Error()}
	}
	for name, child := range n.children {
		if err := writeLocal(child, filepath.Join(dest, name)); err != nil {
			return err
		}
	}
	return nil
}

func readLocal(path string) (*node, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		obj := newNode(false)
		obj.content = content
		return obj, nil
	}

	coll := newNode(true)
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		child, err := readLocal(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, err
		}
		coll.children[entry.Name()] = child
	}
	return coll, nil
}

func sortedAVUs(n *node) []models.AVU {
	avus := make([]models.AVU, 0, len(n.avus))
	for avu := range n.avus {
		avus = append(avus, avu)
	}
	models.SortAVUs(avus)
	return avus
}

// normalizeAll canonicalises AVUs through the wire form so that a
// namespace-carrying AVU and its pre-folded equivalent compare equal,
// as they would after a round trip through the real archive.
func normalizeAll(avus []models.AVU) []models.AVU {
	out := make([]models.AVU, len(avus))
	for i, avu := range avus {
		out[i] = normalize(avu)
	}
	return out
}

func normalize(avu models.AVU) models.AVU {
	wire := avu.WireAttribute()
	out := models.AVU{Attribute: wire, Value: avu.Value, Units: avu.Units}
	if ns, attr, found := strings.Cut(wire, models.AVUSeparator); found && ns != "" {
		out.Namespace = ns
		out.Attribute = attr
	}
	return out
}

func contains(avus []models.AVU, want models.AVU) bool {
	for _, avu := range avus {
		if avu == want {
			return true
		}
	}
	return false
}

func historyAVU(exemplar models.AVU, old []models.AVU, t time.Time) models.AVU {
	values := make([]string, len(old))
	for i, avu := range old {
		values[i] = avu.Value
	}
	sort.Strings(values)

	return models.AVU{
		Namespace: exemplar.Namespace,
		Attribute: exemplar.Attribute + "_history",
		Value:     fmt.Sprintf("[%s] %s", t.Format(time.RFC3339), strings.Join(values, ",")),
	}
}

func notExist(op, path string) error {
	return &archive.ClientError{
		Op:      op,
		Path:    path,
		Message: "path does not exist",
		Code:    archive.CodeFileDoesNotExist,
	}
}

func clean(path string) string {
	cleaned := gopath.Clean("/" + strings.TrimPrefix(path, "/"))
	return cleaned
}

func split(path string) []string {
	trimmed := strings.Trim(clean(path), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func inZone(path, zone string) bool {
	prefix := "/" + strings.Trim(zone, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
