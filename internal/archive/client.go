package archive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/workbot/internal/common"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
)

const (
	// DefaultBatonPath is the baton-do executable used when none is given.
	DefaultBatonPath = "baton-do"

	// DefaultRateLimit is the default archive operation rate (per second).
	DefaultRateLimit = 10
)

// CommandRunner executes one archive transfer command. It exists so tests
// can intercept icommand invocations.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Client talks to the data archive through a long-lived baton-do child
// process for metadata operations and through icommands for bulk transfers.
// It is safe for concurrent use; operations serialize on the child's pipes.
type Client struct {
	batonPath string
	zone      string
	logger    arbor.ILogger
	limiter   *rate.Limiter
	run       CommandRunner

	mu     sync.Mutex
	proc   *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithZone sets the default zone for metadata queries.
func WithZone(zone string) ClientOption {
	return func(c *Client) {
		c.zone = zone
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit caps archive operations at the given rate per second.
func WithRateLimit(opsPerSecond float64) ClientOption {
	return func(c *Client) {
		burst := int(opsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opsPerSecond), burst)
	}
}

// WithCommandRunner replaces the transfer command runner.
func WithCommandRunner(run CommandRunner) ClientOption {
	return func(c *Client) {
		c.run = run
	}
}

// NewClient creates an archive client. The baton-do child is not started
// until the first metadata operation needs it.
func NewClient(batonPath string, opts ...ClientOption) *Client {
	c := &Client{
		batonPath: batonPath,
		limiter:   rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}
	if c.batonPath == "" {
		c.batonPath = DefaultBatonPath
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = common.GetLogger()
	}
	if c.run == nil {
		c.run = c.runICommand
	}

	return c
}

var _ interfaces.Archive = (*Client)(nil)

// IsRunning reports whether the baton-do child is alive.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc != nil
}

// Start spawns the baton-do child ahead of the first operation.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc != nil {
		c.logger.Warn().Msg("Tried to start an archive client that is already running")
		return nil
	}
	return c.startBaton()
}

// Stop shuts the baton-do child down. The client may be used again
// afterwards; the next operation restarts the child.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proc == nil {
		c.logger.Warn().Msg("Tried to stop an archive client that is not running")
		return
	}
	c.stopBaton()
}

// describe lists path as a collection first and falls back to listing it as
// a data object, returning the item in its true shape.
func (c *Client) describe(ctx context.Context, path string, args batonArgs) (*batonItem, error) {
	result, err := c.execute(ctx, opList, args, collectionItem(path))
	if err == nil {
		if result.Single == nil {
			return nil, &ClientError{Op: opList, Path: path, Message: "invalid operation result (no content)"}
		}
		return result.Single, nil
	}
	if !IsNotExist(err) {
		return nil, err
	}

	obj := dataObjectItem(path)
	if obj.DataObject == "" {
		return nil, err
	}

	result, objErr := c.execute(ctx, opList, args, obj)
	if objErr != nil {
		if IsNotExist(objErr) {
			return nil, err
		}
		return nil, objErr
	}
	if result.Single == nil {
		return nil, &ClientError{Op: opList, Path: path, Message: "invalid operation result (no content)"}
	}
	return result.Single, nil
}

// Exists implements interfaces.Archive.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := c.describe(ctx, path, batonArgs{}); err != nil {
		if IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List implements interfaces.Archive.
func (c *Client) List(ctx context.Context, path string, opts interfaces.ListOptions) ([]interfaces.ArchiveEntry, error) {
	args := batonArgs{AVU: opts.AVUs, Checksum: opts.Checksums, Contents: opts.Contents}

	item, err := c.describe(ctx, path, args)
	if err != nil {
		return nil, err
	}

	if opts.Contents && item.isCollection() {
		entries := make([]interfaces.ArchiveEntry, 0, len(item.Contents))
		for _, child := range item.Contents {
			entries = append(entries, entryFromItem(child))
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
		return entries, nil
	}

	return []interfaces.ArchiveEntry{entryFromItem(*item)}, nil
}

// Metadata implements interfaces.Archive.
func (c *Client) Metadata(ctx context.Context, path string) ([]models.AVU, error) {
	item, err := c.describe(ctx, path, batonArgs{AVU: true})
	if err != nil {
		return nil, err
	}

	avus := append([]models.AVU(nil), item.AVUs...)
	models.SortAVUs(avus)
	return avus, nil
}

// MetaAdd implements interfaces.Archive. The AVUs already present are
// filtered out before the server is asked to add, so re-adding is a no-op
// rather than an error, and the count reports only genuinely new AVUs.
func (c *Client) MetaAdd(ctx context.Context, path string, avus ...models.AVU) (int, error) {
	item, err := c.describe(ctx, path, batonArgs{AVU: true})
	if err != nil {
		return 0, err
	}

	toAdd := avusNotIn(avus, item.AVUs)
	if len(toAdd) == 0 {
		return 0, nil
	}

	target := batonItem{Collection: item.Collection, DataObject: item.DataObject, AVUs: toAdd}
	if _, err := c.execute(ctx, opMetamod, batonArgs{Operation: metamodAdd}, target); err != nil {
		return 0, err
	}
	return len(toAdd), nil
}

// MetaRemove implements interfaces.Archive.
func (c *Client) MetaRemove(ctx context.Context, path string, avus ...models.AVU) (int, error) {
	item, err := c.describe(ctx, path, batonArgs{AVU: true})
	if err != nil {
		return 0, err
	}

	toRemove := avusIn(avus, item.AVUs)
	if len(toRemove) == 0 {
		return 0, nil
	}

	target := batonItem{Collection: item.Collection, DataObject: item.DataObject, AVUs: toRemove}
	if _, err := c.execute(ctx, opMetamod, batonArgs{Operation: metamodRemove}, target); err != nil {
		return 0, err
	}
	return len(toRemove), nil
}

// MetaSupersede implements interfaces.Archive. Attributes absent from avus
// keep their current values untouched.
func (c *Client) MetaSupersede(ctx context.Context, path string, history bool, avus ...models.AVU) (int, int, error) {
	item, err := c.describe(ctx, path, batonArgs{AVU: true})
	if err != nil {
		return 0, 0, err
	}
	current := item.AVUs

	desired := make(map[string][]models.AVU)
	var attrs []string
	for _, avu := range avus {
		key := avu.WireAttribute()
		if _, ok := desired[key]; !ok {
			attrs = append(attrs, key)
		}
		desired[key] = append(desired[key], avu)
	}
	sort.Strings(attrs)

	now := time.Now().UTC()
	var toRemove, toAdd []models.AVU
	for _, attr := range attrs {
		var old []models.AVU
		for _, cur := range current {
			if cur.WireAttribute() == attr {
				old = append(old, cur)
			}
		}
		group := desired[attr]

		rem := avusNotIn(old, group)
		add := avusNotIn(group, old)
		if len(rem) == 0 && len(add) == 0 {
			continue
		}

		if history && len(old) > 0 {
			toAdd = append(toAdd, historyAVU(group[0], old, now))
		}
		toRemove = append(toRemove, rem...)
		toAdd = append(toAdd, add...)
	}

	target := batonItem{Collection: item.Collection, DataObject: item.DataObject}
	if len(toRemove) > 0 {
		target.AVUs = toRemove
		if _, err := c.execute(ctx, opMetamod, batonArgs{Operation: metamodRemove}, target); err != nil {
			return 0, 0, err
		}
	}
	if len(toAdd) > 0 {
		target.AVUs = toAdd
		if _, err := c.execute(ctx, opMetamod, batonArgs{Operation: metamodAdd}, target); err != nil {
			return len(toRemove), 0, err
		}
	}

	return len(toRemove), len(toAdd), nil
}

// MetaQuery implements interfaces.Archive.
func (c *Client) MetaQuery(ctx context.Context, opts interfaces.MetaQueryOptions, avus ...models.AVU) ([]string, error) {
	args := batonArgs{Collection: opts.Collections, Object: opts.Objects}

	target := batonItem{AVUs: avus}
	zone := opts.Zone
	if zone == "" {
		zone = c.zone
	}
	if zone != "" {
		// Zone hint
		target.Collection = zone
	}

	result, err := c.execute(ctx, opMetaquery, args, target)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(result.Multiple))
	for _, item := range result.Multiple {
		paths = append(paths, item.path())
	}
	return paths, nil
}

// Chmod implements interfaces.Archive.
func (c *Client) Chmod(ctx context.Context, path, level, owner string, recurse bool) error {
	item, err := c.describe(ctx, path, batonArgs{})
	if err != nil {
		return err
	}

	target := batonItem{
		Collection: item.Collection,
		DataObject: item.DataObject,
		Access:     []batonAccess{{Owner: owner, Level: level}},
	}
	_, err = c.execute(ctx, opChmod, batonArgs{Recurse: recurse}, target)
	return err
}

func entryFromItem(item batonItem) interfaces.ArchiveEntry {
	avus := append([]models.AVU(nil), item.AVUs...)
	models.SortAVUs(avus)
	return interfaces.ArchiveEntry{
		Path:       item.path(),
		Collection: item.isCollection(),
		Checksum:   item.Checksum,
		AVUs:       avus,
	}
}

// avusNotIn returns the members of avus that are absent from existing.
func avusNotIn(avus, existing []models.AVU) []models.AVU {
	present := make(map[models.AVU]struct{}, len(existing))
	for _, avu := range existing {
		present[avu] = struct{}{}
	}

	var missing []models.AVU
	for _, avu := range avus {
		if _, ok := present[avu]; !ok {
			missing = append(missing, avu)
			present[avu] = struct{}{} // drop duplicates in the request too
		}
	}
	return missing
}

// avusIn returns the members of avus that are present in existing.
func avusIn(avus, existing []models.AVU) []models.AVU {
	present := make(map[models.AVU]struct{}, len(existing))
	for _, avu := range existing {
		present[avu] = struct{}{}
	}

	var found []models.AVU
	for _, avu := range avus {
		if _, ok := present[avu]; ok {
			found = append(found, avu)
			delete(present, avu)
		}
	}
	return found
}

// historyAVU records the values an attribute held before a supersede.
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
