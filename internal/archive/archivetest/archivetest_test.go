package archivetest

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/workbot/internal/archive"
	"github.com/ternarybob/workbot/internal/interfaces"
	"github.com/ternarybob/workbot/internal/models"
)

func TestServerExistsAndObject(t *testing.T) {
	s := New()
	s.AddObject("/testZone/ont/run1/report.txt", []byte("ok\n"))
	ctx := context.Background()

	// Parents are created on the way down
	exists, err := s.Exists(ctx, "/testZone/ont/run1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Exists(ctx, "/testZone/ont/run1/report.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Exists(ctx, "/testZone/missing")
	require.NoError(t, err)
	assert.False(t, exists)

	content, ok := s.Object("/testZone/ont/run1/report.txt")
	require.True(t, ok)
	assert.Equal(t, "ok\n", string(content))

	_, ok = s.Object("/testZone/ont/run1")
	assert.False(t, ok, "a collection is not an object")
	_, ok = s.Object("/testZone/missing")
	assert.False(t, ok)
}

func TestServerListContents(t *testing.T) {
	s := New()
	s.AddObject("/testZone/run1/b.txt", []byte("bee"))
	s.AddObject("/testZone/run1/a.txt", []byte("ay"))
	s.AddCollection("/testZone/run1/reads")
	ctx := context.Background()

	entries, err := s.List(ctx, "/testZone/run1", interfaces.ListOptions{Contents: true, Checksums: true})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "/testZone/run1/a.txt", entries[0].Path)
	assert.False(t, entries[0].Collection)
	assert.Equal(t, fmt.Sprintf("%x", md5.Sum([]byte("ay"))), entries[0].Checksum)
	assert.Equal(t, "/testZone/run1/b.txt", entries[1].Path)
	assert.Equal(t, "/testZone/run1/reads", entries[2].Path)
	assert.True(t, entries[2].Collection)
	assert.Empty(t, entries[2].Checksum)

	// Without Contents the path itself is described
	self, err := s.List(ctx, "/testZone/run1", interfaces.ListOptions{})
	require.NoError(t, err)
	require.Len(t, self, 1)
	assert.Equal(t, "/testZone/run1", self[0].Path)
	assert.True(t, self[0].Collection)

	// AVUs come back only when asked for
	tag := models.NewAVU("md5", "cafe01")
	_, err = s.MetaAdd(ctx, "/testZone/run1/a.txt", tag)
	require.NoError(t, err)

	entries, err = s.List(ctx, "/testZone/run1", interfaces.ListOptions{Contents: true, AVUs: true})
	require.NoError(t, err)
	assert.Equal(t, []models.AVU{tag}, entries[0].AVUs)

	_, err = s.List(ctx, "/testZone/missing", interfaces.ListOptions{})
	assert.True(t, archive.IsNotExist(err))
}

func TestServerTransferRoundTrip(t *testing.T) {
	s := New()
	s.AddObject("/testZone/ont/run1/reads/r1.fastq", []byte("@r1\nACGT\n+\n!!!!\n"))
	s.AddObject("/testZone/ont/run1/report.txt", []byte("done"))
	ctx := context.Background()

	// The remote tree lands inside the local dir under its leaf name
	local := t.TempDir()
	require.NoError(t, s.Get(ctx, "/testZone/ont/run1", local))

	data, err := os.ReadFile(filepath.Join(local, "run1", "reads", "r1.fastq"))
	require.NoError(t, err)
	assert.Equal(t, "@r1\nACGT\n+\n!!!!\n", string(data))

	// And back: the local tree lands inside the remote collection
	s.AddCollection("/testZone/workbot/analysis")
	require.NoError(t, s.Put(ctx, filepath.Join(local, "run1"), "/testZone/workbot/analysis"))

	content, ok := s.Object("/testZone/workbot/analysis/run1/report.txt")
	require.True(t, ok)
	assert.Equal(t, "done", string(content))

	assert.True(t, archive.IsNotExist(s.Get(ctx, "/testZone/missing", local)))
	assert.True(t, archive.IsNotExist(s.Put(ctx, filepath.Join(local, "run1"), "/testZone/missing")))

	err = s.Put(ctx, filepath.Join(local, "run1"), "/testZone/ont/run1/report.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination is a data object")
}

func TestServerEnsureAndRemoveCollection(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, "/testZone/workbot/analysis/run1"))
	exists, err := s.Exists(ctx, "/testZone/workbot/analysis/run1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.EnsureCollection(ctx, "/testZone/workbot/analysis/run1"))

	s.AddObject("/testZone/data.txt", []byte("x"))
	err = s.EnsureCollection(ctx, "/testZone/data.txt/sub")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is a data object")
	assert.Panics(t, func() { s.AddCollection("/testZone/data.txt/sub") })

	require.NoError(t, s.RemoveCollection(ctx, "/testZone/workbot/analysis/run1"))
	exists, err = s.Exists(ctx, "/testZone/workbot/analysis/run1")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.True(t, archive.IsNotExist(s.RemoveCollection(ctx, "/testZone/workbot/analysis/run1")))

	err = s.RemoveCollection(ctx, "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot remove the root collection")

	err = s.RemoveCollection(ctx, "/testZone/data.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is a data object")
}

func TestServerMetaAddIdempotent(t *testing.T) {
	s := New()
	s.AddCollection("/testZone/ont/run1")
	ctx := context.Background()

	count, err := s.MetaAdd(ctx, "/testZone/ont/run1",
		models.NewAVU("experiment_name", "expt_01").WithNamespace("ont"),
		models.NewAVU("instrument_slot", "1").WithNamespace("ont"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = s.MetaAdd(ctx, "/testZone/ont/run1",
		models.NewAVU("experiment_name", "expt_01").WithNamespace("ont"),
		models.NewAVU("instrument_slot", "1").WithNamespace("ont"))
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The pre-folded wire form is the same AVU
	count, err = s.MetaAdd(ctx, "/testZone/ont/run1", models.NewAVU("ont:experiment_name", "expt_01"))
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	avus, err := s.Metadata(ctx, "/testZone/ont/run1")
	require.NoError(t, err)
	assert.Equal(t, []models.AVU{
		models.NewAVU("experiment_name", "expt_01").WithNamespace("ont"),
		models.NewAVU("instrument_slot", "1").WithNamespace("ont"),
	}, avus)

	_, err = s.MetaAdd(ctx, "/testZone/missing", models.NewAVU("a", "1"))
	assert.True(t, archive.IsNotExist(err))
}

func TestServerMetaRemove(t *testing.T) {
	s := New()
	s.AddCollection("/testZone/ont/run1")
	ctx := context.Background()

	_, err := s.MetaAdd(ctx, "/testZone/ont/run1",
		models.NewAVU("state", "old"), models.NewAVU("batch", "7"))
	require.NoError(t, err)

	count, err := s.MetaRemove(ctx, "/testZone/ont/run1", models.NewAVU("state", "old"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	avus, err := s.Metadata(ctx, "/testZone/ont/run1")
	require.NoError(t, err)
	assert.Equal(t, []models.AVU{models.NewAVU("batch", "7")}, avus)

	count, err = s.MetaRemove(ctx, "/testZone/ont/run1", models.NewAVU("state", "old"))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestServerMetaSupersede(t *testing.T) {
	s := New()
	s.AddCollection("/testZone/ont/run1")
	ctx := context.Background()

	_, err := s.MetaAdd(ctx, "/testZone/ont/run1",
		models.NewAVU("state", "old"), models.NewAVU("batch", "7"))
	require.NoError(t, err)

	removed, added, err := s.MetaSupersede(ctx, "/testZone/ont/run1", false, models.NewAVU("state", "new"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, added)

	// Attributes not named keep their values
	avus, err := s.Metadata(ctx, "/testZone/ont/run1")
	require.NoError(t, err)
	assert.Equal(t, []models.AVU{
		models.NewAVU("batch", "7"),
		models.NewAVU("state", "new"),
	}, avus)

	removed, added, err = s.MetaSupersede(ctx, "/testZone/ont/run1", false, models.NewAVU("state", "new"))
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 0, added)
}

func TestServerMetaSupersedeHistory(t *testing.T) {
	s := New()
	s.AddCollection("/testZone/ont/run1")
	ctx := context.Background()

	_, err := s.MetaAdd(ctx, "/testZone/ont/run1", models.NewAVU("state", "old"))
	require.NoError(t, err)

	removed, added, err := s.MetaSupersede(ctx, "/testZone/ont/run1", true, models.NewAVU("state", "new"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, added)

	avus, err := s.Metadata(ctx, "/testZone/ont/run1")
	require.NoError(t, err)
	require.Len(t, avus, 2)
	assert.Equal(t, models.NewAVU("state", "new"), avus[0])
	assert.Equal(t, "state_history", avus[1].Attribute)
	assert.True(t, strings.HasPrefix(avus[1].Value, "["), "history value records when: %s", avus[1].Value)
	assert.True(t, strings.HasSuffix(avus[1].Value, "] old"), "history value records what: %s", avus[1].Value)

	// Superseding with the current value writes no further history
	removed, added, err = s.MetaSupersede(ctx, "/testZone/ont/run1", true, models.NewAVU("state", "new"))
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 0, added)
}

func TestServerMetaQuery(t *testing.T) {
	s := New()
	ctx := context.Background()
	expt := models.NewAVU("experiment_name", "expt_01").WithNamespace("ont")
	slot := models.NewAVU("instrument_slot", "1").WithNamespace("ont")

	s.AddCollection("/testZone/ont/run1")
	_, err := s.MetaAdd(ctx, "/testZone/ont/run1", expt, slot)
	require.NoError(t, err)
	s.AddCollection("/testZone/ont/run2")
	_, err = s.MetaAdd(ctx, "/testZone/ont/run2", expt)
	require.NoError(t, err)
	s.AddCollection("/testZoneOther/ont/run1")
	_, err = s.MetaAdd(ctx, "/testZoneOther/ont/run1", expt, slot)
	require.NoError(t, err)
	s.AddObject("/testZone/ont/run1/report.txt", []byte("x"))
	_, err = s.MetaAdd(ctx, "/testZone/ont/run1/report.txt", expt, slot)
	require.NoError(t, err)

	// Every queried AVU must be present
	paths, err := s.MetaQuery(ctx, interfaces.MetaQueryOptions{Collections: true, Zone: "testZone"}, expt, slot)
	require.NoError(t, err)
	assert.Equal(t, []string{"/testZone/ont/run1"}, paths)

	paths, err = s.MetaQuery(ctx, interfaces.MetaQueryOptions{Collections: true, Zone: "testZone"}, expt)
	require.NoError(t, err)
	assert.Equal(t, []string{"/testZone/ont/run1", "/testZone/ont/run2"}, paths)

	paths, err = s.MetaQuery(ctx, interfaces.MetaQueryOptions{Objects: true, Zone: "testZone"}, expt, slot)
	require.NoError(t, err)
	assert.Equal(t, []string{"/testZone/ont/run1/report.txt"}, paths)

	// No zone searches everywhere
	paths, err = s.MetaQuery(ctx, interfaces.MetaQueryOptions{Collections: true}, expt, slot)
	require.NoError(t, err)
	assert.Equal(t, []string{"/testZone/ont/run1", "/testZoneOther/ont/run1"}, paths)

	// The zone is a whole path component, not a prefix
	paths, err = s.MetaQuery(ctx, interfaces.MetaQueryOptions{Collections: true, Zone: "test"}, expt, slot)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestServerChmod(t *testing.T) {
	s := New()
	s.AddObject("/testZone/ont/run1/report.txt", []byte("x"))
	ctx := context.Background()

	require.NoError(t, s.Chmod(ctx, "/testZone/ont/run1", "read", "ont_reader", true))
	assert.Equal(t, "read", s.AccessFor("/testZone/ont/run1", "ont_reader"))
	assert.Equal(t, "read", s.AccessFor("/testZone/ont/run1/report.txt", "ont_reader"))

	require.NoError(t, s.Chmod(ctx, "/testZone/ont/run1", "own", "ont_admin", false))
	assert.Equal(t, "own", s.AccessFor("/testZone/ont/run1", "ont_admin"))
	assert.Empty(t, s.AccessFor("/testZone/ont/run1/report.txt", "ont_admin"))

	assert.True(t, archive.IsNotExist(s.Chmod(ctx, "/testZone/missing", "read", "ont_reader", false)))
}
