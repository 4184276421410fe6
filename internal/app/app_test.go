package app

import (
	"context"
	"os"
	gopath "path"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/workbot/internal/archive/archivetest"
	"github.com/ternarybob/workbot/internal/common"
	"github.com/ternarybob/workbot/internal/models"
	"github.com/ternarybob/workbot/internal/warehouse/warehousetest"
	"github.com/ternarybob/workbot/internal/workers"
	"github.com/ternarybob/workbot/internal/workers/ont"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := common.NewDefaultConfig()
	cfg.Storage.URL = filepath.Join(dir, "workbot.db")
	cfg.Staging.Root = filepath.Join(dir, "staging")
	cfg.Archive.Zone = "testZone"
	cfg.Workers = map[string]common.WorkerConfig{
		string(models.KindONTRunData): {Class: workers.ClassRunData, Command: "artic"},
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *common.Config) *App {
	t.Helper()

	application, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })
	return application
}

func newTestAppWithArchive(t *testing.T, cfg *common.Config, arc *archivetest.Server) *App {
	t.Helper()

	application, err := newApp(cfg, arbor.NewLogger(), arc)
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })
	return application
}

// analysisCommand returns a command line whose script writes one result
// file into the output directory, standing in for a real pipeline.
func analysisCommand(t *testing.T) string {
	t.Helper()

	script := `#!/bin/sh
while [ $# -gt 0 ]; do
  [ "$1" = "-o" ] && out="$2"
  shift
done
echo ">consensus" > "$out/consensus.fasta"
`
	path := filepath.Join(t.TempDir(), "analysis.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return "/bin/sh " + path
}

func TestNewWithoutWarehouse(t *testing.T) {
	application := newTestApp(t, testConfig(t))

	// Without a warehouse there is nothing to discover work from
	assert.Nil(t, application.warehouse)
	assert.Empty(t, application.brokers)
	assert.Equal(t, []models.WorkKind{models.KindONTRunData}, application.registry.Kinds())
}

func TestNewMetadataWorkerRequiresWarehouse(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers[string(models.KindONTRunMetadataUpdate)] = common.WorkerConfig{Class: workers.ClassRunMetadata}

	_, err := New(cfg, arbor.NewLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a warehouse connection")
}

func TestNewWithWarehouse(t *testing.T) {
	cfg := testConfig(t)
	cfg.Warehouse.URL = warehousetest.CreateDB(t)
	cfg.Workers[string(models.KindONTRunMetadataUpdate)] = common.WorkerConfig{Class: workers.ClassRunMetadata}

	application := newTestApp(t, cfg)

	assert.NotNil(t, application.warehouse)

	// One broker per registered kind
	require.Len(t, application.brokers, 2)
	assert.Equal(t, models.KindONTRunData, application.brokers[0].Kind())
	assert.Equal(t, models.KindONTRunMetadataUpdate, application.brokers[1].Kind())
}

func TestInitCreatesStagingRoot(t *testing.T) {
	cfg := testConfig(t)
	application := newTestApp(t, cfg)

	require.NoError(t, application.Init(context.Background()))

	info, err := os.Stat(cfg.Staging.Root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestAddAndStatus(t *testing.T) {
	application := newTestApp(t, testConfig(t))
	ctx := context.Background()
	const path = "/testZone/ont/multiplexed_experiment_001_s1"

	job, err := application.Add(ctx, path, models.KindONTRunData, "multiplexed_experiment_001", 1)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.StatePending, job.State)

	// Adding again while the first job is in flight is a no-op
	dup, err := application.Add(ctx, path, models.KindONTRunData, "", 0)
	require.NoError(t, err)
	assert.Nil(t, dup)

	inFlight, err := application.Status(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, inFlight, 1)
	assert.Equal(t, job.ID, inFlight[0].ID)

	none, err := application.Status(ctx, "", models.KindONTRunMetadataUpdate)
	require.NoError(t, err)
	assert.Empty(t, none)

	history, err := application.Status(ctx, path, "")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, job.ID, history[0].ID)
}

func TestRunOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Warehouse.URL = warehousetest.CreateDB(t)
	// Analysis results land outside the discovery zone, so annotated
	// output collections never match later discovery queries
	cfg.Archive.Root = "/analysisZone/workbot/analysis"
	cfg.Workers = map[string]common.WorkerConfig{
		string(models.KindONTRunData): {Class: workers.ClassRunData, Command: analysisCommand(t)},
	}

	arc := archivetest.New()
	application := newTestAppWithArchive(t, cfg, arc)
	ctx := context.Background()

	// One run is archived, complete and tagged with its identity. The
	// warehouse window covers six candidate tuples; the other five have
	// no archived collection yet.
	const runPath = "/testZone/ont/multiplexed_experiment_001_s1"
	arc.AddObject(runPath+"/reads/fastq_pass/read1.fastq", []byte("@r1\nACGT\n+\n!!!!\n"))
	arc.AddObject(runPath+"/final_report.txt.gz", []byte("report"))
	_, err := arc.MetaAdd(ctx, runPath, ont.RunAVUs("multiplexed_experiment_001", 1)...)
	require.NoError(t, err)

	since := time.Date(2020, 6, 16, 0, 0, 0, 0, time.UTC)
	require.NoError(t, application.RunOnce(ctx, since, ""))

	history, err := application.Status(ctx, runPath, models.KindONTRunData)
	require.NoError(t, err)
	require.Len(t, history, 1)
	job := history[0]
	assert.Equal(t, models.StateCompleted, job.State)

	// The analysis product was archived under the job's collection and
	// tagged with the run identity
	dst := gopath.Join(cfg.Archive.Root, strconv.FormatInt(job.ID, 10))
	_, ok := arc.Object(gopath.Join(dst, "output", "consensus.fasta"))
	assert.True(t, ok)

	avus, err := arc.Metadata(ctx, dst)
	require.NoError(t, err)
	assert.Contains(t, avus, models.NewAVU(ont.AttrExperimentName, "multiplexed_experiment_001").WithNamespace(ont.Namespace))

	// A second pass over the same window rediscovers the run, finds its
	// work concluded and queues nothing new
	require.NoError(t, application.RunOnce(ctx, since, ""))

	inFlight, err := application.Status(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, inFlight)

	history, err = application.Status(ctx, runPath, models.KindONTRunData)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCancel(t *testing.T) {
	application := newTestApp(t, testConfig(t))
	ctx := context.Background()
	const path = "/testZone/ont/multiplexed_experiment_001_s1"

	job, err := application.Add(ctx, path, models.KindONTRunData, "", 0)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, application.Cancel(ctx, job.ID))

	history, err := application.Status(ctx, path, models.KindONTRunData)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StateCancelled, history[0].State)

	inFlight, err := application.Status(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, inFlight)
}
