package campaign

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosa-project/rosa/pkg/cluster"
	"github.com/rosa-project/rosa/pkg/collector"
	"github.com/rosa-project/rosa/pkg/config"
	"github.com/rosa-project/rosa/pkg/distance"
	"github.com/rosa-project/rosa/pkg/finding"
	"github.com/rosa-project/rosa/pkg/fuzzeradapter"
	"github.com/rosa-project/rosa/pkg/oracle"
	"github.com/rosa-project/rosa/pkg/trace"
)

// stubBackend is a minimal Backend that never touches a real fuzzer
// process directory layout, for tests that don't exercise spawning.
type stubBackend struct {
	name             string
	foundCrash       bool
	testInputDir     string
	runtimeTraceDir  string
}

func (b *stubBackend) Name() string                 { return b.name }
func (b *stubBackend) Cmd() []string                { return []string{"true"} }
func (b *stubBackend) TestInputDir() string         { return b.testInputDir }
func (b *stubBackend) RuntimeTraceDir() string      { return b.runtimeTraceDir }
func (b *stubBackend) FoundCrashes() (bool, error)  { return b.foundCrash, nil }
func (b *stubBackend) Status() fuzzeradapter.Status { return fuzzeradapter.StatusRunning }

func pair(uid string, edges, syscalls []byte) trace.Pair {
	return trace.Pair{
		UID:        uid,
		Name:       uid,
		InputBytes: []byte("input-" + uid),
		Trace:      trace.Trace{Edges: edges, Syscalls: syscalls},
		FuzzerName: "main",
	}
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	outputDir := filepath.Join(t.TempDir(), "out")
	seconds := uint64(60)
	cfg := config.Resolved{
		OutputDir:                 outputDir,
		Seed:                      config.SeedConditions{Seconds: &seconds},
		ClusterFormationCriterion: distance.EdgesOnly,
		ClusterFormationMetric:    distance.Hamming{},
		ClusterSelectionCriterion: distance.EdgesAndSyscalls,
		ClusterSelectionMetric:    distance.Hamming{},
		Oracle:                    oracle.CompMinMax{},
		OracleCriterion:           distance.SyscallsOnly,
		OracleMetric:              distance.Hamming{},
		PollIntervalMillis:        10,
		TraceReadyRetries:         5,
	}

	c, err := New(cfg, false)
	require.NoError(t, err)
	return c
}

func TestNewCreatesLayoutAndInstances(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "out")
	cfg := config.Resolved{
		OutputDir: outputDir,
		Seed:      config.SeedConditions{Seconds: uint64Ptr(1)},
		Fuzzers: []config.ResolvedFuzzer{
			{Name: "main", Backend: &stubBackend{name: "main"}},
		},
	}

	c, err := New(cfg, false)
	require.NoError(t, err)
	require.Len(t, c.instances, 1)

	info, err := os.Stat(c.Layout.TracesDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSourcesFiltersToMainByDefault(t *testing.T) {
	c := newTestController(t)
	c.instances = []*fuzzeradapter.Instance{
		mustInstance(t, &stubBackend{name: "main"}),
		mustInstance(t, &stubBackend{name: "secondary"}),
	}

	srcs := c.sources()
	require.Len(t, srcs, 1)
	assert.Equal(t, "main", srcs[0].FuzzerName)

	c.CollectFromAllFuzzers = true
	srcs = c.sources()
	assert.Len(t, srcs, 2)
}

func TestRunSeedPhasePersistsSeedDecisionsAndTransitions(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Layout.SetPhase(finding.PhaseCollecting))
	c.startTime = time.Now().Add(-61 * time.Second)

	p := pair("trace-1", []byte{1, 0, 1}, []byte{0, 1})
	c.knownTraces[p.UID] = p
	c.knownTraceOrder = append(c.knownTraceOrder, p)

	require.NoError(t, c.runSeedPhase([]trace.Pair{p}, 0, 0))

	td, err := finding.LoadDecision(filepath.Join(c.Layout.DecisionsDir(), "trace-1.toml"))
	require.NoError(t, err)
	assert.False(t, td.Decision.IsBackdoor)
	assert.Equal(t, "seed", td.Decision.Reason)

	phase, err := c.Layout.GetPhase()
	require.NoError(t, err)
	assert.Equal(t, finding.PhaseDetecting, phase)
	assert.Len(t, c.clusters, 1)
}

func TestRunSeedPhaseStaysInSeedPhaseWhenConditionNotMet(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Layout.SetPhase(finding.PhaseCollecting))
	c.startTime = time.Now()

	p := pair("trace-1", []byte{1}, []byte{1})
	c.knownTraces[p.UID] = p
	c.knownTraceOrder = append(c.knownTraceOrder, p)
	require.NoError(t, c.runSeedPhase([]trace.Pair{p}, 0, 0))

	phase, err := c.Layout.GetPhase()
	require.NoError(t, err)
	assert.Equal(t, finding.PhaseCollecting, phase)
	assert.Empty(t, c.clusters)
}

func TestRunDetectionPhaseFlagsDivergentTrace(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Layout.SetPhase(finding.PhaseDetecting))

	seed := pair("seed-1", []byte{1, 0, 0}, []byte{1, 0, 0})
	c.clusters = cluster.Build([]trace.Pair{seed}, distance.EdgesOnly, distance.Hamming{}, 0, 0)
	require.Len(t, c.clusters, 1)

	divergent := pair("trace-2", []byte{1, 0, 0}, []byte{1, 1, 1})
	require.NoError(t, c.runDetectionPhase([]trace.Pair{divergent}))

	td, err := finding.LoadDecision(filepath.Join(c.Layout.DecisionsDir(), "trace-2.toml"))
	require.NoError(t, err)
	assert.True(t, td.Decision.IsBackdoor)
	assert.Equal(t, uint64(1), c.totalBackdoors)
	assert.Len(t, c.uniqueBackdoors, 1)

	entries, err := os.ReadDir(c.Layout.BackdoorsDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunDetectionPhaseDoesNotFlagMatchingTrace(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Layout.SetPhase(finding.PhaseDetecting))

	seed := pair("seed-1", []byte{1, 0, 0}, []byte{1, 0, 0})
	c.clusters = cluster.Build([]trace.Pair{seed}, distance.EdgesOnly, distance.Hamming{}, 0, 0)

	matching := pair("trace-2", []byte{1, 0, 0}, []byte{1, 0, 0})
	require.NoError(t, c.runDetectionPhase([]trace.Pair{matching}))

	td, err := finding.LoadDecision(filepath.Join(c.Layout.DecisionsDir(), "trace-2.toml"))
	require.NoError(t, err)
	assert.False(t, td.Decision.IsBackdoor)
	assert.Equal(t, uint64(0), c.totalBackdoors)
}

func TestRunStopsCleanlyOnContextCancellation(t *testing.T) {
	c := newTestController(t)
	backend := &stubBackend{
		name:            "main",
		testInputDir:    t.TempDir(),
		runtimeTraceDir: t.TempDir(),
	}
	c.instances = []*fuzzeradapter.Instance{mustInstance(t, backend)}
	c.collector = collector.New(5)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	require.NoError(t, err)

	phase, err := c.Layout.GetPhase()
	require.NoError(t, err)
	assert.Equal(t, finding.PhaseStopped, phase)
}

func mustInstance(t *testing.T, b fuzzeradapter.Backend) *fuzzeradapter.Instance {
	t.Helper()
	inst, err := fuzzeradapter.Create(fuzzeradapter.Config{Backend: b}, filepath.Join(t.TempDir(), "log.txt"))
	require.NoError(t, err)
	return inst
}

func uint64Ptr(v uint64) *uint64 { return &v }
