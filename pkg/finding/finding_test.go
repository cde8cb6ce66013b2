package finding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosa-project/rosa/pkg/distance"
	"github.com/rosa-project/rosa/pkg/oracle"
	"github.com/rosa-project/rosa/pkg/trace"
)

func TestDecisionSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	td := NewTimedDecision(oracle.Decision{
		TraceUID:   "abc123",
		ClusterUID: "cluster_000000",
		IsBackdoor: true,
		Reason:     distance.ReasonSyscalls,
		Discriminants: oracle.Discriminants{
			TraceSyscalls:   []int{1, 2},
			ClusterSyscalls: []int{3},
		},
	}, 42)

	require.NoError(t, td.Save(dir))

	loaded, err := LoadDecision(filepath.Join(dir, "abc123.toml"))
	require.NoError(t, err)
	assert.Equal(t, td.Decision.TraceUID, loaded.Decision.TraceUID)
	assert.True(t, loaded.Decision.IsBackdoor)
	assert.Equal(t, "syscalls", loaded.Decision.Reason)
	assert.Equal(t, uint64(42), loaded.Seconds)
	assert.Equal(t, []int{1, 2}, loaded.Decision.Discriminants.TraceSyscalls)
}

func TestDiscriminantsUIDDeterministicAndDistinct(t *testing.T) {
	d1 := oracle.Discriminants{TraceEdges: []int{1, 2}, ClusterEdges: []int{3}}
	d2 := oracle.Discriminants{TraceEdges: []int{1, 2}, ClusterEdges: []int{3}}
	d3 := oracle.Discriminants{TraceEdges: []int{4}, ClusterEdges: []int{5}}

	u1 := DiscriminantsUID(distance.EdgesOnly, "cluster_000000", d1)
	u2 := DiscriminantsUID(distance.EdgesOnly, "cluster_000000", d2)
	u3 := DiscriminantsUID(distance.EdgesOnly, "cluster_000000", d3)

	assert.Equal(t, u1, u2)
	assert.NotEqual(t, u1, u3)
	assert.Contains(t, u1, "cluster_000000")
}

func TestDiscriminantsUIDIncludesClusterUID(t *testing.T) {
	d := oracle.Discriminants{TraceEdges: []int{1}}
	u1 := DiscriminantsUID(distance.EdgesOnly, "cluster_000000", d)
	u2 := DiscriminantsUID(distance.EdgesOnly, "cluster_000001", d)
	assert.NotEqual(t, u1, u2)
}

func TestSaveBackdoorInputGroupsByFingerprint(t *testing.T) {
	dir := t.TempDir()
	p := trace.Pair{UID: "uid1", Name: "id:000001", InputBytes: []byte("payload")}

	isNew, err := SaveBackdoorInput(p, dir, "fp1")
	require.NoError(t, err)
	assert.True(t, isNew)

	content, err := os.ReadFile(filepath.Join(dir, "fp1", "uid1"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	p2 := trace.Pair{UID: "uid2", Name: "id:000002", InputBytes: []byte("payload2")}
	isNew2, err := SaveBackdoorInput(p2, dir, "fp1")
	require.NoError(t, err)
	assert.False(t, isNew2)
}

func TestStatsWriterAppend(t *testing.T) {
	dir := t.TempDir()
	sw, err := NewStatsWriter(dir)
	require.NoError(t, err)

	require.NoError(t, sw.Append(1, 10, 0, 0, 0.5, 0.25))
	require.NoError(t, sw.Append(2, 20, 1, 1, 0.6, 0.3))

	content, err := os.ReadFile(filepath.Join(dir, "stats.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "seconds,traces,unique_backdoors")
	assert.Contains(t, string(content), "1,10,0,0,0.5,0.25")
}

func TestLayoutSetupCreatesReadmeTree(t *testing.T) {
	root := t.TempDir()
	outputDir := filepath.Join(root, "out")

	l, err := Setup(outputDir, false)
	require.NoError(t, err)

	for _, dir := range []string{l.BackdoorsDir(), l.ClustersDir(), l.DecisionsDir(), l.LogsDir(), l.TracesDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		_, err = os.Stat(filepath.Join(dir, "README.txt"))
		assert.NoError(t, err)
	}

	_, err = Setup(outputDir, false)
	assert.Error(t, err)

	_, err = Setup(outputDir, true)
	assert.NoError(t, err)
}

func TestLayoutSaveConfigWritesRawTOML(t *testing.T) {
	root := t.TempDir()
	l, err := Setup(filepath.Join(root, "out"), false)
	require.NoError(t, err)

	raw := []byte("output_dir = \"out\"\n")
	require.NoError(t, l.SaveConfig(raw))

	content, err := os.ReadFile(filepath.Join(l.OutputDir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, raw, content)
}

func TestLayoutPhaseAndCoverageRoundTrip(t *testing.T) {
	root := t.TempDir()
	l, err := Setup(filepath.Join(root, "out"), false)
	require.NoError(t, err)

	require.NoError(t, l.SetPhase(PhaseCollecting))
	phase, err := l.GetPhase()
	require.NoError(t, err)
	assert.Equal(t, PhaseCollecting, phase)

	require.NoError(t, l.SetCoverage(0.42, 0.13))
	edge, syscall, err := l.GetCoverage()
	require.NoError(t, err)
	assert.InDelta(t, 0.42, edge, 1e-9)
	assert.InDelta(t, 0.13, syscall, 1e-9)
}
