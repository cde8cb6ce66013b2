package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rosa-project/rosa/pkg/trace"
)

func writeTestTrace(t *testing.T, outputDir, uid string, tr trace.Trace) {
	t.Helper()
	tracesDir := filepath.Join(outputDir, "traces")
	require.NoError(t, os.MkdirAll(tracesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tracesDir, uid), []byte("input"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tracesDir, uid+".trace"), tr.Serialize(), 0o644))
}

func TestRunPrintsDistances(t *testing.T) {
	outputDir := t.TempDir()
	writeTestTrace(t, outputDir, "trace1", trace.Trace{Edges: []byte{0, 1, 0}, Syscalls: []byte{1, 0}})
	writeTestTrace(t, outputDir, "trace2", trace.Trace{Edges: []byte{0, 0, 1}, Syscalls: []byte{1, 0}})

	require.NoError(t, run(outputDir, "trace1", "trace2", "hamming", true))
}

func TestRunFailsOnUnknownMetric(t *testing.T) {
	outputDir := t.TempDir()
	writeTestTrace(t, outputDir, "trace1", trace.Trace{Edges: []byte{0}, Syscalls: []byte{0}})
	writeTestTrace(t, outputDir, "trace2", trace.Trace{Edges: []byte{0}, Syscalls: []byte{0}})

	require.Error(t, run(outputDir, "trace1", "trace2", "bogus", false))
}
