package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rosa-project/rosa/pkg/trace"
)

func TestRunPrintsNonzeroEdges(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "id:000001")

	tr := trace.Trace{Edges: []byte{0, 1, 0, 3}, Syscalls: []byte{1}}
	require.NoError(t, os.WriteFile(tracePath, tr.Serialize(), 0o644))

	require.NoError(t, run(tracePath))
}

func TestRunFailsOnMissingFile(t *testing.T) {
	require.Error(t, run(filepath.Join(t.TempDir(), "missing")))
}
