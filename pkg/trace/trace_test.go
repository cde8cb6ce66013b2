package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExistential(t *testing.T) {
	got := Existential([]byte{0, 1, 5, 0, 255})
	assert.Equal(t, []byte{0, 1, 1, 0, 1}, got)
}

func TestSerializeRoundTrip(t *testing.T) {
	tr := Trace{
		Edges:    []byte{0, 1, 0, 1, 1, 0, 0, 0},
		Syscalls: []byte{0, 0, 1},
	}
	raw := tr.Serialize()
	got, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, Existential(tr.Edges), Existential(got.Edges))
	assert.Equal(t, Existential(tr.Syscalls), Existential(got.Syscalls))
}

func TestParseBadTraceFormat(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	require.Error(t, err)

	tr := Trace{Edges: []byte{1, 2, 3, 4}, Syscalls: []byte{1, 2}}
	raw := tr.Serialize()
	_, err = Parse(raw[:len(raw)-1])
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "id:000001")
	tracePath := filepath.Join(dir, "id:000001.trace")

	require.NoError(t, os.WriteFile(inputPath, []byte("hello"), 0o644))
	tr := Trace{Edges: []byte{1, 0, 1}, Syscalls: []byte{0, 1}}
	require.NoError(t, os.WriteFile(tracePath, tr.Serialize(), 0o644))

	p, err := Load(inputPath, tracePath, "main")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(p.InputBytes))
	assert.Equal(t, "id:000001", p.Name)
	assert.Equal(t, UID("main", "id:000001"), p.UID)
	assert.Equal(t, []byte{1, 0, 1}, p.Trace.Edges)
}

func TestFingerprintDedup(t *testing.T) {
	p1 := Pair{Trace: Trace{Edges: []byte{1, 0, 2}, Syscalls: []byte{0, 5}}}
	p2 := Pair{Trace: Trace{Edges: []byte{1, 0, 9}, Syscalls: []byte{0, 1}}}
	assert.Equal(t, FingerprintKey(p1), FingerprintKey(p2))

	p3 := Pair{Trace: Trace{Edges: []byte{1, 1, 2}, Syscalls: []byte{0, 5}}}
	assert.NotEqual(t, FingerprintKey(p1), FingerprintKey(p3))
}

func TestCheckCompatible(t *testing.T) {
	a := Trace{Edges: make([]byte, 4), Syscalls: make([]byte, 600)}
	b := Trace{Edges: make([]byte, 4), Syscalls: make([]byte, 600)}
	assert.NoError(t, CheckCompatible(a, b))

	c := Trace{Edges: make([]byte, 8), Syscalls: make([]byte, 600)}
	assert.Error(t, CheckCompatible(a, c))
}
