package fuzzeradapter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAFLPlusPlusCmd(t *testing.T) {
	main := &AFLPlusPlus{
		NameField: "main",
		IsMain:    true,
		AflFuzz:   "afl-fuzz",
		InputDir:  "corpus",
		OutputDir: "findings",
		Target:    []string{"sudo", "--stdin", "--reset-timestamp", "--", "id"},
		ExtraArgs: []string{"-Q", "-c", "0"},
	}
	assert.Equal(t, []string{
		"afl-fuzz", "-i", "corpus", "-o", "findings", "-M", "main",
		"-Q", "-c", "0",
		"--",
		"sudo", "--stdin", "--reset-timestamp", "--", "id",
	}, main.Cmd())

	secondary := &AFLPlusPlus{
		NameField: "secondary",
		IsMain:    false,
		AflFuzz:   "./afl-fuzz",
		InputDir:  "in",
		OutputDir: "out",
		Target:    []string{"./target"},
	}
	assert.Equal(t, []string{
		"./afl-fuzz", "-i", "in", "-o", "out", "-S", "secondary",
		"--",
		"./target",
	}, secondary.Cmd())
}

func TestAFLPlusPlusDirs(t *testing.T) {
	a := &AFLPlusPlus{NameField: "main", OutputDir: "findings"}
	assert.Equal(t, filepath.Join("findings", "main", "queue"), a.TestInputDir())
	assert.Equal(t, filepath.Join("findings", "main", "trace_dumps"), a.RuntimeTraceDir())
}

func TestAFLPlusPlusFoundCrashes(t *testing.T) {
	dir := t.TempDir()
	a := &AFLPlusPlus{NameField: "main", OutputDir: dir}

	found, err := a.FoundCrashes()
	assert.Error(t, err)
	assert.False(t, found)

	crashesDir := filepath.Join(dir, "main", "crashes")
	require.NoError(t, os.MkdirAll(crashesDir, 0o755))

	found, err = a.FoundCrashes()
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, os.WriteFile(filepath.Join(crashesDir, "id:000000"), []byte("x"), 0o644))
	found, err = a.FoundCrashes()
	require.NoError(t, err)
	assert.True(t, found)
}

func TestAFLPlusPlusStatusStopped(t *testing.T) {
	dir := t.TempDir()
	a := &AFLPlusPlus{NameField: "main", OutputDir: dir}
	assert.Equal(t, StatusStopped, a.Status())
}

func TestAFLPlusPlusStatusStarting(t *testing.T) {
	dir := t.TempDir()
	a := &AFLPlusPlus{NameField: "main", OutputDir: dir}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fuzzer_setup"), []byte("setup"), 0o644))
	assert.Equal(t, StatusStarting, a.Status())
}

func TestAFLPlusPlusStatusRunning(t *testing.T) {
	dir := t.TempDir()
	a := &AFLPlusPlus{NameField: "main", OutputDir: dir}
	setupFile := filepath.Join(dir, "fuzzer_setup")
	statsFile := filepath.Join(dir, "fuzzer_stats")
	require.NoError(t, os.WriteFile(setupFile, []byte("setup"), 0o644))
	require.NoError(t, os.WriteFile(statsFile, []byte("fuzzer_pid   : 1\n"), 0o644))
	now := time.Now()
	require.NoError(t, os.Chtimes(setupFile, now.Add(-time.Minute), now.Add(-time.Minute)))
	require.NoError(t, os.Chtimes(statsFile, now, now))
	assert.Equal(t, StatusRunning, a.Status())
}
