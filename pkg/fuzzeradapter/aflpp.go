package fuzzeradapter

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rosa-project/rosa/internal/rosaerr"
)

// AFLPlusPlus is the AFL++ backend (spec.md §4.6), the fuzzer ROSA was
// originally built and evaluated against.
type AFLPlusPlus struct {
	NameField string   `toml:"name"`
	IsMain    bool     `toml:"is_main"`
	AflFuzz   string   `toml:"afl_fuzz"`
	InputDir  string   `toml:"input_dir"`
	OutputDir string   `toml:"output_dir"`
	Target    []string `toml:"target"`
	ExtraArgs []string `toml:"extra_args"`
}

func (a *AFLPlusPlus) Name() string { return a.NameField }

func (a *AFLPlusPlus) Cmd() []string {
	role := "-S"
	if a.IsMain {
		role = "-M"
	}
	cmd := []string{a.AflFuzz, "-i", a.InputDir, "-o", a.OutputDir, role, a.NameField}
	cmd = append(cmd, a.ExtraArgs...)
	cmd = append(cmd, "--")
	cmd = append(cmd, a.Target...)
	return cmd
}

func (a *AFLPlusPlus) TestInputDir() string {
	return filepath.Join(a.OutputDir, a.NameField, "queue")
}

func (a *AFLPlusPlus) RuntimeTraceDir() string {
	return filepath.Join(a.OutputDir, a.NameField, "trace_dumps")
}

func (a *AFLPlusPlus) FoundCrashes() (bool, error) {
	crashesDir := filepath.Join(a.OutputDir, a.NameField, "crashes")
	entries, err := os.ReadDir(crashesDir)
	if err != nil {
		return false, rosaerr.Wrap(rosaerr.KindAdapter, err, "invalid crashes directory %q", crashesDir)
	}
	return len(entries) > 0, nil
}

func (a *AFLPlusPlus) Status() Status {
	setupFile := filepath.Join(a.OutputDir, "fuzzer_setup")
	statsFile := filepath.Join(a.OutputDir, "fuzzer_stats")

	setupInfo, setupErr := os.Stat(setupFile)
	statsInfo, statsErr := os.Stat(statsFile)

	switch {
	case setupErr == nil && statsErr == nil:
		if setupInfo.ModTime().After(statsInfo.ModTime()) {
			return StatusStarting
		}
		pid, err := a.pid()
		if err != nil {
			return StatusStopped
		}
		if _, err := os.Stat(filepath.Join("/proc", pid)); err == nil {
			return StatusRunning
		}
		return StatusStopped
	case setupErr == nil:
		return StatusStarting
	default:
		return StatusStopped
	}
}

// pid reads the fuzzer's own PID out of its fuzzer_stats file (AFL++ has no
// other way to report it once detached from ROSA's own process tree).
func (a *AFLPlusPlus) pid() (string, error) {
	statsFile := filepath.Join(a.OutputDir, "fuzzer_stats")
	raw, err := os.ReadFile(statsFile)
	if err != nil {
		return "", rosaerr.Wrap(rosaerr.KindAdapter, err, "could not read fuzzer stats file %q to get PID", statsFile)
	}

	idx := strings.Index(string(raw), "fuzzer_pid")
	if idx < 0 {
		return "", rosaerr.New(rosaerr.KindAdapter, "could not find \"fuzzer_pid\" in %q", statsFile)
	}
	rest := string(raw)[idx:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return "", rosaerr.New(rosaerr.KindAdapter, "could not find PID value start index in %q", statsFile)
	}
	valueStart := colon + 1
	line := rest[valueStart:]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	pid := strings.TrimSpace(line)
	if _, err := strconv.Atoi(pid); err != nil {
		return "", rosaerr.New(rosaerr.KindAdapter, "malformed PID %q in %q", pid, statsFile)
	}
	return pid, nil
}
