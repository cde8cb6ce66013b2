package finding

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rosa-project/rosa/internal/atomicfile"
	"github.com/rosa-project/rosa/internal/rosaerr"
)

// Layout is the output directory tree for one campaign (spec.md §6).
type Layout struct {
	OutputDir string
}

func (l Layout) BackdoorsDir() string { return filepath.Join(l.OutputDir, "backdoors") }
func (l Layout) ClustersDir() string  { return filepath.Join(l.OutputDir, "clusters") }
func (l Layout) DecisionsDir() string { return filepath.Join(l.OutputDir, "decisions") }
func (l Layout) LogsDir() string      { return filepath.Join(l.OutputDir, "logs") }
func (l Layout) TracesDir() string    { return filepath.Join(l.OutputDir, "traces") }

func (l Layout) currentPhaseFile() string    { return filepath.Join(l.OutputDir, ".current_phase") }
func (l Layout) currentCoverageFile() string { return filepath.Join(l.OutputDir, ".current_coverage") }
func (l Layout) configFile() string          { return filepath.Join(l.OutputDir, "config.toml") }

var readmes = map[string][]string{
	"": {
		"This is an output directory created by the backdoor detector.",
		"It contains the following subdirectories:",
		"",
		"- backdoors: contains all detected backdoor-triggering inputs",
		"- clusters: contains the different clusters that were formed prior to detection",
		"- decisions: contains the decisions of the oracle, as well as the parameters used by it",
		"- logs: contains the logs generated by the fuzzer",
		"- traces: contains all the test inputs and trace dumps corresponding to the traces",
		"  that have been evaluated so far",
		"",
		"It also contains the config.toml file, which describes the configuration parameters",
		"used to produce these results.",
		"",
	},
	"backdoors": {
		"This directory contains inputs that trigger a backdoor in the target program. The",
		"suspicious inputs are grouped by discriminants: the edges/syscalls that set a detection",
		"apart from its cluster. Analyzing one input per subdirectory is usually enough to judge",
		"the whole class.",
		"",
	},
	"clusters": {
		"This directory contains the clusters formed before detection started. Each cluster file",
		"is named after the cluster's UID and lists the UIDs of the traces that form it. The",
		"corresponding test inputs and trace dumps are in ../traces/.",
		"",
	},
	"decisions": {
		"This directory contains the decision made for every trace analyzed so far, one TOML file",
		"per trace, named after the trace's UID.",
		"",
	},
	"logs": {
		"This directory contains the logs produced by the fuzzer processes (stdout and stderr),",
		"one file per configured fuzzer instance.",
		"",
	},
	"traces": {
		"This directory contains the test inputs and trace dumps for every trace evaluated so far.",
		"Test inputs are named <TRACE_UID>; trace dumps are named <TRACE_UID>.trace.",
		"",
	},
}

// Setup creates the output directory tree, refusing to overwrite an
// existing one unless force is set (spec.md §6).
func Setup(outputDir string, force bool) (Layout, error) {
	l := Layout{OutputDir: outputDir}

	if info, err := os.Stat(outputDir); err == nil && info.IsDir() {
		if !force {
			return l, rosaerr.New(rosaerr.KindIO,
				"output directory %q already exists; use -force to overwrite", outputDir)
		}
		if err := os.RemoveAll(outputDir); err != nil {
			return l, rosaerr.Wrap(rosaerr.KindIO, err, "could not remove %q", outputDir)
		}
	}

	dirs := []string{"", "backdoors", "clusters", "decisions", "logs", "traces"}
	for _, sub := range dirs {
		dir := filepath.Join(outputDir, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return l, rosaerr.Wrap(rosaerr.KindIO, err, "could not create %q", dir)
		}
		readme := strings.Join(readmes[sub], "\n")
		if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte(readme), 0o644); err != nil {
			return l, rosaerr.Wrap(rosaerr.KindIO, err, "could not create README for %q", dir)
		}
	}

	return l, nil
}

// SaveConfig copies the effective config.toml into the output directory
// (spec.md §6: "config.toml # copy of the effective configuration"),
// mirroring the original's config.save(&config.output_dir).
func (l Layout) SaveConfig(rawTOML []byte) error {
	return atomicfile.Write(l.configFile(), rawTOML)
}

// Phase mirrors config.rs's RosaPhase: the campaign's current lifecycle
// stage, persisted as a plain string so external tools can poll it.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseCollecting Phase = "collecting-inputs"
	PhaseClustering Phase = "clustering-inputs"
	PhaseDetecting  Phase = "detecting-backdoors"
	PhaseStopped    Phase = "stopped"
)

// SetPhase persists the current phase.
func (l Layout) SetPhase(phase Phase) error {
	return os.WriteFile(l.currentPhaseFile(), []byte(phase), 0o644)
}

// GetPhase reads back the current phase.
func (l Layout) GetPhase() (Phase, error) {
	raw, err := os.ReadFile(l.currentPhaseFile())
	if err != nil {
		return "", rosaerr.Wrap(rosaerr.KindIO, err, "failed to get current phase from %q", l.currentPhaseFile())
	}
	return Phase(raw), nil
}

// SetCoverage persists the current edge/syscall coverage ratios.
func (l Layout) SetCoverage(edgeCoverage, syscallCoverage float64) error {
	content := strconv.FormatFloat(edgeCoverage, 'f', -1, 64) + "/" + strconv.FormatFloat(syscallCoverage, 'f', -1, 64)
	return os.WriteFile(l.currentCoverageFile(), []byte(content), 0o644)
}

// GetCoverage reads back the current edge/syscall coverage ratios.
func (l Layout) GetCoverage() (edgeCoverage, syscallCoverage float64, err error) {
	raw, err := os.ReadFile(l.currentCoverageFile())
	if err != nil {
		return 0, 0, rosaerr.Wrap(rosaerr.KindIO, err, "failed to get current coverage from %q", l.currentCoverageFile())
	}
	parts := strings.SplitN(string(raw), "/", 2)
	if len(parts) != 2 {
		return 0, 0, rosaerr.New(rosaerr.KindProtocol, "malformed coverage file %q", l.currentCoverageFile())
	}
	edgeCoverage, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, rosaerr.Wrap(rosaerr.KindProtocol, err, "failed to parse edge coverage")
	}
	syscallCoverage, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, rosaerr.Wrap(rosaerr.KindProtocol, err, "failed to parse syscall coverage")
	}
	return edgeCoverage, syscallCoverage, nil
}
