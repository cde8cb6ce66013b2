// Package config loads and validates a campaign's config.toml (spec.md
// §6): fuzzer backends, cluster-formation/selection/oracle algebra
// choices, seed-stopping conditions, and environment passthrough.
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/rosa-project/rosa/internal/rosaerr"
	"github.com/rosa-project/rosa/pkg/distance"
	"github.com/rosa-project/rosa/pkg/fuzzeradapter"
	"github.com/rosa-project/rosa/pkg/oracle"
)

// SeedConditions describes when phase 1 (seed collection) ends (spec.md
// §4.7): the first condition to be met wins. At least one must be set.
type SeedConditions struct {
	Seconds         *uint64  `toml:"seconds"`
	EdgeCoverage    *float64 `toml:"edge_coverage"`
	SyscallCoverage *float64 `toml:"syscall_coverage"`
}

// Valid reports whether at least one stopping condition is configured.
func (s SeedConditions) Valid() bool {
	return s.Seconds != nil || s.EdgeCoverage != nil || s.SyscallCoverage != nil
}

// Check reports whether any configured condition has been met.
func (s SeedConditions) Check(seconds uint64, edgeCoverage, syscallCoverage float64) bool {
	if s.Seconds != nil && seconds >= *s.Seconds {
		return true
	}
	if s.EdgeCoverage != nil && edgeCoverage >= *s.EdgeCoverage {
		return true
	}
	if s.SyscallCoverage != nil && syscallCoverage >= *s.SyscallCoverage {
		return true
	}
	return false
}

// Config is the raw TOML-deserialized form of config.toml (spec.md §6).
type Config struct {
	OutputDir string         `toml:"output_dir"`
	Fuzzers   []rawFuzzer    `toml:"fuzzers"`
	Seed      SeedConditions `toml:"seed_conditions"`

	ClusterFormationCriterion        string `toml:"cluster_formation_criterion"`
	ClusterFormationMetric           string `toml:"cluster_formation_distance_metric"`
	ClusterFormationEdgeTolerance    uint64 `toml:"cluster_formation_edge_tolerance"`
	ClusterFormationSyscallTolerance uint64 `toml:"cluster_formation_syscall_tolerance"`

	ClusterSelectionCriterion string `toml:"cluster_selection_criterion"`
	ClusterSelectionMetric    string `toml:"cluster_selection_distance_metric"`

	OracleName      string `toml:"oracle"`
	OracleCriterion string `toml:"oracle_criterion"`
	OracleMetric    string `toml:"oracle_distance_metric"`

	PollIntervalMillis int64 `toml:"poll_interval_millis"`
	TraceReadyRetries  int   `toml:"trace_ready_retries"`
}

// rawFuzzer is one [[fuzzers]] entry. AFL++ is the only backend kind
// currently wired (spec.md §4.6/§9); adding a second kind only touches
// resolveBackend.
type rawFuzzer struct {
	Name      string            `toml:"name"`
	Env       map[string]string `toml:"env"`
	Kind      string            `toml:"kind"`
	AflFuzz   string            `toml:"afl_fuzz"`
	IsMain    bool              `toml:"is_main"`
	InputDir  string            `toml:"input_dir"`
	OutputDir string            `toml:"output_dir"`
	Target    []string          `toml:"target"`
	ExtraArgs []string          `toml:"extra_args"`
}

func (r rawFuzzer) resolveBackend() (fuzzeradapter.Backend, error) {
	switch r.Kind {
	case "afl++", "":
		return &fuzzeradapter.AFLPlusPlus{
			NameField: r.Name,
			IsMain:    r.IsMain,
			AflFuzz:   r.AflFuzz,
			InputDir:  r.InputDir,
			OutputDir: r.OutputDir,
			Target:    r.Target,
			ExtraArgs: r.ExtraArgs,
		}, nil
	default:
		return nil, rosaerr.New(rosaerr.KindConfig, "unknown fuzzer backend kind %q", r.Kind)
	}
}

// Resolved is a Config with its string-named algebra choices parsed into
// their concrete types, ready to drive the campaign controller.
type Resolved struct {
	OutputDir string
	Fuzzers   []ResolvedFuzzer
	Seed      SeedConditions

	ClusterFormationCriterion        distance.Criterion
	ClusterFormationMetric           distance.Metric
	ClusterFormationEdgeTolerance    uint64
	ClusterFormationSyscallTolerance uint64

	ClusterSelectionCriterion distance.Criterion
	ClusterSelectionMetric    distance.Metric

	Oracle          oracle.Oracle
	OracleCriterion distance.Criterion
	OracleMetric    distance.Metric

	PollIntervalMillis int64
	TraceReadyRetries  int

	// RawTOML is the exact bytes Load read off disk, kept so the
	// Campaign Controller can copy the effective configuration into the
	// output directory verbatim (spec.md §6's config.toml).
	RawTOML []byte
}

// ResolvedFuzzer pairs a name/env with its live backend.
type ResolvedFuzzer struct {
	Name    string
	Env     map[string]string
	Backend fuzzeradapter.Backend
}

const (
	defaultPollIntervalMs    = 250
	defaultTraceReadyRetries = 20
)

// Load reads, validates, and resolves a config.toml file.
func Load(path string) (Resolved, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Resolved{}, rosaerr.Wrap(rosaerr.KindIO, err, "failed to read configuration from %q", path)
	}

	var c Config
	if err := toml.Unmarshal(raw, &c); err != nil {
		return Resolved{}, rosaerr.Wrap(rosaerr.KindConfig, err, "failed to deserialize config TOML")
	}

	if !c.Seed.Valid() {
		return Resolved{}, rosaerr.New(rosaerr.KindConfig,
			"at least one seed condition must be specified to know when to stop collecting seeds")
	}

	r := Resolved{
		OutputDir:                         c.OutputDir,
		Seed:                              c.Seed,
		RawTOML:                           raw,
		ClusterFormationEdgeTolerance:     c.ClusterFormationEdgeTolerance,
		ClusterFormationSyscallTolerance:  c.ClusterFormationSyscallTolerance,
		PollIntervalMillis:                c.PollIntervalMillis,
		TraceReadyRetries:                 c.TraceReadyRetries,
	}
	if r.PollIntervalMillis == 0 {
		r.PollIntervalMillis = defaultPollIntervalMs
	}
	if r.TraceReadyRetries == 0 {
		r.TraceReadyRetries = defaultTraceReadyRetries
	}

	r.ClusterFormationCriterion, err = parseCriterionOrDefault(c.ClusterFormationCriterion, distance.EdgesOnly)
	if err != nil {
		return Resolved{}, err
	}
	r.ClusterFormationMetric, err = parseMetricOrDefault(c.ClusterFormationMetric)
	if err != nil {
		return Resolved{}, err
	}
	r.ClusterSelectionCriterion, err = parseCriterionOrDefault(c.ClusterSelectionCriterion, distance.EdgesAndSyscalls)
	if err != nil {
		return Resolved{}, err
	}
	r.ClusterSelectionMetric, err = parseMetricOrDefault(c.ClusterSelectionMetric)
	if err != nil {
		return Resolved{}, err
	}
	r.OracleCriterion, err = parseCriterionOrDefault(c.OracleCriterion, distance.SyscallsOnly)
	if err != nil {
		return Resolved{}, err
	}
	r.OracleMetric, err = parseMetricOrDefault(c.OracleMetric)
	if err != nil {
		return Resolved{}, err
	}
	r.Oracle, err = parseOracleOrDefault(c.OracleName)
	if err != nil {
		return Resolved{}, err
	}

	for _, rf := range c.Fuzzers {
		backend, err := rf.resolveBackend()
		if err != nil {
			return Resolved{}, err
		}
		r.Fuzzers = append(r.Fuzzers, ResolvedFuzzer{Name: rf.Name, Env: rf.Env, Backend: backend})
	}

	return r, nil
}

func parseCriterionOrDefault(name string, def distance.Criterion) (distance.Criterion, error) {
	if name == "" {
		return def, nil
	}
	c, ok := distance.ParseCriterion(name)
	if !ok {
		return 0, rosaerr.New(rosaerr.KindConfig, "unknown criterion %q", name)
	}
	return c, nil
}

func parseMetricOrDefault(name string) (distance.Metric, error) {
	if name == "" {
		return distance.Hamming{}, nil
	}
	m, ok := distance.ParseMetric(name)
	if !ok {
		return nil, rosaerr.New(rosaerr.KindConfig, "unknown distance metric %q", name)
	}
	return m, nil
}

func parseOracleOrDefault(name string) (oracle.Oracle, error) {
	switch name {
	case "", "comp-min-max":
		return oracle.CompMinMax{}, nil
	default:
		return nil, rosaerr.New(rosaerr.KindConfig, "unknown oracle algorithm %q", name)
	}
}

// MainFuzzer returns the fuzzer configured with name "main", the one the
// campaign controller collects seeds from exclusively unless configured
// otherwise (spec.md §4.6).
func (r Resolved) MainFuzzer() (ResolvedFuzzer, error) {
	for _, f := range r.Fuzzers {
		if f.Name == "main" {
			return f, nil
		}
	}
	return ResolvedFuzzer{}, rosaerr.New(rosaerr.KindConfig, "no 'main' fuzzer found in the configuration")
}
