// Package finding implements output-directory layout and persistence
// (spec.md §6): decision files, backdoor-triggering inputs grouped by
// finding fingerprint, the phase/coverage status files, and stats.csv.
package finding

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/rosa-project/rosa/internal/atomicfile"
	"github.com/rosa-project/rosa/internal/rosaerr"
	"github.com/rosa-project/rosa/internal/rosahash"
	"github.com/rosa-project/rosa/pkg/distance"
	"github.com/rosa-project/rosa/pkg/oracle"
	"github.com/rosa-project/rosa/pkg/trace"
)

// Decision is the on-disk form of an oracle verdict (spec.md §3/§6).
type Decision struct {
	TraceUID      string              `toml:"trace_uid"`
	TraceName     string              `toml:"trace_name"`
	ClusterUID    string              `toml:"cluster_uid"`
	IsBackdoor    bool                `toml:"is_backdoor"`
	Reason        string              `toml:"reason"`
	Discriminants DiscriminantsRecord `toml:"discriminants"`
}

// DiscriminantsRecord is oracle.Discriminants in TOML-serializable form.
type DiscriminantsRecord struct {
	TraceEdges      []int `toml:"trace_edges"`
	ClusterEdges    []int `toml:"cluster_edges"`
	TraceSyscalls   []int `toml:"trace_syscalls"`
	ClusterSyscalls []int `toml:"cluster_syscalls"`
}

// TimedDecision is a Decision stamped with the number of seconds elapsed
// since the campaign started, the unit the stats.csv timeline also uses.
type TimedDecision struct {
	Decision Decision `toml:"decision"`
	Seconds  uint64   `toml:"seconds"`
}

// NewTimedDecision builds a TimedDecision from an oracle verdict.
func NewTimedDecision(d oracle.Decision, seconds uint64) TimedDecision {
	return TimedDecision{
		Decision: Decision{
			TraceUID:   d.TraceUID,
			ClusterUID: d.ClusterUID,
			IsBackdoor: d.IsBackdoor,
			Reason:     d.Reason.String(),
			Discriminants: DiscriminantsRecord{
				TraceEdges:      d.Discriminants.TraceEdges,
				ClusterEdges:    d.Discriminants.ClusterEdges,
				TraceSyscalls:   d.Discriminants.TraceSyscalls,
				ClusterSyscalls: d.Discriminants.ClusterSyscalls,
			},
		},
		Seconds: seconds,
	}
}

// Save writes the decision atomically into decisionsDir/<trace_uid>.toml.
func (td TimedDecision) Save(decisionsDir string) error {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(td); err != nil {
		return rosaerr.Wrap(rosaerr.KindInternal, err, "could not serialize decision TOML")
	}
	path := filepath.Join(decisionsDir, td.Decision.TraceUID+".toml")
	return atomicfile.Write(path, []byte(sb.String()))
}

// LoadDecision reads back a decision file written by Save.
func LoadDecision(path string) (TimedDecision, error) {
	var td TimedDecision
	if _, err := toml.DecodeFile(path, &td); err != nil {
		return TimedDecision{}, rosaerr.Wrap(rosaerr.KindIO, err, "could not load decision from %q", path)
	}
	return td, nil
}

// DiscriminantsUID computes the deduplication key for a backdoor finding
// (spec.md §4.8): a hash of whichever discriminant fields the criterion
// cares about, combined with the cluster UID so that detections made
// against different clusters are never folded together.
func DiscriminantsUID(criterion distance.Criterion, clusterUID string, d oracle.Discriminants) string {
	var pieces [][]byte
	switch criterion {
	case distance.EdgesOnly:
		pieces = [][]byte{intsToBytes(d.TraceEdges), intsToBytes(d.ClusterEdges)}
	case distance.SyscallsOnly:
		pieces = [][]byte{intsToBytes(d.TraceSyscalls), intsToBytes(d.ClusterSyscalls)}
	default:
		pieces = [][]byte{
			intsToBytes(d.TraceEdges), intsToBytes(d.ClusterEdges),
			intsToBytes(d.TraceSyscalls), intsToBytes(d.ClusterSyscalls),
		}
	}
	return fmt.Sprintf("%s_%s", rosahash.Short(16, pieces...), clusterUID)
}

func intsToBytes(values []int) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:i*8+8], uint64(v))
	}
	return out
}

// SaveBackdoorInput groups a backdoor-triggering input under its finding
// fingerprint directory (spec.md §6): backdoors/<discriminants_uid>/<pair_uid>.
// Returns whether this created a brand-new finding directory (i.e. a
// previously-unseen finding, for the unique-backdoor counter).
func SaveBackdoorInput(p trace.Pair, backdoorsDir, discriminantsUID string) (isNewFinding bool, err error) {
	dir := filepath.Join(backdoorsDir, discriminantsUID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if !os.IsExist(err) {
			return false, rosaerr.Wrap(rosaerr.KindIO, err, "could not create backdoor directory %q", dir)
		}
		isNewFinding = false
	} else {
		isNewFinding = true
	}

	if err := atomicfile.Write(filepath.Join(dir, p.UID), p.InputBytes); err != nil {
		return isNewFinding, err
	}
	return isNewFinding, nil
}

// StatsWriter appends campaign-progress rows to stats.csv (spec.md §6).
type StatsWriter struct {
	path string
}

// NewStatsWriter creates stats.csv with its header row.
func NewStatsWriter(outputDir string) (*StatsWriter, error) {
	path := filepath.Join(outputDir, "stats.csv")
	f, err := os.Create(path)
	if err != nil {
		return nil, rosaerr.Wrap(rosaerr.KindIO, err, "failed to initialize stats file %q", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"seconds", "traces", "unique_backdoors", "total_backdoors", "edge_coverage", "syscall_coverage"}); err != nil {
		return nil, rosaerr.Wrap(rosaerr.KindIO, err, "failed to write stats header")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, rosaerr.Wrap(rosaerr.KindIO, err, "failed to flush stats header")
	}

	return &StatsWriter{path: path}, nil
}

// Append logs one row of campaign progress.
func (s *StatsWriter) Append(seconds, tracesSeen, uniqueBackdoors, totalBackdoors uint64, edgeCoverage, syscallCoverage float64) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return rosaerr.Wrap(rosaerr.KindIO, err, "failed to open stats file %q", s.path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	row := []string{
		strconv.FormatUint(seconds, 10),
		strconv.FormatUint(tracesSeen, 10),
		strconv.FormatUint(uniqueBackdoors, 10),
		strconv.FormatUint(totalBackdoors, 10),
		strconv.FormatFloat(edgeCoverage, 'f', -1, 64),
		strconv.FormatFloat(syscallCoverage, 'f', -1, 64),
	}
	if err := w.Write(row); err != nil {
		return rosaerr.Wrap(rosaerr.KindIO, err, "failed to log stats in %q", s.path)
	}
	w.Flush()
	return w.Error()
}
