// Package oracle implements the per-trace backdoor decision (spec.md
// §4.5): the CompMinMax algorithm, plus the discriminant computation used
// to build a finding fingerprint.
package oracle

import (
	"github.com/rosa-project/rosa/pkg/cluster"
	"github.com/rosa-project/rosa/pkg/distance"
	"github.com/rosa-project/rosa/pkg/trace"
)

// Discriminants are the existential edges/syscalls present in the trace
// but absent from the cluster, and vice versa (spec.md §3), computed
// against the nearest cluster member.
type Discriminants struct {
	TraceEdges      []int
	ClusterEdges    []int
	TraceSyscalls   []int
	ClusterSyscalls []int
}

// Decision is the oracle's verdict for one analyzed pair (spec.md §3).
type Decision struct {
	TraceUID      string
	ClusterUID    string
	IsBackdoor    bool
	Reason        distance.Reason
	Discriminants Discriminants
}

// Oracle decides whether a trace is anomalous with respect to a cluster.
// Modeled as an interface (spec.md §9) so future statistical-test variants
// can be added without touching the Campaign Controller.
type Oracle interface {
	Name() string
	Decide(p trace.Pair, c *cluster.Cluster, criterion distance.Criterion, metric distance.Metric) Decision
}

// CompMinMax is the core oracle (spec.md §4.5): a pair is flagged as a
// backdoor iff the minimum distance from its trace to any cluster member
// exceeds the cluster's cached maximum internal distance. A singleton
// cluster has max(D_c) = 0 by convention, so any deviation flags it.
type CompMinMax struct{}

func (CompMinMax) Name() string { return "comp-min-max" }

func (CompMinMax) Decide(p trace.Pair, c *cluster.Cluster, criterion distance.Criterion, metric distance.Metric) Decision {
	minEdge, edgeNearest := minDistance(p.Trace.Edges, c.Traces, metric, edgesOf)
	minSyscall, syscallNearest := minDistance(p.Trace.Syscalls, c.Traces, metric, syscallsOf)

	edgeExceeds := minEdge > c.MaxEdgeDist
	syscallExceeds := minSyscall > c.MaxSyscallDist

	isBackdoor, reason := criterion.Decide(edgeExceeds, syscallExceeds)

	nearest := nearestMember(c, edgeNearest, syscallNearest, criterion)

	return Decision{
		TraceUID:      p.UID,
		ClusterUID:    c.UID,
		IsBackdoor:    isBackdoor,
		Reason:        reason,
		Discriminants: discriminants(p, nearest),
	}
}

func edgesOf(p trace.Pair) []byte    { return p.Trace.Edges }
func syscallsOf(p trace.Pair) []byte { return p.Trace.Syscalls }

// minDistance returns the minimum distance from v to any member (via sel)
// and the index of the first member achieving it (ties broken by member
// insertion order, spec.md §4.5).
func minDistance(v []byte, members []trace.Pair, metric distance.Metric, sel func(trace.Pair) []byte) (uint64, int) {
	best := ^uint64(0)
	bestIdx := 0
	for i, m := range members {
		d := metric.Distance(v, sel(m))
		if d < best {
			best = d
			bestIdx = i
		}
	}
	return best, bestIdx
}

// nearestMember picks which member index to report discriminants against:
// the one nearest under whichever component the criterion cares about
// (falling back to the edge-nearest member for edges-and-syscalls, the
// pairing the original implementation's single comparison walk produces).
func nearestMember(c *cluster.Cluster, edgeNearest, syscallNearest int, criterion distance.Criterion) trace.Pair {
	switch criterion {
	case distance.SyscallsOnly:
		return c.Traces[syscallNearest]
	default:
		return c.Traces[edgeNearest]
	}
}

func discriminants(p trace.Pair, nearest trace.Pair) Discriminants {
	d := Discriminants{}
	d.TraceEdges = presentOnlyIn(p.Trace.Edges, nearest.Trace.Edges)
	d.ClusterEdges = presentOnlyIn(nearest.Trace.Edges, p.Trace.Edges)
	d.TraceSyscalls = presentOnlyIn(p.Trace.Syscalls, nearest.Trace.Syscalls)
	d.ClusterSyscalls = presentOnlyIn(nearest.Trace.Syscalls, p.Trace.Syscalls)
	return d
}

// presentOnlyIn returns the indices where a is non-zero (existentially
// present) and b is zero (absent), i.e. the symmetric-difference half
// belonging to a.
func presentOnlyIn(a, b []byte) []int {
	var out []int
	for i, v := range a {
		if v != 0 && (i >= len(b) || b[i] == 0) {
			out = append(out, i)
		}
	}
	return out
}
