// Package cluster implements the Cluster Builder (spec.md §4.4): a greedy,
// order-stable agglomerative clustering pass run exactly once, at the
// phase 1 -> phase 2 transition, over the deduplicated seed set.
package cluster

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rosa-project/rosa/internal/atomicfile"
	"github.com/rosa-project/rosa/pkg/distance"
	"github.com/rosa-project/rosa/pkg/trace"
)

// Cluster is a non-empty ordered set of seed pairs sharing a behavioral
// family, plus the running min/max distances used by both cluster
// formation and the CompMinMax oracle (spec.md §4.4/§4.5). These track
// the same bookkeeping as the original's min_edge_distance/
// max_edge_distance/min_syscall_distance/max_syscall_distance fields
// rather than a full pairwise matrix: that's exactly what CompMinMax
// needs (min(D_t) vs max(D_c)), and what the original implementation
// computes incrementally as traces join.
type Cluster struct {
	UID            string
	Traces         []trace.Pair
	MinEdgeDist    uint64
	MaxEdgeDist    uint64
	MinSyscallDist uint64
	MaxSyscallDist uint64
}

func newCluster(index int, p trace.Pair, edgeTolerance, syscallTolerance uint64) *Cluster {
	return &Cluster{
		UID:            fmt.Sprintf("cluster_%06d", index),
		Traces:         []trace.Pair{p},
		MinEdgeDist:    edgeTolerance,
		MaxEdgeDist:    edgeTolerance,
		MinSyscallDist: syscallTolerance,
		MaxSyscallDist: syscallTolerance,
	}
}

// Build clusters a slice of pairs in insertion order (spec.md §4.4 steps
// 1-3): each pair is assigned to the first cluster whose every member
// matches it under the formation criterion/tolerances, or seeds a new
// cluster otherwise. The result is deterministic for a given input order.
func Build(pairs []trace.Pair, criterion distance.Criterion, metric distance.Metric, edgeTolerance, syscallTolerance uint64) []*Cluster {
	var clusters []*Cluster

	for _, p := range pairs {
		assigned := false

		for _, c := range clusters {
			maxEdge := maxDistanceTo(p.Trace.Edges, c.Traces, metric, func(t trace.Pair) []byte { return t.Trace.Edges })
			maxSyscall := maxDistanceTo(p.Trace.Syscalls, c.Traces, metric, func(t trace.Pair) []byte { return t.Trace.Syscalls })

			edgeOK := maxEdge <= c.MinEdgeDist
			syscallOK := maxSyscall <= c.MinSyscallDist

			if criterion.FormationMatch(edgeOK, syscallOK) {
				c.Traces = append(c.Traces, p)
				c.MinEdgeDist = minU64(c.MinEdgeDist, maxU64(maxEdge, edgeTolerance))
				c.MaxEdgeDist = maxU64(c.MaxEdgeDist, maxEdge)
				c.MinSyscallDist = minU64(c.MinSyscallDist, maxU64(maxSyscall, syscallTolerance))
				c.MaxSyscallDist = maxU64(c.MaxSyscallDist, maxSyscall)
				assigned = true
				break
			}
		}

		if !assigned {
			clusters = append(clusters, newCluster(len(clusters), p, edgeTolerance, syscallTolerance))
		}
	}

	return clusters
}

// SelectCluster picks the cluster minimizing the selection-criterion
// distance to p (spec.md §4.7), ties broken by cluster UID (i.e.
// creation) order. Returns -1 if clusters is empty.
func SelectCluster(p trace.Pair, clusters []*Cluster, criterion distance.Criterion, metric distance.Metric) int {
	return mostSimilarIndex(p, clusters, criterion, metric)
}

// mostSimilarIndex implements get_most_similar_cluster from
// clustering.rs: for each cluster, compute the minimum edge/syscall/
// combined distance from p to any member, combine according to
// criterion, and keep the strictly-smallest result (so the first,
// lowest-UID cluster wins ties).
func mostSimilarIndex(p trace.Pair, clusters []*Cluster, criterion distance.Criterion, metric distance.Metric) int {
	best := -1
	var bestDistance uint64 = ^uint64(0)

	for i, c := range clusters {
		if len(c.Traces) == 0 {
			continue
		}
		var minEdge, minSyscall, minCombined uint64 = ^uint64(0), ^uint64(0), ^uint64(0)
		for _, member := range c.Traces {
			de := metric.Distance(p.Trace.Edges, member.Trace.Edges)
			ds := metric.Distance(p.Trace.Syscalls, member.Trace.Syscalls)
			if de < minEdge {
				minEdge = de
			}
			if ds < minSyscall {
				minSyscall = ds
			}
			combined := saturatingAdd(de, ds)
			if combined < minCombined {
				minCombined = combined
			}
		}

		var candidate uint64
		switch criterion {
		case distance.EdgesOnly:
			candidate = minEdge
		case distance.SyscallsOnly:
			candidate = minSyscall
		case distance.EdgesOrSyscalls:
			candidate = proportionalMin(minEdge, len(p.Trace.Edges), minSyscall, len(p.Trace.Syscalls))
		case distance.EdgesAndSyscalls:
			candidate = minCombined
		default:
			candidate = minEdge
		}

		if candidate < bestDistance {
			bestDistance = candidate
			best = i
		}
	}

	return best
}

// proportionalMin mirrors clustering.rs's edges-or-syscalls selection
// rule: normalize each minimum distance by its vector's length and keep
// the proportionally smaller of the two, expressed back as an integer.
func proportionalMin(minEdge uint64, edgeLen int, minSyscall uint64, syscallLen int) uint64 {
	edgeRatio, edgeOK := ratio(minEdge, edgeLen)
	syscallRatio, syscallOK := ratio(minSyscall, syscallLen)

	switch {
	case edgeOK && syscallOK:
		if edgeRatio <= syscallRatio {
			return uint64(edgeRatio)
		}
		return uint64(syscallRatio)
	case edgeOK:
		return uint64(edgeRatio)
	case syscallOK:
		return uint64(syscallRatio)
	default:
		return 0
	}
}

func ratio(dist uint64, length int) (float64, bool) {
	if length == 0 {
		return 0, false
	}
	return float64(dist) / float64(length), true
}

func maxDistanceTo(v []byte, members []trace.Pair, metric distance.Metric, sel func(trace.Pair) []byte) uint64 {
	var max uint64
	for _, m := range members {
		d := metric.Distance(v, sel(m))
		if d > max {
			max = d
		}
	}
	return max
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// Save writes one cluster file per cluster into outputDir
// (clusters/<uid>, spec.md §6), one member UID per line, atomically.
func Save(clusters []*Cluster, outputDir string) error {
	for _, c := range clusters {
		uids := make([]string, len(c.Traces))
		for i, t := range c.Traces {
			uids[i] = t.UID
		}
		path := filepath.Join(outputDir, c.UID)
		if err := atomicfile.Write(path, []byte(strings.Join(uids, "\n")+"\n")); err != nil {
			return err
		}
	}
	return nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
