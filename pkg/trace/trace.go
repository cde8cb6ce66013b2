// Package trace implements the Trace Store: parsing of .trace binary
// dumps into (edges, syscalls) vector pairs, the existential projection
// used by every distance computation, and the stable identifiers
// (pair UID, fingerprint) that the rest of ROSA keys on.
//
// Wire format (spec.md §6, bit-exact):
//
//	offset 0             edges_len    u64 little-endian
//	offset 8             syscalls_len u64 little-endian
//	offset 16            edges        edges_len x u8
//	offset 16+edges_len  syscalls     syscalls_len x u8
package trace

import (
	"encoding/binary"
	"os"

	"github.com/rosa-project/rosa/internal/rosaerr"
	"github.com/rosa-project/rosa/internal/rosahash"
)

const headerSize = 16

// SyscallVectorLen is the fixed syscall vector length of the current
// trace format (spec.md §3).
const SyscallVectorLen = 600

// Trace is a single runtime trace: two raw byte vectors, compared
// everywhere else via their existential projection.
type Trace struct {
	Edges    []byte
	Syscalls []byte
}

// Existential returns a vector the same length as vec, where byte i is 1
// iff vec[i] != 0. The result stays one byte per index (not packed into
// real bits) so that discriminant computations elsewhere can still address
// individual edge/syscall indices directly.
func Existential(vec []byte) []byte {
	out := make([]byte, len(vec))
	for i, b := range vec {
		if b != 0 {
			out[i] = 1
		}
	}
	return out
}

// Pair is an immutable (input, trace, fuzzer) triple. Its UID is a stable
// short hash of (FuzzerName, input file name), the canonical identifier
// used everywhere downstream of ingestion.
type Pair struct {
	UID        string
	Name       string // the basename the fuzzer gave the input file
	InputBytes []byte
	Trace      Trace
	FuzzerName string
}

// UID computes the stable identifier for a (fuzzerName, inputName) pair,
// per spec.md §3: "a stable short hash of (fuzzer_name, input file name)."
func UID(fuzzerName, inputName string) string {
	return rosahash.Short(16, []byte(fuzzerName), []byte(inputName))
}

// Load reads a test input and its matching .trace dump off disk and
// produces the immutable Pair, failing with a BadTraceFormat-kind error if
// the file is shorter than its own declared header.
func Load(inputPath, tracePath, fuzzerName string) (Pair, error) {
	inputBytes, err := os.ReadFile(inputPath)
	if err != nil {
		return Pair{}, rosaerr.Wrap(rosaerr.KindIO, err, "could not read input file %s", inputPath)
	}

	raw, err := os.ReadFile(tracePath)
	if err != nil {
		return Pair{}, rosaerr.Wrap(rosaerr.KindIO, err, "could not read trace file %s", tracePath)
	}
	tr, err := Parse(raw)
	if err != nil {
		return Pair{}, err
	}

	name := inputName(inputPath)
	return Pair{
		UID:        UID(fuzzerName, name),
		Name:       name,
		InputBytes: inputBytes,
		Trace:      tr,
		FuzzerName: fuzzerName,
	}, nil
}

// Parse decodes a .trace file's raw bytes into a Trace, enforcing the
// exact wire format from spec.md §6.
func Parse(raw []byte) (Trace, error) {
	if len(raw) < headerSize {
		return Trace{}, rosaerr.New(rosaerr.KindBadTraceFormat,
			"trace file too short for header: got %d bytes, need at least %d", len(raw), headerSize)
	}
	edgesLen := binary.LittleEndian.Uint64(raw[0:8])
	syscallsLen := binary.LittleEndian.Uint64(raw[8:16])

	declared := headerSize + edgesLen + syscallsLen
	if uint64(len(raw)) < declared {
		return Trace{}, rosaerr.New(rosaerr.KindBadTraceFormat,
			"trace file declares %d bytes of payload but only has %d", declared-headerSize, uint64(len(raw))-headerSize)
	}

	edges := make([]byte, edgesLen)
	copy(edges, raw[headerSize:headerSize+edgesLen])
	syscalls := make([]byte, syscallsLen)
	copy(syscalls, raw[headerSize+edgesLen:declared])

	return Trace{Edges: edges, Syscalls: syscalls}, nil
}

// Serialize encodes a Trace back into the wire format, the inverse of
// Parse. Used by the Campaign Controller to write traces/ back out, and by
// tests to check the round-trip property from spec.md §8.
func (t Trace) Serialize() []byte {
	out := make([]byte, headerSize+len(t.Edges)+len(t.Syscalls))
	binary.LittleEndian.PutUint64(out[0:8], uint64(len(t.Edges)))
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(t.Syscalls)))
	copy(out[headerSize:], t.Edges)
	copy(out[headerSize+len(t.Edges):], t.Syscalls)
	return out
}

// DeclaredSize returns the total file size a .trace file's 16-byte header
// promises, used by the Collector to decide whether a file on disk is
// fully written yet (spec.md §4.6).
func DeclaredSize(header []byte) (uint64, error) {
	if len(header) < headerSize {
		return 0, rosaerr.New(rosaerr.KindBadTraceFormat, "short trace header: %d bytes", len(header))
	}
	edgesLen := binary.LittleEndian.Uint64(header[0:8])
	syscallsLen := binary.LittleEndian.Uint64(header[8:16])
	return uint64(headerSize) + edgesLen + syscallsLen, nil
}

// Fingerprint returns the existential fingerprint of p: the concatenation
// of the edges and syscalls existential projections (spec.md §3). Two
// pairs are duplicates iff their fingerprints are equal.
func Fingerprint(p Pair) []byte {
	out := make([]byte, 0, len(p.Trace.Edges)+len(p.Trace.Syscalls))
	out = append(out, Existential(p.Trace.Edges)...)
	out = append(out, Existential(p.Trace.Syscalls)...)
	return out
}

// FingerprintKey returns a map-friendly key for Fingerprint(p), suitable
// for the Collector's dedup set.
func FingerprintKey(p Pair) string {
	return string(Fingerprint(p))
}

func inputName(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	return path[i+1:]
}

// Coverage computes the edge/syscall coverage ratios across every known
// trace (spec.md §9 Open Question: the original source's cli/rosa.rs calls
// trace::get_coverage, but no such function exists anywhere in the
// retrieved original_source/ tree to follow; this definition is our own,
// built on the existential-vector model everything else here already
// uses). An index counts as covered iff it is existentially 1 in at least
// one of the given pairs' traces; the ratio is that count over the vector
// length. Pairs with mismatched vector lengths are not rejected: the
// denominator is the longest vector length seen, and a shorter vector only
// contributes its own indices, since coverage is a best-effort
// campaign-progress metric, not an ingestion check.
func Coverage(pairs []Pair) (edgeCoverage, syscallCoverage float64) {
	var edgeLen, syscallLen int
	for _, p := range pairs {
		if len(p.Trace.Edges) > edgeLen {
			edgeLen = len(p.Trace.Edges)
		}
		if len(p.Trace.Syscalls) > syscallLen {
			syscallLen = len(p.Trace.Syscalls)
		}
	}
	if edgeLen == 0 && syscallLen == 0 {
		return 0, 0
	}

	coveredEdges := make([]bool, edgeLen)
	coveredSyscalls := make([]bool, syscallLen)
	for _, p := range pairs {
		for i, b := range p.Trace.Edges {
			if b != 0 {
				coveredEdges[i] = true
			}
		}
		for i, b := range p.Trace.Syscalls {
			if b != 0 {
				coveredSyscalls[i] = true
			}
		}
	}

	edgeCoverage = ratio(coveredEdges)
	syscallCoverage = ratio(coveredSyscalls)
	return edgeCoverage, syscallCoverage
}

func ratio(covered []bool) float64 {
	if len(covered) == 0 {
		return 0
	}
	var count int
	for _, c := range covered {
		if c {
			count++
		}
	}
	return float64(count) / float64(len(covered))
}

// CheckCompatible verifies two traces have matching vector lengths, per
// spec.md §4.1: "Traces of incompatible lengths across pairs are a fatal
// ingestion error unless the lengths match the configured fuzzer map size
// exactly."
func CheckCompatible(a, b Trace) error {
	if len(a.Edges) != len(b.Edges) {
		return rosaerr.New(rosaerr.KindProtocol,
			"edge vector length mismatch: %d vs %d", len(a.Edges), len(b.Edges))
	}
	if len(a.Syscalls) != len(b.Syscalls) {
		return rosaerr.New(rosaerr.KindProtocol,
			"syscall vector length mismatch: %d vs %d", len(a.Syscalls), len(b.Syscalls))
	}
	return nil
}
