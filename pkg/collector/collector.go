// Package collector implements the Collector (spec.md §4.6): it watches
// one or more fuzzer adapters' test-input/trace directories, deduplicates
// arriving pairs by existential fingerprint, and hands each surviving pair
// to a sink in deterministic arrival order.
package collector

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rosa-project/rosa/internal/rosaerr"
	"github.com/rosa-project/rosa/internal/rosalog"
	"github.com/rosa-project/rosa/pkg/fuzzeradapter"
	"github.com/rosa-project/rosa/pkg/trace"
)

// Source is whatever a fuzzer adapter exposes to the Collector: the
// directories it writes new (input, trace) pairs into.
type Source struct {
	FuzzerName      string
	TestInputDir    string
	RuntimeTraceDir string
}

// Collector deduplicates incoming pairs by existential fingerprint
// (spec.md §4.6) and guarantees at-most-once delivery to Sink across the
// whole campaign, regardless of how many times a poll observes the same
// file.
type Collector struct {
	mu           sync.Mutex
	seen         map[string]struct{} // known "<fuzzer>/<file name>" keys, to avoid re-reading a file twice
	fingerprints map[string]struct{} // known existential fingerprints, for dedup

	// TraceReadyRetries bounds how many poll cycles the collector will
	// wait for a still-being-written .trace file to reach its declared
	// length before giving up on that input permanently (non-fatal).
	TraceReadyRetries int

	retries map[string]int
}

// New creates an empty Collector.
func New(traceReadyRetries int) *Collector {
	return &Collector{
		seen:              make(map[string]struct{}),
		fingerprints:      make(map[string]struct{}),
		retries:           make(map[string]int),
		TraceReadyRetries: traceReadyRetries,
	}
}

// Poll scans every source once, in source order, loading any new,
// complete pairs and passing the ones that survive fingerprint dedup to
// sink in deterministic (fuzzer-assigned) arrival order. Sources are
// polled concurrently (bounded by errgroup), but delivery to sink is
// serialized and sorted, so the resulting order never depends on
// goroutine scheduling.
func (c *Collector) Poll(ctx context.Context, sources []Source, sink func(trace.Pair) error) error {
	results := make([][]trace.Pair, len(sources))

	g, _ := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			pairs, err := c.pollOne(src)
			if err != nil {
				return err
			}
			results[i] = pairs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var all []trace.Pair
	for _, pairs := range results {
		all = append(all, pairs...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	for _, p := range all {
		if err := sink(p); err != nil {
			return err
		}
	}

	return nil
}

// pollOne scans a single source directory and loads any new, complete
// pairs that have not yet been delivered.
func (c *Collector) pollOne(src Source) ([]trace.Pair, error) {
	entries, err := os.ReadDir(src.TestInputDir)
	if err != nil {
		return nil, rosaerr.Wrap(rosaerr.KindIO, err, "invalid test input directory %q", src.TestInputDir)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []trace.Pair
	for _, name := range names {
		key := src.FuzzerName + "/" + name

		c.mu.Lock()
		_, already := c.seen[key]
		retries := c.retries[key]
		c.mu.Unlock()
		if already {
			continue
		}

		inputPath := filepath.Join(src.TestInputDir, name)
		tracePath := filepath.Join(src.RuntimeTraceDir, name+".trace")

		ready, err := isTraceReady(tracePath)
		if err != nil {
			rosalog.Warnf("discarding %q: %v", key, err)
			c.discard(key)
			continue
		}
		if !ready {
			if retries+1 >= c.TraceReadyRetries {
				rosalog.Warnf("discarding %q: trace dump still incomplete after %d polls", key, retries+1)
				c.discard(key)
			} else {
				c.mu.Lock()
				c.retries[key] = retries + 1
				c.mu.Unlock()
			}
			continue
		}

		pair, err := trace.Load(inputPath, tracePath, src.FuzzerName)
		if err != nil {
			rosalog.Warnf("discarding %q: %v", key, err)
			c.discard(key)
			continue
		}

		c.mu.Lock()
		c.seen[key] = struct{}{}
		delete(c.retries, key)
		fp := trace.FingerprintKey(pair)
		_, dup := c.fingerprints[fp]
		if !dup {
			c.fingerprints[fp] = struct{}{}
		}
		c.mu.Unlock()

		if dup {
			continue
		}

		out = append(out, pair)
	}

	return out, nil
}

// discard marks key as seen and forgets its retry count, so a pair that
// failed permanently (too many incomplete-trace retries, or a Trace Store
// error) is never looked at again.
func (c *Collector) discard(key string) {
	c.mu.Lock()
	c.seen[key] = struct{}{}
	delete(c.retries, key)
	c.mu.Unlock()
}

// isTraceReady reports whether the trace dump file exists and its body
// matches the length its own header declares, i.e. the fuzzer has
// finished writing it.
func isTraceReady(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, rosaerr.Wrap(rosaerr.KindIO, err, "could not read trace dump file %q", path)
	}
	if len(raw) < 16 {
		return false, nil
	}
	declared, err := trace.DeclaredSize(raw[:16])
	if err != nil {
		return false, err
	}
	return uint64(len(raw)) == declared, nil
}

// Status reports the fuzzer backend's current lifecycle state, for the
// campaign controller's wait for every fuzzer to report running.
func Status(b fuzzeradapter.Backend) fuzzeradapter.Status {
	return b.Status()
}

// DefaultPollInterval is how often the campaign controller should call Poll
// during phase 1 and phase 2 (spec.md §9 Open Question, resolved to
// 250ms by default, configurable).
const DefaultPollInterval = 250 * time.Millisecond
