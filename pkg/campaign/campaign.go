// Package campaign implements the Campaign Controller (spec.md §4.7): the
// phase state machine that drives fuzzer processes, feeds their output
// through the Collector, Cluster Builder and Oracle, and persists findings,
// grounded on the original implementation's rosa.rs run() loop.
package campaign

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rosa-project/rosa/internal/campaignstats"
	"github.com/rosa-project/rosa/internal/rosaerr"
	"github.com/rosa-project/rosa/internal/rosalog"
	"github.com/rosa-project/rosa/pkg/cluster"
	"github.com/rosa-project/rosa/pkg/collector"
	"github.com/rosa-project/rosa/pkg/config"
	"github.com/rosa-project/rosa/pkg/finding"
	"github.com/rosa-project/rosa/pkg/fuzzeradapter"
	"github.com/rosa-project/rosa/pkg/trace"
)

// Clock abstracts wall-clock time so tests can run the loop without
// sleeping real seconds. realClock is the stdlib-backed implementation.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// maxWaitForFuzzersAttempts bounds how many poll intervals Run waits for
// every fuzzer to report StatusRunning before giving up and proceeding.
const maxWaitForFuzzersAttempts = 20

// Controller owns one campaign end to end: fuzzer instances, the output
// directory layout, the collector's dedup state, and the clusters/known
// traces accumulated so far.
type Controller struct {
	Config config.Resolved
	Layout finding.Layout

	instances []*fuzzeradapter.Instance
	collector *collector.Collector
	stats     *finding.StatsWriter

	// Stats is the live metrics registry (internal/campaignstats): its
	// gauges are updated whenever a stats.csv row is written (at most once
	// a second), its discriminant-size distribution on every detection,
	// and it is readable concurrently by an
	// internal/httpstatus.Server wrapping the same Controller.
	Stats *campaignstats.CampaignStats

	clock Clock

	knownTraces     map[string]trace.Pair
	knownTraceOrder []trace.Pair
	clusters        []*cluster.Cluster

	startTime time.Time

	uniqueBackdoors map[string]struct{}
	totalBackdoors  uint64

	// CollectFromAllFuzzers mirrors the --collect-from-all-fuzzers flag: by
	// default only the "main" fuzzer instance's traces feed the pipeline.
	CollectFromAllFuzzers bool
}

// New sets up a Controller for the given resolved config, creating the
// output directory layout (force controls whether an existing one is
// overwritten) and one not-yet-spawned Instance per configured fuzzer.
func New(cfg config.Resolved, force bool) (*Controller, error) {
	layout, err := finding.Setup(cfg.OutputDir, force)
	if err != nil {
		return nil, err
	}
	if err := layout.SaveConfig(cfg.RawTOML); err != nil {
		return nil, err
	}

	c := &Controller{
		Config:          cfg,
		Layout:          layout,
		collector:       collector.New(cfg.TraceReadyRetries),
		Stats:           campaignstats.NewCampaignStats(),
		clock:           realClock{},
		knownTraces:     make(map[string]trace.Pair),
		uniqueBackdoors: make(map[string]struct{}),
	}

	for _, rf := range cfg.Fuzzers {
		logFile := filepath.Join(layout.LogsDir(), "fuzzer_"+rf.Name+".log")
		inst, err := fuzzeradapter.Create(fuzzeradapter.Config{Env: rf.Env, Backend: rf.Backend}, logFile)
		if err != nil {
			return nil, err
		}
		c.instances = append(c.instances, inst)
	}

	return c, nil
}

func (c *Controller) sources() []collector.Source {
	var out []collector.Source
	for _, inst := range c.instances {
		b := inst.Config.Backend
		if !c.CollectFromAllFuzzers && b.Name() != "main" {
			continue
		}
		out = append(out, collector.Source{
			FuzzerName:      b.Name(),
			TestInputDir:    b.TestInputDir(),
			RuntimeTraceDir: b.RuntimeTraceDir(),
		})
	}
	return out
}

// Run starts every fuzzer instance and drives the phase state machine
// until ctx is cancelled (e.g. by a Ctrl-C handler registered by the
// caller), then stops every fuzzer instance before returning.
func (c *Controller) Run(ctx context.Context) error {
	stats, err := finding.NewStatsWriter(c.Config.OutputDir)
	if err != nil {
		return err
	}
	c.stats = stats

	if err := c.Layout.SetPhase(finding.PhaseStarting); err != nil {
		return err
	}
	if err := c.Layout.SetCoverage(0, 0); err != nil {
		return err
	}

	if err := c.spawnAll(); err != nil {
		return err
	}
	c.waitForFuzzers(ctx, maxWaitForFuzzersAttempts)

	c.startTime = c.clock.Now()
	lastLogTime := c.startTime

	if err := withCleanup(c, c.Layout.SetPhase(finding.PhaseCollecting)); err != nil {
		return err
	}

	alreadyWarnedAboutCrashes := false

	for ctx.Err() == nil {
		if !alreadyWarnedAboutCrashes {
			warned, err := c.checkCrashes()
			if err != nil {
				return withCleanup(c, err)
			}
			alreadyWarnedAboutCrashes = alreadyWarnedAboutCrashes || warned
		}

		newPairs, err := c.collectNewPairs(ctx)
		if err != nil {
			return withCleanup(c, err)
		}

		if err := c.saveTraces(newPairs); err != nil {
			return withCleanup(c, err)
		}

		edgeCoverage, syscallCoverage := trace.Coverage(c.knownTraceOrder)
		if err := c.Layout.SetCoverage(edgeCoverage, syscallCoverage); err != nil {
			return withCleanup(c, err)
		}

		now := c.clock.Now()
		if now.Sub(lastLogTime) >= time.Second {
			if err := c.stats.Append(
				uint64(now.Sub(c.startTime).Seconds()),
				uint64(len(c.knownTraces)),
				uint64(len(c.uniqueBackdoors)),
				c.totalBackdoors,
				edgeCoverage,
				syscallCoverage,
			); err != nil {
				return withCleanup(c, err)
			}
			c.Stats.Update(
				uint64(len(c.knownTraces)),
				uint64(len(c.uniqueBackdoors)),
				c.totalBackdoors,
				edgeCoverage,
				syscallCoverage,
			)
			lastLogTime = now
		}

		phase, err := c.Layout.GetPhase()
		if err != nil {
			return withCleanup(c, err)
		}

		if phase == finding.PhaseCollecting {
			if err := c.runSeedPhase(newPairs, edgeCoverage, syscallCoverage); err != nil {
				return withCleanup(c, err)
			}
		} else {
			if err := c.runDetectionPhase(newPairs); err != nil {
				return withCleanup(c, err)
			}
		}

		select {
		case <-ctx.Done():
		case <-time.After(c.pollInterval()):
		}
	}

	rosalog.Logf(0, "stopping fuzzer processes")
	c.stopAll()

	return c.Layout.SetPhase(finding.PhaseStopped)
}

func (c *Controller) pollInterval() time.Duration {
	return time.Duration(c.Config.PollIntervalMillis) * time.Millisecond
}

func (c *Controller) spawnAll() error {
	for _, inst := range c.instances {
		rosalog.Logf(1, "starting fuzzer process %q: %s", inst.Config.Backend.Name(), inst.CmdAsString())
		if err := inst.Spawn(); err != nil {
			return err
		}
	}
	// Give every process a moment to get up and running before polling it,
	// the way start_fuzzer_process sleeps 200ms after spawn.
	time.Sleep(200 * time.Millisecond)
	return nil
}

// waitForFuzzers blocks until every instance's backend reports
// StatusRunning, or maxAttempts polls have passed (spec.md §4.7
// wait_for_fuzzers): a fuzzer stuck in "starting" this long is logged as a
// warning but never blocks the campaign forever.
func (c *Controller) waitForFuzzers(ctx context.Context, maxAttempts int) {
	for _, inst := range c.instances {
		backend := inst.Config.Backend
		for attempt := 0; ; attempt++ {
			if collector.Status(backend) == fuzzeradapter.StatusRunning {
				break
			}
			if attempt >= maxAttempts {
				rosalog.Warnf("fuzzer %q did not report running after %d attempts; proceeding anyway",
					backend.Name(), maxAttempts)
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.pollInterval()):
			}
		}
	}
}

func (c *Controller) stopAll() {
	for _, inst := range c.instances {
		if err := inst.Stop(); err != nil {
			rosalog.Logf(0, "could not stop fuzzer process %q: %v", inst.Config.Backend.Name(), err)
		}
	}
}

// checkCrashes reports whether any configured fuzzer has produced a crash,
// logging a warning the first time (spec.md §4.7): crashing inputs distract
// the fuzzer from exploring further and should be fixed before the campaign
// continues.
func (c *Controller) checkCrashes() (bool, error) {
	warned := false
	for _, inst := range c.instances {
		found, err := inst.Config.Backend.FoundCrashes()
		if err != nil {
			return warned, err
		}
		if found {
			rosalog.Logf(0, "warning: the fuzzer %q has detected one or more crashes; this is probably "+
				"hindering exploration. Fix the crashes and try again", inst.Config.Backend.Name())
			warned = true
		}
	}
	return warned, nil
}

func (c *Controller) collectNewPairs(ctx context.Context) ([]trace.Pair, error) {
	var newPairs []trace.Pair
	err := c.collector.Poll(ctx, c.sources(), func(p trace.Pair) error {
		newPairs = append(newPairs, p)
		if _, seen := c.knownTraces[p.UID]; !seen {
			c.knownTraceOrder = append(c.knownTraceOrder, p)
		}
		c.knownTraces[p.UID] = p
		return nil
	})
	return newPairs, err
}

func (c *Controller) saveTraces(pairs []trace.Pair) error {
	for _, p := range pairs {
		tracesDir := c.Layout.TracesDir()
		if err := os.WriteFile(filepath.Join(tracesDir, p.UID), p.InputBytes, 0o644); err != nil {
			return rosaerr.Wrap(rosaerr.KindIO, err, "could not save test input %q", p.UID)
		}
		if err := os.WriteFile(filepath.Join(tracesDir, p.UID+".trace"), p.Trace.Serialize(), 0o644); err != nil {
			return rosaerr.Wrap(rosaerr.KindIO, err, "could not save trace dump %q", p.UID)
		}
	}
	return nil
}

// runSeedPhase persists a seed decision for every newly collected pair and
// checks whether the configured stopping condition has been met; if so, it
// builds and saves the clusters and transitions to the detection phase.
func (c *Controller) runSeedPhase(newPairs []trace.Pair, edgeCoverage, syscallCoverage float64) error {
	seconds := uint64(c.clock.Now().Sub(c.startTime).Seconds())
	for _, p := range newPairs {
		td := finding.TimedDecision{
			Decision: finding.Decision{
				TraceUID:   p.UID,
				TraceName:  p.Name,
				ClusterUID: "<none>",
				IsBackdoor: false,
				Reason:     "seed",
			},
			Seconds: seconds,
		}
		if err := td.Save(c.Layout.DecisionsDir()); err != nil {
			return err
		}
	}

	if !c.Config.Seed.Check(seconds, edgeCoverage, syscallCoverage) {
		return nil
	}

	if err := c.Layout.SetPhase(finding.PhaseClustering); err != nil {
		return err
	}

	rosalog.Logf(0, "clustering seed traces")
	c.clusters = cluster.Build(
		c.knownTraceOrder,
		c.Config.ClusterFormationCriterion,
		c.Config.ClusterFormationMetric,
		c.Config.ClusterFormationEdgeTolerance,
		c.Config.ClusterFormationSyscallTolerance,
	)
	if err := cluster.Save(c.clusters, c.Layout.ClustersDir()); err != nil {
		return err
	}
	rosalog.Logf(0, "created %d clusters", len(c.clusters))

	return c.Layout.SetPhase(finding.PhaseDetecting)
}

// runDetectionPhase runs oracle inference on every newly collected pair,
// persisting a decision (and the backdoor input, if flagged) for each.
func (c *Controller) runDetectionPhase(newPairs []trace.Pair) error {
	seconds := uint64(c.clock.Now().Sub(c.startTime).Seconds())

	for _, p := range newPairs {
		idx := cluster.SelectCluster(p, c.clusters, c.Config.ClusterSelectionCriterion, c.Config.ClusterSelectionMetric)
		if idx < 0 {
			return rosaerr.New(rosaerr.KindInternal, "could not find a cluster for trace %q; no clusters were formed", p.UID)
		}
		selected := c.clusters[idx]

		decision := c.Config.Oracle.Decide(p, selected, c.Config.OracleCriterion, c.Config.OracleMetric)

		if decision.IsBackdoor {
			c.totalBackdoors++

			discriminantsUID := finding.DiscriminantsUID(c.Config.OracleCriterion, decision.ClusterUID, decision.Discriminants)
			isNew, err := finding.SaveBackdoorInput(p, c.Layout.BackdoorsDir(), discriminantsUID)
			if err != nil {
				return rosaerr.Wrap(rosaerr.KindIO, err, "could not save backdoor input for %q", p.UID)
			}
			if isNew {
				c.uniqueBackdoors[discriminantsUID] = struct{}{}
			}

			c.Stats.ObserveDiscriminantSize(
				len(decision.Discriminants.TraceEdges) + len(decision.Discriminants.ClusterEdges) +
					len(decision.Discriminants.TraceSyscalls) + len(decision.Discriminants.ClusterSyscalls),
			)
		}

		td := finding.NewTimedDecision(decision, seconds)
		td.Decision.TraceName = p.Name
		if err := td.Save(c.Layout.DecisionsDir()); err != nil {
			return err
		}
	}

	return nil
}

// withCleanup mirrors the original implementation's with_cleanup! macro:
// on any error, every fuzzer instance is stopped before the error
// propagates, so a failed campaign never leaves orphaned fuzzer processes
// behind. A nil err is passed through untouched.
func withCleanup(c *Controller, err error) error {
	if err == nil {
		return nil
	}
	c.stopAll()
	return err
}

// NotifyStop registers an os.Interrupt handler that cancels the returned
// context, the idiom the campaign binary uses to turn Ctrl-C into a
// graceful shutdown (grounded on syz-verifier's SetPrintStatAtSIGINT).
func NotifyStop(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	osSignalChannel := make(chan os.Signal, 1)
	signal.Notify(osSignalChannel, os.Interrupt)

	go func() {
		select {
		case <-osSignalChannel:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(osSignalChannel)
		cancel()
	}
}
