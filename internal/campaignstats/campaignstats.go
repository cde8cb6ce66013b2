// Package campaignstats is the runtime metrics registry for one campaign,
// in the style of syzkaller's pkg/stat: named Val gauges/histograms, each
// optionally exported to Prometheus, collected for the JSON status surface
// in internal/httpstatus. Trimmed from pkg/stat/set.go's Val+set design:
// no history buffer or graph rendering, since the campaign's own
// stats.csv (pkg/finding) already owns the time series this module would
// otherwise duplicate.
package campaignstats

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/VividCortex/gohistogram"
	"github.com/prometheus/client_golang/prometheus"
)

const histogramBuckets = 80

// Val is a single named metric: either a running integer (gauge/counter,
// set via Set/Add) or a distribution (observed via Observe), never both.
type Val struct {
	name string
	desc string

	val atomic.Int64

	histMu sync.Mutex
	hist   *gohistogram.NumericHistogram
}

// Set overwrites the current gauge value.
func (v *Val) Set(n int64) { v.val.Store(n) }

// SetFloat overwrites the current gauge value, truncating to an int64
// (coverage ratios are reported as float64 but stored scaled by 1e6 so the
// gauge keeps integer precision without a second Val type).
func (v *Val) SetFloat(f float64) { v.val.Store(int64(f * 1e6)) }

// Add increments the current value by delta.
func (v *Val) Add(delta int64) { v.val.Add(delta) }

// Value returns the current gauge value.
func (v *Val) Value() int64 { return v.val.Load() }

// FloatValue undoes SetFloat's 1e6 scaling.
func (v *Val) FloatValue() float64 { return float64(v.val.Load()) / 1e6 }

// Observe records one sample into the Val's distribution.
func (v *Val) Observe(sample float64) {
	v.histMu.Lock()
	defer v.histMu.Unlock()
	if v.hist == nil {
		v.hist = gohistogram.NewHistogram(histogramBuckets)
	}
	v.hist.Add(sample)
}

// Quantile returns the q-th quantile (0..1) of the Val's observed
// distribution, or 0 if nothing has been observed yet.
func (v *Val) Quantile(q float64) float64 {
	v.histMu.Lock()
	defer v.histMu.Unlock()
	if v.hist == nil {
		return 0
	}
	return v.hist.Quantile(q)
}

// Registry is the set of metrics for one campaign, mirroring pkg/stat's
// global set but scoped to a single Controller instead of process-global.
type Registry struct {
	mu   sync.Mutex
	vals map[string]*Val
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{vals: make(map[string]*Val)}
}

// Gauge registers a new integer gauge/counter metric, also exporting it to
// the default Prometheus registry under promName (spec.md's ambient
// observability stack carries even though the interactive TUI is a
// non-goal).
func (r *Registry) Gauge(name, desc, promName string) *Val {
	v := r.register(name, desc)
	registerOnce(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: promName, Help: desc},
		func() float64 { return float64(v.Value()) },
	))
	return v
}

// FloatGauge is like Gauge but for ratio-valued metrics (coverage), using
// Val's 1e6-scaled integer storage transparently.
func (r *Registry) FloatGauge(name, desc, promName string) *Val {
	v := r.register(name, desc)
	registerOnce(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: promName, Help: desc},
		func() float64 { return v.FloatValue() },
	))
	return v
}

// Histogram registers a new distribution metric, exporting its median to
// Prometheus (the full histogram isn't representable as a single gauge;
// /metrics gets the median, the JSON status page gets full quantiles via
// Snapshot).
func (r *Registry) Histogram(name, desc, promName string) *Val {
	v := r.register(name, desc)
	registerOnce(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: promName + "_median", Help: desc + " (median)"},
		func() float64 { return v.Quantile(0.5) },
	))
	return v
}

func (r *Registry) register(name, desc string) *Val {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := &Val{name: name, desc: desc}
	r.vals[name] = v
	return v
}

// registerOnce registers c with the default Prometheus registry, silently
// tolerating AlreadyRegisteredError so that constructing more than one
// CampaignStats in the same process (e.g. across table-driven tests)
// doesn't panic the way prometheus.MustRegister would.
func registerOnce(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			panic(err)
		}
	}
}

// Snapshot is one named metric's current value, for the JSON status
// endpoint.
type Snapshot struct {
	Name  string  `json:"name"`
	Desc  string  `json:"description"`
	Value float64 `json:"value"`
}

// Collect returns every registered metric's current value, sorted by name
// for deterministic JSON output.
func (r *Registry) Collect() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.vals))
	for _, v := range r.vals {
		value := float64(v.Value())
		v.histMu.Lock()
		hasHist := v.hist != nil
		v.histMu.Unlock()
		if hasHist {
			value = v.Quantile(0.5)
		}
		out = append(out, Snapshot{Name: v.name, Desc: v.desc, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CampaignStats is the fixed set of metrics a Controller reports (spec.md
// §6's stats.csv columns, plus one distribution metric not captured by the
// CSV): total traces seen, unique/total backdoors, edge/syscall coverage,
// and the distribution of discriminant-set sizes across detections.
type CampaignStats struct {
	Registry *Registry

	TotalTraces       *Val
	UniqueBackdoors   *Val
	TotalBackdoors    *Val
	EdgeCoverage      *Val
	SyscallCoverage   *Val
	DiscriminantSizes *Val
}

// NewCampaignStats builds the registry and registers every campaign
// metric under its rosa_-prefixed Prometheus name.
func NewCampaignStats() *CampaignStats {
	r := New()
	return &CampaignStats{
		Registry:          r,
		TotalTraces:       r.Gauge("total_traces", "total traces observed so far", "rosa_total_traces"),
		UniqueBackdoors:   r.Gauge("unique_backdoors", "unique backdoor findings", "rosa_backdoors_unique"),
		TotalBackdoors:    r.Gauge("total_backdoors", "total backdoor detections", "rosa_backdoors_total"),
		EdgeCoverage:      r.FloatGauge("edge_coverage", "edge coverage ratio", "rosa_edge_coverage"),
		SyscallCoverage:   r.FloatGauge("syscall_coverage", "syscall coverage ratio", "rosa_syscall_coverage"),
		DiscriminantSizes: r.Histogram("discriminant_sizes", "discriminant-set size per detection", "rosa_discriminant_set_size"),
	}
}

// Update refreshes the gauges from one campaign-loop iteration's progress.
func (cs *CampaignStats) Update(totalTraces, uniqueBackdoors, totalBackdoors uint64, edgeCoverage, syscallCoverage float64) {
	cs.TotalTraces.Set(int64(totalTraces))
	cs.UniqueBackdoors.Set(int64(uniqueBackdoors))
	cs.TotalBackdoors.Set(int64(totalBackdoors))
	cs.EdgeCoverage.SetFloat(edgeCoverage)
	cs.SyscallCoverage.SetFloat(syscallCoverage)
}

// ObserveDiscriminantSize records the size of one detection's discriminant
// set (the number of edges/syscalls that set the detection apart from its
// cluster), for the distribution exposed by Snapshot/metrics.
func (cs *CampaignStats) ObserveDiscriminantSize(size int) {
	cs.DiscriminantSizes.Observe(float64(size))
}
