package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry accumulates gateway counters and latency histograms and exposes
// them in Prometheus text format. Kept dependency-free so the hot path never
// blocks on an exporter.
type Registry struct {
	mu        sync.RWMutex
	decisions map[string]int64 // decision|terminal_state
	riskFlags map[string]int64 // risk_class|severity
	providers map[string]int64 // provider|outcome
	breakers  map[string]int64 // provider circuit-open count
	gauges    map[string]float64

	histograms map[string]*Histogram
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		decisions:  map[string]int64{},
		riskFlags:  map[string]int64{},
		providers:  map[string]int64{},
		breakers:   map[string]int64{},
		gauges:     map[string]float64{},
		histograms: map[string]*Histogram{},
	}
}

// IncDecision counts one terminal decision.
func (r *Registry) IncDecision(decision, terminalState string) {
	if decision == "" {
		return
	}
	r.mu.Lock()
	r.decisions[decision+"|"+terminalState]++
	r.mu.Unlock()
}

// IncRiskFlag counts one emitted risk flag.
func (r *Registry) IncRiskFlag(riskClass, severity string) {
	if riskClass == "" {
		return
	}
	r.mu.Lock()
	r.riskFlags[riskClass+"|"+severity]++
	r.mu.Unlock()
}

// IncProvider counts one provider invocation outcome.
func (r *Registry) IncProvider(provider, outcome string) {
	if provider == "" {
		return
	}
	r.mu.Lock()
	r.providers[provider+"|"+outcome]++
	r.mu.Unlock()
}

// IncBreakerOpen counts a circuit-open transition for the provider.
func (r *Registry) IncBreakerOpen(provider string) {
	if provider == "" {
		return
	}
	r.mu.Lock()
	r.breakers[provider]++
	r.mu.Unlock()
}

// SetGauge records a point-in-time value such as cache size.
func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

// ObserveLatency records a duration against the named histogram.
func (r *Registry) ObserveLatency(name string, d time.Duration) {
	r.histogram(name).Observe(d)
}

func (r *Registry) histogram(name string) *Histogram {
	r.mu.RLock()
	h, ok := r.histograms[name]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.histograms[name]; ok {
		return h
	}
	h = NewHistogram(name)
	r.histograms[name] = h
	return h
}

// Handler serves the registry in Prometheus text exposition format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(r.render()))
	}
}

func (r *Registry) render() string {
	r.mu.RLock()
	decisions := copyMap(r.decisions)
	riskFlags := copyMap(r.riskFlags)
	providers := copyMap(r.providers)
	breakers := copyMap(r.breakers)
	gauges := make(map[string]float64, len(r.gauges))
	for k, v := range r.gauges {
		gauges[k] = v
	}
	snaps := make([]HistogramSnapshot, 0, len(r.histograms))
	for _, h := range r.histograms {
		snaps = append(snaps, h.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })

	b := &strings.Builder{}
	b.WriteString("# HELP gateway_decisions_total terminal decisions by verdict and state\n")
	b.WriteString("# TYPE gateway_decisions_total counter\n")
	for _, key := range sortedKeys(decisions) {
		decision, state := splitKey(key)
		fmt.Fprintf(b, "gateway_decisions_total{decision=%q,state=%q} %d\n", decision, state, decisions[key])
	}
	b.WriteString("# HELP gateway_risk_flags_total risk flags by class and severity\n")
	b.WriteString("# TYPE gateway_risk_flags_total counter\n")
	for _, key := range sortedKeys(riskFlags) {
		class, severity := splitKey(key)
		fmt.Fprintf(b, "gateway_risk_flags_total{risk_class=%q,severity=%q} %d\n", class, severity, riskFlags[key])
	}
	b.WriteString("# HELP gateway_provider_invocations_total provider invocations by outcome\n")
	b.WriteString("# TYPE gateway_provider_invocations_total counter\n")
	for _, key := range sortedKeys(providers) {
		provider, outcome := splitKey(key)
		fmt.Fprintf(b, "gateway_provider_invocations_total{provider=%q,outcome=%q} %d\n", provider, outcome, providers[key])
	}
	b.WriteString("# HELP gateway_breaker_open_total circuit-open transitions by provider\n")
	b.WriteString("# TYPE gateway_breaker_open_total counter\n")
	for _, key := range sortedKeys(breakers) {
		fmt.Fprintf(b, "gateway_breaker_open_total{provider=%q} %d\n", key, breakers[key])
	}
	b.WriteString("# HELP gateway_gauge operational gauges\n")
	b.WriteString("# TYPE gateway_gauge gauge\n")
	for _, name := range sortedKeys(gauges) {
		fmt.Fprintf(b, "gateway_gauge{name=%q} %.3f\n", name, gauges[name])
	}
	for _, h := range snaps {
		b.WriteString("# HELP gateway_latency_seconds latency histogram\n")
		b.WriteString("# TYPE gateway_latency_seconds histogram\n")
		for _, bucket := range h.Buckets {
			fmt.Fprintf(b, "gateway_latency_seconds_bucket{op=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
		}
		fmt.Fprintf(b, "gateway_latency_seconds_bucket{op=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
		fmt.Fprintf(b, "gateway_latency_seconds_sum{op=%q} %.6f\n", h.Name, h.Sum)
		fmt.Fprintf(b, "gateway_latency_seconds_count{op=%q} %d\n", h.Name, h.Count)
	}
	return b.String()
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitKey(key string) (string, string) {
	parts := strings.SplitN(key, "|", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

// Histogram tracks a latency distribution with fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	name    string
	buckets []HistogramBucket
	sum     float64
	count   int64
}

// HistogramBucket is a cumulative count under an upper bound in seconds.
type HistogramBucket struct {
	Le    float64
	Count int64
}

var defaultBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// NewHistogram creates a histogram with the default latency buckets.
func NewHistogram(name string) *Histogram {
	buckets := make([]HistogramBucket, len(defaultBuckets))
	for i, le := range defaultBuckets {
		buckets[i] = HistogramBucket{Le: le}
	}
	return &Histogram{name: name, buckets: buckets}
}

// Observe records one latency sample.
func (h *Histogram) Observe(d time.Duration) {
	sec := d.Seconds()
	h.mu.Lock()
	h.sum += sec
	h.count++
	for i := range h.buckets {
		if sec <= h.buckets[i].Le {
			h.buckets[i].Count++
		}
	}
	h.mu.Unlock()
}

// HistogramSnapshot is a copy of the histogram state for exposition.
type HistogramSnapshot struct {
	Name    string
	Buckets []HistogramBucket
	Sum     float64
	Count   int64
}

// Snapshot copies the current state.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	buckets := make([]HistogramBucket, len(h.buckets))
	copy(buckets, h.buckets)
	return HistogramSnapshot{Name: h.name, Buckets: buckets, Sum: h.sum, Count: h.count}
}
