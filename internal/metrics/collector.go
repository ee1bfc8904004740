// Package metrics collects agent counters and histograms and renders them in
// the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide collector used by the helpers in agent.go.
var Default = NewCollector("bdagent")

// Collector aggregates counters, gauges, and histograms under a common prefix.
type Collector struct {
	prefix     string
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewCollector(prefix string) *Collector {
	return &Collector{prefix: prefix, startTime: time.Now()}
}

func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values. Bucket counts are
// cumulative, as the exposition format requires.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Labels renders key/value pairs as a Prometheus label set, sorted by key.
func Labels(kv ...string) string {
	if len(kv)%2 != 0 {
		kv = append(kv, "")
	}
	pairs := make([]string, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%s=%q", kv[i], kv[i+1]))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (c *Collector) fullName(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "_" + name
}

// Counter returns or creates the counter for name and label set.
func (c *Collector) Counter(name, help, labels string) *Counter {
	name = c.fullName(name)
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

// Gauge returns or creates the gauge for name and label set.
func (c *Collector) Gauge(name, help, labels string) *Gauge {
	name = c.fullName(name)
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

// Histogram returns or creates the histogram for name and label set. The
// buckets of the first registration win.
func (c *Collector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	name = c.fullName(name)
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	if len(sorted) == 0 || !math.IsInf(sorted[len(sorted)-1], 1) {
		sorted = append(sorted, math.Inf(1))
	}
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// Handler renders all metrics in Prometheus text format.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render returns the exposition text. Series are grouped by metric name and
// sorted so the output is stable between scrapes.
func (c *Collector) Render() string {
	var sb strings.Builder

	uptime := c.fullName("uptime_seconds")
	fmt.Fprintf(&sb, "# HELP %s Time since start in seconds\n", uptime)
	fmt.Fprintf(&sb, "# TYPE %s gauge\n", uptime)
	fmt.Fprintf(&sb, "%s %d\n", uptime, int64(c.Uptime().Seconds()))

	var counters []*Counter
	c.counters.Range(func(_, v any) bool {
		counters = append(counters, v.(*Counter))
		return true
	})
	sort.Slice(counters, func(i, j int) bool {
		return counters[i].name+counters[i].labels < counters[j].name+counters[j].labels
	})
	written := map[string]bool{}
	for _, ctr := range counters {
		writeHeader(&sb, written, ctr.name, ctr.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}

	var gauges []*Gauge
	c.gauges.Range(func(_, v any) bool {
		gauges = append(gauges, v.(*Gauge))
		return true
	})
	sort.Slice(gauges, func(i, j int) bool {
		return gauges[i].name+gauges[i].labels < gauges[j].name+gauges[j].labels
	})
	for _, g := range gauges {
		writeHeader(&sb, written, g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}

	var hists []*Histogram
	c.histograms.Range(func(_, v any) bool {
		hists = append(hists, v.(*Histogram))
		return true
	})
	sort.Slice(hists, func(i, j int) bool {
		return hists[i].name+hists[i].labels < hists[j].name+hists[j].labels
	})
	for _, h := range hists {
		writeHeader(&sb, written, h.name, h.help, "histogram")
		h.mu.Lock()
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", joinLabels(h.labels, fmt.Sprintf("le=%q", le))), b.count)
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %g\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	return sb.String()
}

func writeHeader(sb *strings.Builder, written map[string]bool, name, help, kind string) {
	if written[name] {
		return
	}
	written[name] = true
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func joinLabels(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "," + b
}
