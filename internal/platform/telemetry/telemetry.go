// Package telemetry collects in-process metrics and serves them in the
// Prometheus text exposition format. It keeps the OTel semantic names
// for HTTP metrics without importing the SDK.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Config identifies the emitting service in the exported target_info.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "clinicore-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// durationBuckets are the histogram boundaries for request latency, in
// seconds.
var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type counter struct {
	v uint64 // math.Float64bits
}

func (c *counter) add(delta float64) {
	for {
		old := atomic.LoadUint64(&c.v)
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(&c.v, old, next) {
			return
		}
	}
}

func (c *counter) value() float64 {
	return math.Float64frombits(atomic.LoadUint64(&c.v))
}

type histogram struct {
	mu           sync.Mutex
	boundaries   []float64
	bucketCounts []uint64
	count        uint64
	sum          float64
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]uint64, len(boundaries)),
	}
}

func (h *histogram) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
		}
	}
}

// Provider is the metrics registry. Series are keyed by metric name plus
// the sorted label set.
type Provider struct {
	cfg       Config
	startedAt time.Time

	mu         sync.RWMutex
	counters   map[string]*counter
	gauges     map[string]float64
	histograms map[string]*histogram
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:        cfg,
		startedAt:  time.Now(),
		counters:   make(map[string]*counter),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*histogram),
	}
}

// seriesKey renders name{k1="v1",k2="v2"} with labels sorted, which is
// both the map key and the exposition line prefix.
func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (p *Provider) CounterAdd(name string, labels map[string]string, delta float64) {
	key := seriesKey(name, labels)
	p.mu.RLock()
	c, ok := p.counters[key]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		if c, ok = p.counters[key]; !ok {
			c = &counter{}
			p.counters[key] = c
		}
		p.mu.Unlock()
	}
	c.add(delta)
}

func (p *Provider) GaugeSet(name string, labels map[string]string, v float64) {
	key := seriesKey(name, labels)
	p.mu.Lock()
	p.gauges[key] = v
	p.mu.Unlock()
}

func (p *Provider) Observe(name string, labels map[string]string, v float64) {
	key := seriesKey(name, labels)
	p.mu.RLock()
	h, ok := p.histograms[key]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		if h, ok = p.histograms[key]; !ok {
			h = newHistogram(durationBuckets)
			p.histograms[key] = h
		}
		p.mu.Unlock()
	}
	h.observe(v)
}

// MetricsMiddleware records the request count and latency per route.
// The route template is used, not the raw path, so series stay bounded.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			labels := map[string]string{
				"method": c.Request().Method,
				"route":  route,
				"status": strconv.Itoa(status),
			}
			p.CounterAdd("http_requests_total", labels, 1)
			p.Observe("http_request_duration_seconds", map[string]string{
				"method": c.Request().Method,
				"route":  route,
			}, time.Since(start).Seconds())
			return err
		}
	}
}

// OperationRecorder returns a callback for domain handlers to count
// business operations by outcome.
func (p *Provider) OperationRecorder() func(operation, outcome string) {
	return func(operation, outcome string) {
		p.CounterAdd("scheduling_operations_total", map[string]string{
			"operation": operation,
			"outcome":   outcome,
		}, 1)
	}
}

// SetPoolStats publishes the database pool state as gauges.
func (p *Provider) SetPoolStats(total, idle, acquired int32) {
	p.GaugeSet("db_pool_connections", map[string]string{"state": "total"}, float64(total))
	p.GaugeSet("db_pool_connections", map[string]string{"state": "idle"}, float64(idle))
	p.GaugeSet("db_pool_connections", map[string]string{"state": "acquired"}, float64(acquired))
}

// Handler serves the registry in Prometheus text format.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		fmt.Fprintf(&b, "# TYPE target_info gauge\n")
		fmt.Fprintf(&b, "target_info{service_name=%q,service_version=%q,environment=%q} 1\n",
			p.cfg.ServiceName, p.cfg.ServiceVersion, p.cfg.Environment)
		fmt.Fprintf(&b, "# TYPE process_uptime_seconds gauge\n")
		fmt.Fprintf(&b, "process_uptime_seconds %g\n", time.Since(p.startedAt).Seconds())

		p.mu.RLock()
		defer p.mu.RUnlock()

		for _, key := range sortedKeys(p.counters) {
			fmt.Fprintf(&b, "%s %g\n", key, p.counters[key].value())
		}
		for _, key := range sortedKeysF(p.gauges) {
			fmt.Fprintf(&b, "%s %g\n", key, p.gauges[key])
		}
		for _, key := range sortedKeysH(p.histograms) {
			writeHistogram(&b, key, p.histograms[key])
		}

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

// writeHistogram emits cumulative buckets, sum and count for one series.
func writeHistogram(b *strings.Builder, key string, h *histogram) {
	name, labels := splitKey(key)
	h.mu.Lock()
	defer h.mu.Unlock()

	var cumulative uint64
	for i, bound := range h.boundaries {
		cumulative += h.bucketCounts[i]
		fmt.Fprintf(b, "%s %d\n", bucketKey(name, labels, strconv.FormatFloat(bound, 'g', -1, 64)), cumulative)
	}
	fmt.Fprintf(b, "%s %d\n", bucketKey(name, labels, "+Inf"), h.count)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, labels, h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, labels, h.count)
}

func splitKey(key string) (name, labels string) {
	if i := strings.IndexByte(key, '{'); i >= 0 {
		return key[:i], key[i:]
	}
	return key, ""
}

func bucketKey(name, labels, le string) string {
	if labels == "" {
		return fmt.Sprintf(`%s_bucket{le=%q}`, name, le)
	}
	return fmt.Sprintf(`%s_bucket{%s,le=%q}`, name, strings.Trim(labels, "{}"), le)
}

func sortedKeys(m map[string]*counter) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysF(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysH(m map[string]*histogram) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
