package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
	MetricTypeSummary MetricType = "summary"
)

// Summary 摘要统计
type Summary struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Average returns Sum/Count, or 0 when nothing was observed.
func (s Summary) Average() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

func (s *Summary) observe(v float64) {
	if s.Count == 0 || v < s.Min {
		s.Min = v
	}
	if s.Count == 0 || v > s.Max {
		s.Max = v
	}
	s.Count++
	s.Sum += v
}

type series struct {
	name   string
	help   string
	typ    MetricType
	labels map[string]string
	value  float64
	sum    Summary
}

// MetricsCollector keeps in-process serving metrics: request counts by
// route and status, request latency, and classifications by label.
type MetricsCollector struct {
	mu        sync.RWMutex
	series    map[string]*series
	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		series:    make(map[string]*series),
		startTime: time.Now(),
	}
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	return name + "{" + formatLabels(labels) + "}"
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return strings.Join(parts, ",")
}

func (mc *MetricsCollector) get(name, help string, typ MetricType, labels map[string]string) *series {
	key := seriesKey(name, labels)
	s, ok := mc.series[key]
	if !ok {
		s = &series{name: name, help: help, typ: typ, labels: labels}
		mc.series[key] = s
	}
	return s
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name, help string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.get(name, help, MetricTypeCounter, labels).value += value
}

// SetGauge 设置仪表值
func (mc *MetricsCollector) SetGauge(name, help string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.get(name, help, MetricTypeGauge, labels).value = value
}

// Observe 记录摘要观测值
func (mc *MetricsCollector) Observe(name, help string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.get(name, help, MetricTypeSummary, labels).sum.observe(value)
}

// RecordRequest records one served HTTP request.
func (mc *MetricsCollector) RecordRequest(route, method string, status int, d time.Duration) {
	mc.IncrCounter("http_requests_total", "HTTP requests served", 1, map[string]string{
		"route": route, "method": method, "status": fmt.Sprint(status),
	})
	mc.Observe("http_request_duration_seconds", "HTTP request latency", d.Seconds(), map[string]string{"route": route})
}

// RecordClassification records one successful classification.
func (mc *MetricsCollector) RecordClassification(label string) {
	mc.IncrCounter("classifications_total", "Emails classified by predicted label", 1, map[string]string{"label": label})
}

// Value returns the current value of a counter or gauge.
func (mc *MetricsCollector) Value(name string, labels map[string]string) (float64, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	s, ok := mc.series[seriesKey(name, labels)]
	if !ok {
		return 0, false
	}
	return s.value, true
}

// Summary returns the aggregate of a summary metric.
func (mc *MetricsCollector) Summary(name string, labels map[string]string) (Summary, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	s, ok := mc.series[seriesKey(name, labels)]
	if !ok {
		return Summary{}, false
	}
	return s.sum, true
}

func (mc *MetricsCollector) collectRuntime() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mc.SetGauge("go_goroutines", "Number of goroutines", float64(runtime.NumGoroutine()), nil)
	mc.SetGauge("go_memstats_heap_alloc_bytes", "Heap bytes allocated", float64(m.HeapAlloc), nil)
	mc.SetGauge("go_gc_count", "Completed GC cycles", float64(m.NumGC), nil)
	mc.SetGauge("process_uptime_seconds", "Seconds since start", time.Since(mc.startTime).Seconds(), nil)
}

// ExportPrometheus 导出Prometheus格式
func (mc *MetricsCollector) ExportPrometheus() string {
	mc.collectRuntime()

	mc.mu.RLock()
	defer mc.mu.RUnlock()

	keys := make([]string, 0, len(mc.series))
	for k := range mc.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	seen := make(map[string]bool)
	for _, k := range keys {
		s := mc.series[k]
		if !seen[s.name] {
			seen[s.name] = true
			fmt.Fprintf(&b, "# HELP %s %s\n", s.name, s.help)
			fmt.Fprintf(&b, "# TYPE %s %s\n", s.name, s.typ)
		}
		labels := ""
		if len(s.labels) > 0 {
			labels = "{" + formatLabels(s.labels) + "}"
		}
		if s.typ == MetricTypeSummary {
			fmt.Fprintf(&b, "%s_sum%s %g\n", s.name, labels, s.sum.Sum)
			fmt.Fprintf(&b, "%s_count%s %d\n", s.name, labels, s.sum.Count)
			continue
		}
		fmt.Fprintf(&b, "%s%s %g\n", s.name, labels, s.value)
	}
	return b.String()
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}
