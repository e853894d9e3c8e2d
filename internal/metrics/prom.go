package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "unquarantine"

// snapshotCollector exposes the atomic counters through a registry without
// keeping a second set of prometheus counters in sync.
type snapshotCollector struct {
	filesScanned *prometheus.Desc
	filesSkipped *prometheus.Desc
	outcomes     *prometheus.Desc
	readErrors   *prometheus.Desc
	sinkErrors   *prometheus.Desc
	bytes        *prometheus.Desc
	lastDecode   *prometheus.Desc
}

func newSnapshotCollector() *snapshotCollector {
	return &snapshotCollector{
		filesScanned: prometheus.NewDesc(namespace+"_files_scanned_total", "Files handed to the decoder.", nil, nil),
		filesSkipped: prometheus.NewDesc(namespace+"_files_skipped_total", "Files skipped before decoding.", nil, nil),
		outcomes:     prometheus.NewDesc(namespace+"_decode_results_total", "Decode outcomes by status.", []string{"status"}, nil),
		readErrors:   prometheus.NewDesc(namespace+"_read_errors_total", "Files that could not be read.", nil, nil),
		sinkErrors:   prometheus.NewDesc(namespace+"_sink_errors_total", "Artifacts that could not be written.", nil, nil),
		bytes:        prometheus.NewDesc(namespace+"_bytes_total", "Bytes processed by direction.", []string{"kind"}, nil),
		lastDecode:   prometheus.NewDesc(namespace+"_last_decode_timestamp_seconds", "Unix time of the last successful decode.", nil, nil),
	}
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.filesScanned
	ch <- c.filesSkipped
	ch <- c.outcomes
	ch <- c.readErrors
	ch <- c.sinkErrors
	ch <- c.bytes
	ch <- c.lastDecode
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	st := SnapshotData()
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.filesScanned, st.FilesScanned)
	counter(c.filesSkipped, st.FilesSkipped)
	counter(c.outcomes, st.NotThisFormat, "not_this_format")
	counter(c.outcomes, st.InconsistentHeaders, "inconsistent_header")
	counter(c.outcomes, st.Decoded, "decoded")
	counter(c.readErrors, st.ReadErrors)
	counter(c.sinkErrors, st.SinkErrors)
	counter(c.bytes, st.BytesScanned, "scanned")
	counter(c.bytes, st.PayloadBytes, "payload")
	counter(c.bytes, st.StoredBytes, "stored")
	ch <- prometheus.MustNewConstMetric(c.lastDecode, prometheus.GaugeValue, float64(st.LastDecodeUnix))
}

var (
	registryOnce sync.Once
	registry     *prometheus.Registry
)

// Registry returns the process-wide registry holding the scan counters and
// the standard Go and process collectors.
func Registry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registry.MustRegister(newSnapshotCollector())
	})
	return registry
}

func PromHandler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}
