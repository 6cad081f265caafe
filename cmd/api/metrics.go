package main

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"relentless-frontier/internal/dispatch"
	"relentless-frontier/internal/frontier"
)

// latencyHistogram is a manual Prometheus histogram. counts has one slot per
// bucket plus a trailing +Inf slot.
type latencyHistogram struct {
	buckets []float64 // upper bounds in seconds
	counts  []uint64
	sumNs   uint64
	count   uint64
}

func newLatencyHistogram(buckets ...float64) *latencyHistogram {
	return &latencyHistogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)+1),
	}
}

func (h *latencyHistogram) observe(duration time.Duration) {
	if duration <= 0 {
		return
	}
	seconds := duration.Seconds()
	idx := len(h.buckets)
	for i, bound := range h.buckets {
		if seconds <= bound {
			idx = i
			break
		}
	}
	atomic.AddUint64(&h.counts[idx], 1)
	atomic.AddUint64(&h.sumNs, uint64(duration.Nanoseconds()))
	atomic.AddUint64(&h.count, 1)
}

// write appends buckets, +Inf, sum and count for name. leFmt formats bucket
// bounds (e.g. "%.3f").
func (h *latencyHistogram) write(sb *strings.Builder, name, leFmt string) {
	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += atomic.LoadUint64(&h.counts[i])
		fmt.Fprintf(sb, "%s_bucket{le=\"%s\"} %d\n", name, fmt.Sprintf(leFmt, bound), cumulative)
	}
	cumulative += atomic.LoadUint64(&h.counts[len(h.buckets)])
	fmt.Fprintf(sb, "%s_bucket{le=\"+Inf\"} %d\n", name, cumulative)
	fmt.Fprintf(sb, "%s_sum %.6f\n", name, float64(atomic.LoadUint64(&h.sumNs))/float64(time.Second))
	fmt.Fprintf(sb, "%s_count %d\n", name, atomic.LoadUint64(&h.count))
}

// apiMetrics counts ingest traffic and dispatch latency for /metrics.
type apiMetrics struct {
	ingestRequests   uint64 // well-formed POST /crawl batches
	ingestBadRequest uint64 // 400 and 413 responses
	urlsAccepted     uint64
	urlsDuplicate    uint64
	urlsRejected     uint64

	dispatchLatency *latencyHistogram
}

func newAPIMetrics() *apiMetrics {
	return &apiMetrics{
		dispatchLatency: newLatencyHistogram(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5),
	}
}

func (m *apiMetrics) recordIngest(res frontier.IngestResult) {
	atomic.AddUint64(&m.ingestRequests, 1)
	atomic.AddUint64(&m.urlsAccepted, uint64(res.Accepted))
	atomic.AddUint64(&m.urlsDuplicate, uint64(res.Duplicates))
	atomic.AddUint64(&m.urlsRejected, uint64(res.Rejected))
}

// dispatchStats is what /metrics reads from a running dispatcher.
type dispatchStats interface {
	Counters() *dispatch.Counters
	InFlight() int64
}

// render writes the exposition text. d may be nil when dispatch is disabled.
func (m *apiMetrics) render(stats frontier.Stats, d dispatchStats) string {
	var sb strings.Builder
	sb.WriteString("relentless_frontier_up 1\n")

	sb.WriteString("# HELP relentless_frontier_urls URLs known to the frontier by state.\n")
	sb.WriteString("# TYPE relentless_frontier_urls gauge\n")
	fmt.Fprintf(&sb, "relentless_frontier_urls{state=\"pending\"} %d\n", stats.Pending)
	fmt.Fprintf(&sb, "relentless_frontier_urls{state=\"in_flight\"} %d\n", stats.InFlight)
	fmt.Fprintf(&sb, "relentless_frontier_urls{state=\"done\"} %d\n", stats.Done)
	fmt.Fprintf(&sb, "relentless_frontier_urls{state=\"failed\"} %d\n", stats.Failed)
	fmt.Fprintf(&sb, "relentless_frontier_urls_total %d\n", stats.Total)

	sb.WriteString("# TYPE relentless_frontier_ingest_requests_total counter\n")
	fmt.Fprintf(&sb,
		"relentless_frontier_ingest_requests_total %d\n"+
			"relentless_frontier_ingest_bad_requests_total %d\n"+
			"relentless_frontier_ingest_urls_total{result=\"accepted\"} %d\n"+
			"relentless_frontier_ingest_urls_total{result=\"duplicate\"} %d\n"+
			"relentless_frontier_ingest_urls_total{result=\"rejected\"} %d\n",
		atomic.LoadUint64(&m.ingestRequests),
		atomic.LoadUint64(&m.ingestBadRequest),
		atomic.LoadUint64(&m.urlsAccepted),
		atomic.LoadUint64(&m.urlsDuplicate),
		atomic.LoadUint64(&m.urlsRejected),
	)

	if d == nil {
		return sb.String()
	}

	c := d.Counters().Snapshot()
	sb.WriteString("# TYPE relentless_frontier_dispatch_total counter\n")
	fmt.Fprintf(&sb,
		"relentless_frontier_dispatch_total %d\n"+
			"relentless_frontier_dispatch_handed_off_total %d\n"+
			"relentless_frontier_dispatch_succeeded_total %d\n"+
			"relentless_frontier_dispatch_failed_total %d\n"+
			"relentless_frontier_dispatch_requeued_total %d\n"+
			"relentless_frontier_dispatch_dead_lettered_total %d\n"+
			"relentless_frontier_dispatch_expired_total %d\n"+
			"relentless_frontier_complete_errors_total %d\n"+
			"relentless_frontier_dispatch_in_flight %d\n",
		c.Dispatched, c.HandedOff, c.Succeeded, c.Failed, c.Requeued, c.DeadLettered, c.Expired, c.CompleteErrors,
		d.InFlight(),
	)

	sb.WriteString("# HELP relentless_frontier_dispatch_latency_seconds Time to hand one job to the sink.\n")
	sb.WriteString("# TYPE relentless_frontier_dispatch_latency_seconds histogram\n")
	m.dispatchLatency.write(&sb, "relentless_frontier_dispatch_latency_seconds", "%.3f")
	return sb.String()
}

// handleMetrics exposes a Prometheus-compatible endpoint.
//
// Method: GET
// Path:   /metrics
func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var d dispatchStats
	if s.dispatcher != nil {
		d = s.dispatcher
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.metrics.render(s.frontier.Stats(), d)))
}
