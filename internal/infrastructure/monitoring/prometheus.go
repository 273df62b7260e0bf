package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler returns an http.Handler that serves Prometheus text format metrics.
// This avoids pulling in the full prometheus/client_golang dependency.
// Mount it at "/metrics" in your HTTP server.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		// Write metrics in Prometheus exposition format
		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			// Request counters
			{"qwengate_requests_total", "Total number of chat completion requests processed", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"qwengate_requests_success_total", "Total successful requests", "counter", atomic.LoadUint64(&m.metrics.RequestsSuccess)},
			{"qwengate_requests_failed_total", "Total failed requests", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},
			{"qwengate_streams_total", "Total streaming requests served", "counter", atomic.LoadUint64(&m.metrics.StreamsTotal)},

			// Upstream counters
			{"qwengate_upstream_calls_total", "Total upstream API calls issued", "counter", atomic.LoadUint64(&m.metrics.UpstreamCallsTotal)},
			{"qwengate_upstream_retries_total", "Total upstream retry attempts", "counter", atomic.LoadUint64(&m.metrics.UpstreamRetriesTotal)},
			{"qwengate_upstream_errors_total", "Total upstream call failures", "counter", atomic.LoadUint64(&m.metrics.UpstreamErrorsTotal)},

			// Session counters
			{"qwengate_sessions_created_total", "Total sessions created", "counter", atomic.LoadUint64(&m.metrics.SessionsCreated)},
			{"qwengate_sessions_expired_total", "Total sessions removed by expiry", "counter", atomic.LoadUint64(&m.metrics.SessionsExpired)},

			// Usage
			{"qwengate_tokens_used_total", "Total tokens consumed", "counter", atomic.LoadUint64(&m.metrics.TokensUsed)},

			// Errors
			{"qwengate_errors_total", "Total errors encountered", "counter", atomic.LoadUint64(&m.metrics.ErrorsTotal)},

			// Gauges
			{"qwengate_active_sessions", "Number of live (unexpired) sessions", "gauge", atomic.LoadInt64(&m.metrics.ActiveSessions)},
			{"qwengate_uptime_seconds", "Process uptime in seconds", "gauge", uptime},

			// Runtime metrics
			{"qwengate_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"qwengate_memory_sys_bytes", "Total memory obtained from OS", "gauge", memStats.Sys},
			{"qwengate_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"qwengate_gc_pause_total_ns", "Total GC pause time in nanoseconds", "counter", memStats.PauseTotalNs},
			{"qwengate_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		// Latency summary
		reqCount := atomic.LoadUint64(&m.metrics.RequestLatencyCount)
		if reqCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(reqCount) / 1e6
			fmt.Fprintf(w, "# HELP qwengate_request_latency_avg_ms Average request latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE qwengate_request_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "qwengate_request_latency_avg_ms %f\n\n", avgMs)
		}
	})
}
