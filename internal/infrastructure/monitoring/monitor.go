package monitoring

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics 指标收集器
type Metrics struct {
	// 请求计数
	RequestsTotal   uint64
	RequestsSuccess uint64
	RequestsFailed  uint64
	StreamsTotal    uint64

	// 上游调用
	UpstreamCallsTotal   uint64
	UpstreamRetriesTotal uint64
	UpstreamErrorsTotal  uint64

	// 会话
	SessionsCreated uint64
	SessionsExpired uint64
	ActiveSessions  int64

	// 延迟 (纳秒)
	RequestLatencySum   uint64
	RequestLatencyCount uint64

	// 用量
	TokensUsed uint64

	// 错误
	ErrorsTotal uint64

	// 启动时间
	StartTime time.Time
}

// Monitor 性能监控器
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
}

// NewMonitor 创建监控器
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{
			StartTime: time.Now(),
		},
		logger: logger,
	}
}

// 计数方法
func (m *Monitor) IncRequestTotal()    { atomic.AddUint64(&m.metrics.RequestsTotal, 1) }
func (m *Monitor) IncRequestSuccess()  { atomic.AddUint64(&m.metrics.RequestsSuccess, 1) }
func (m *Monitor) IncRequestFailed()   { atomic.AddUint64(&m.metrics.RequestsFailed, 1) }
func (m *Monitor) IncStream()          { atomic.AddUint64(&m.metrics.StreamsTotal, 1) }
func (m *Monitor) IncUpstreamCall()    { atomic.AddUint64(&m.metrics.UpstreamCallsTotal, 1) }
func (m *Monitor) IncUpstreamRetry()   { atomic.AddUint64(&m.metrics.UpstreamRetriesTotal, 1) }
func (m *Monitor) IncUpstreamError()   { atomic.AddUint64(&m.metrics.UpstreamErrorsTotal, 1) }
func (m *Monitor) IncSessionCreated()  { atomic.AddUint64(&m.metrics.SessionsCreated, 1) }
func (m *Monitor) IncError()           { atomic.AddUint64(&m.metrics.ErrorsTotal, 1) }

func (m *Monitor) AddSessionsExpired(n int64) {
	if n > 0 {
		atomic.AddUint64(&m.metrics.SessionsExpired, uint64(n))
	}
}

func (m *Monitor) AddTokensUsed(n int) {
	if n > 0 {
		atomic.AddUint64(&m.metrics.TokensUsed, uint64(n))
	}
}

func (m *Monitor) SetActiveSessions(n int64) {
	atomic.StoreInt64(&m.metrics.ActiveSessions, n)
}

func (m *Monitor) RecordRequestLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

// GetStats 获取当前统计
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6 // ms
	}

	return map[string]interface{}{
		"uptime_seconds":         uptime.Seconds(),
		"requests_total":         reqTotal,
		"requests_success":       atomic.LoadUint64(&m.metrics.RequestsSuccess),
		"requests_failed":        atomic.LoadUint64(&m.metrics.RequestsFailed),
		"streams_total":          atomic.LoadUint64(&m.metrics.StreamsTotal),
		"upstream_calls_total":   atomic.LoadUint64(&m.metrics.UpstreamCallsTotal),
		"upstream_retries_total": atomic.LoadUint64(&m.metrics.UpstreamRetriesTotal),
		"upstream_errors_total":  atomic.LoadUint64(&m.metrics.UpstreamErrorsTotal),
		"sessions_created":       atomic.LoadUint64(&m.metrics.SessionsCreated),
		"sessions_expired":       atomic.LoadUint64(&m.metrics.SessionsExpired),
		"active_sessions":        atomic.LoadInt64(&m.metrics.ActiveSessions),
		"tokens_used":            atomic.LoadUint64(&m.metrics.TokensUsed),
		"errors_total":           atomic.LoadUint64(&m.metrics.ErrorsTotal),
		"avg_latency_ms":         avgLatency,
		"memory_mb":              float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":             runtime.NumGoroutine(),
		"rps":                    float64(reqTotal) / uptime.Seconds(),
	}
}
