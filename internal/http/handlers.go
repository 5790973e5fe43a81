package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// appMetrics counts what the middleware packages do not.
type appMetrics struct {
	started         time.Time
	expensesCreated int64
	expensesDeleted int64
	cacheHits       int64
	cacheMisses     int64
}

func newAppMetrics() *appMetrics {
	return &appMetrics{started: time.Now()}
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady checks that the full ledger can be read.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{}

	if s.ready == nil {
		checks["storage"] = "not_configured"
	} else if err := s.ready(ctx); err != nil {
		checks["storage"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}

	checks["cache"] = map[string]any{"list_entries": s.listCache.Size()}
	checks["rate_limiter"] = map[string]any{"active_clients": s.rateLimiter.ActiveClients()}

	NewJSONResponse().
		Status(httpStatus).
		Body(map[string]any{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		}).
		Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	securityMetrics := s.detector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.tracer.GetMetrics()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_response_time_avg_microseconds", "gauge", "Average response time", traceMetrics.AverageResponseTime)
	metric("expenses_created_total", "counter", "Expenses created since start", atomic.LoadInt64(&s.metrics.expensesCreated))
	metric("expenses_deleted_total", "counter", "Expenses deleted since start", atomic.LoadInt64(&s.metrics.expensesDeleted))
	metric("cache_hits_total", "counter", "Listing cache hits", atomic.LoadInt64(&s.metrics.cacheHits))
	metric("cache_misses_total", "counter", "Listing cache misses", atomic.LoadInt64(&s.metrics.cacheMisses))
	metric("cache_entries", "gauge", "Current listing cache entries", s.listCache.Size())
	metric("rate_limit_hits_total", "counter", "Requests rejected by the rate limiter", rateLimitMetrics.TotalHits)
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", rateLimitMetrics.ClientCount)
	metric("suspicious_requests_total", "counter", "Suspicious requests detected", securityMetrics.SuspiciousRequests)
	metric("invalid_ip_attempts_total", "counter", "Unparseable client addresses", securityMetrics.InvalidIPAttempts)
	metric("uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.metrics.started).Seconds()))
}
