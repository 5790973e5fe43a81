// Package http exposes the expense and budget services as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"budgetapp/internal/cache"
	"budgetapp/internal/core"
	applog "budgetapp/internal/log"
	"budgetapp/internal/middleware/ratelimit"
	"budgetapp/internal/middleware/security"
	"budgetapp/internal/middleware/trace"
	"budgetapp/internal/signature"
)

// ExpenseService is the subset of services.ExpenseService the routes use.
type ExpenseService interface {
	Create(ctx context.Context, in core.ExpenseInput) (core.Expense, error)
	List(ctx context.Context, filter core.ListFilter) (core.Ledger, error)
	Exists(ctx context.Context, id string) (bool, error)
	Patch(ctx context.Context, id string, in core.ExpenseInput) (core.Expense, error)
	Delete(ctx context.Context, in core.DeleteInput) (core.Expense, error)
}

// BudgetService is the subset of services.BudgetService the routes use.
type BudgetService interface {
	Get(ctx context.Context) (core.Budget, error)
	Update(ctx context.Context, in core.BudgetInput) (core.Budget, error)
	Summary(ctx context.Context, today time.Time) (core.WeekSummary, error)
}

// Options wires a Server. Zero cache and rate limit values fall back to defaults.
type Options struct {
	Addr     string
	Expenses ExpenseService
	Budget   BudgetService
	Verifier *signature.Verifier
	// Ready reports whether the data directory is usable.
	Ready  func(ctx context.Context) error
	Logger *applog.Logger

	RateLimitPerMinute int
	ListCacheSize      int
	ListCacheTTL       time.Duration

	// Now overrides the clock used for this_week and the budget summary.
	Now func() time.Time
}

// Server is the HTTP front of the service.
type Server struct {
	http.Server

	expenses ExpenseService
	budget   BudgetService
	verifier *signature.Verifier
	ready    func(ctx context.Context) error
	logger   *applog.Logger
	now      func() time.Time

	listCache    *cache.LRUCache[core.Ledger]
	cacheManager *cache.Manager
	rateLimiter  *ratelimit.Limiter
	detector     *security.Detector
	tracer       *trace.Middleware
	metrics      *appMetrics

	shutdownOnce sync.Once
}

// NewServer builds the routes and middleware chain. Call Shutdown to stop the
// background cleanup goroutines.
func NewServer(opts Options) *Server {
	logger := applog.OrDefault(opts.Logger, applog.ComponentHTTP)

	cacheSize := opts.ListCacheSize
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cacheTTL := opts.ListCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = signature.NewVerifier(nil, false)
	}

	limiterCfg := ratelimit.DefaultConfig()
	if opts.RateLimitPerMinute > 0 {
		limiterCfg.RequestsPerMinute = opts.RateLimitPerMinute
	}

	detector := security.NewDetector()
	s := &Server{
		expenses:     opts.Expenses,
		budget:       opts.Budget,
		verifier:     verifier,
		ready:        opts.Ready,
		logger:       logger,
		now:          now,
		listCache:    cache.NewLRUCache[core.Ledger](cacheSize, cacheTTL),
		cacheManager: cache.NewManager(logger),
		rateLimiter:  ratelimit.NewLimiter(limiterCfg),
		detector:     detector,
		tracer:       trace.NewMiddleware(logger, detector.ExtractClientIP),
		metrics:      newAppMetrics(),
	}
	s.cacheManager.Register(s.listCache)
	s.cacheManager.StartCleanup(5 * time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.Handle("POST /expenses", s.write(s.handleCreateExpense))
	mux.HandleFunc("GET /expenses", s.handleListExpenses)
	mux.HandleFunc("GET /expenses/this_week", s.handleThisWeek)
	mux.Handle("PATCH /expenses/id/{id}", s.write(s.handlePatchExpense))
	mux.Handle("DELETE /expenses/id/{id}", s.write(s.handleDeleteExpense))

	mux.HandleFunc("GET /budget", s.handleGetBudget)
	mux.Handle("PUT /budget", s.write(s.handleUpdateBudget))
	mux.HandleFunc("GET /budget/summary", s.handleBudgetSummary)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var handler http.Handler = mux
	handler = s.withDetection(handler)
	handler = headers.Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// write wraps mutating handlers with rate limiting. Reads are not limited.
func (s *Server) write(h http.HandlerFunc) http.Handler {
	onLimit := func(w http.ResponseWriter, r *http.Request) {
		applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldClientIP, s.detector.ExtractClientIP(r),
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
		)
		TooManyRequestsError().Write(w)
	}
	return s.rateLimiter.Middleware(s.detector.ExtractClientIP, onLimit)(h)
}

// withDetection logs suspicious requests. They are still served.
func (s *Server) withDetection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			applog.FromContext(r.Context()).WithComponent(applog.ComponentSecurity).WarnContext(r.Context(), "Suspicious request",
				applog.FieldClientIP, s.detector.ExtractClientIP(r),
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path,
				applog.FieldUserAgent, r.Header.Get("User-Agent"),
			)
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops background goroutines and gracefully shuts down the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Close releases background goroutines without waiting for in-flight
// requests. Tests use it in place of Shutdown.
func (s *Server) Close() error {
	s.cacheManager.Stop()
	s.rateLimiter.Stop()
	return s.Server.Close()
}
