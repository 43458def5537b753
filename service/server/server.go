package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/raisefi/service/config"
	"github.com/brojonat/raisefi/service/funds"
	"github.com/brojonat/raisefi/service/metrics"
	natspkg "github.com/brojonat/raisefi/service/nats"
	"github.com/brojonat/raisefi/service/temporal"
	"github.com/brojonat/raisefi/service/wallet"
)

// Dependencies are the collaborators of the server. Only Funds is
// required; every other field disables its feature when nil.
type Dependencies struct {
	Funds     *funds.Service
	Writer    FundWriter
	Signer    wallet.Signer
	Store     TransactionStore
	Publisher natspkg.Publisher
	Tracker   temporal.Tracker
	SSE       *SSEPublisher
	Metrics   *metrics.Metrics
}

// Server represents the HTTP server of the crowdfunding front-end.
type Server struct {
	addr     string
	cfg      *config.Config
	deps     Dependencies
	sessions *SessionStore
	submit   *submitter
	renderer *TemplateRenderer
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new HTTP server with the given dependencies.
func New(addr string, cfg *config.Config, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		cfg:      cfg,
		deps:     deps,
		sessions: NewSessionStore(cfg.DraftTTL, deps.Metrics),
		submit: &submitter{
			writer:         deps.Writer,
			signer:         deps.Signer,
			store:          deps.Store,
			publisher:      deps.Publisher,
			tracker:        deps.Tracker,
			receiptTimeout: cfg.ReceiptTimeout,
			metrics:        deps.Metrics,
			logger:         logger,
		},
		logger: logger,
	}
}

// WithTemplates adds template rendering support to the server using embedded files
func (s *Server) WithTemplates() error {
	renderer, err := NewTemplateRenderer(s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}
	s.renderer = renderer
	s.logger.Info("HTML templates loaded from embedded files")
	return nil
}

// Sessions returns the server's session store.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// Handler builds the full route table wrapped in the server middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	m := s.deps.Metrics

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(m, name)(h))
	}

	// Fund routes
	route("GET /api/v1/funds", "list_funds", handleListFunds(s.deps.Funds, s.logger))
	route("GET /api/v1/funds/{address}", "get_fund", handleGetFund(s.deps.Funds, s.logger))
	route("POST /api/v1/funds", "create_fund", handleCreateFund(s.submit, s.logger))
	route("POST /api/v1/funds/{address}/donations", "donate", handleDonate(s.submit, s.logger))
	route("POST /api/v1/drafts/validate", "validate_draft", handleValidateDraft(s.logger))

	// Activity log routes
	route("GET /api/v1/transactions", "list_transactions", handleListTransactions(s.deps.Store, s.logger))
	route("GET /api/v1/transactions/{hash}", "get_transaction", handleGetTransaction(s.deps.Store, s.deps.Tracker, s.logger))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.deps.SSE != nil {
		mux.Handle("GET /api/v1/stream/funds/{address}", handleStreamFunds(s.deps.SSE, m, s.logger))
		mux.Handle("GET /api/v1/stream/funds", handleStreamFunds(s.deps.SSE, m, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// HTML pages (if template renderer is configured)
	if s.renderer != nil {
		pages := &pageHandlers{
			renderer: s.renderer,
			funds:    s.deps.Funds,
			sessions: s.sessions,
			submit:   s.submit,
			signer:   s.deps.Signer,
			symbol:   NativeSymbol(s.cfg.ChainID),
			metrics:  m,
			logger:   s.logger,
		}
		route("GET /{$}", "home", pages.home())
		route("GET /donate", "donate_page", pages.listing())
		route("GET /my-fundraise", "my_fundraise_page", pages.listing())
		route("GET /my-fundraise/{address}", "fund_page", pages.detail())
		route("GET /donate/{address}", "donate_modal", pages.openDonation())
		route("POST /donate/{address}", "donate_modal_submit", pages.submitDonation())
		route("GET /fundraiser", "fundraiser_page", pages.mountWizard())
		route("POST /fundraiser", "fundraiser_submit", pages.stepWizard())
		route("POST /connect", "connect", pages.connect())
		route("POST /disconnect", "disconnect", pages.disconnect())
		s.logger.Info("HTML page endpoints enabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if m != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return requestIDMiddleware(s.logger)(corsMiddleware(mux))
}

// Start starts the HTTP server and the session sweeper.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.sweepSessions(ctx)

	s.logger.Info("starting HTTP server", "addr", s.addr, "read_only", s.deps.Signer == nil)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) sweepSessions(ctx context.Context) {
	interval := s.cfg.DraftTTL / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Sweep(); n > 0 {
				s.logger.Debug("expired sessions removed", "count", n)
			}
		}
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.deps.SSE != nil {
		s.deps.SSE.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type ctxKey int

const requestIDKey ctxKey = iota

// requestIDMiddleware assigns every request an X-Request-ID (keeping one
// supplied by the caller) and logs the request with it.
func requestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := context.WithValue(r.Context(), requestIDKey, id)
			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))

			logger.DebugContext(ctx, "request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start),
			)
		})
	}
}

// RequestID returns the request ID attached by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// NativeSymbol is the label of the chain's native coin in donation forms.
func NativeSymbol(chainID int64) string {
	switch chainID {
	case 56:
		return "BNB"
	case 97:
		return "tBNB"
	default:
		return "ETH"
	}
}
