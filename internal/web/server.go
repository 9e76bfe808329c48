// Package web serves the wallet API, the live update feeds and the dashboard page.
package web

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/mioxtw/sol-wallet-monitor/internal/events"
	"github.com/mioxtw/sol-wallet-monitor/internal/ingest"
	"github.com/mioxtw/sol-wallet-monitor/internal/metrics"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

type walletService interface {
	AddWallet(ctx context.Context, name, address string) (domain.Summary, error)
	RemoveWallet(ctx context.Context, address string) (string, error)
}

type walletReader interface {
	ListSnapshots() []domain.Summary
	Snapshot(address string) (domain.Summary, error)
}

type chartQuerier interface {
	Chart(address string, metric domain.Metric, interval domain.Interval) ([]domain.ChartPoint, error)
}

type liveFeed interface {
	Run(ctx context.Context, send func(events.BatchUpdate) error) error
}

type stateReporter interface {
	State() ingest.State
}

// Params dependencies of a Server. Ingest and Metrics are optional.
type Params struct {
	Addr       string
	AdminToken string
	Wallets    walletService
	Reader     walletReader
	Charts     chartQuerier
	Feed       liveFeed
	Ingest     stateReporter
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// Server exposes the HTTP API.
type Server struct {
	Addr       string
	adminToken string
	wallets    walletService
	reader     walletReader
	charts     chartQuerier
	feed       liveFeed
	ingest     stateReporter
	metrics    *metrics.Collector
	logger     *zap.Logger
	sessions   *xsync.Map[string, session]
}

// NewServer creates a new web server instance.
func NewServer(p Params) *Server {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return &Server{
		Addr:       p.Addr,
		adminToken: p.AdminToken,
		wallets:    p.Wallets,
		reader:     p.Reader,
		charts:     p.Charts,
		feed:       p.Feed,
		ingest:     p.Ingest,
		metrics:    p.Metrics,
		logger:     p.Logger,
		sessions:   xsync.NewMap[string, session](),
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/", s.staticHandler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/wallets", s.handleListWallets).Methods(http.MethodGet)
	api.Handle("/wallets", s.admin(http.HandlerFunc(s.handleAddWallet))).Methods(http.MethodPost)
	api.HandleFunc("/wallets/{address}", s.handleGetWallet).Methods(http.MethodGet)
	api.Handle("/wallets/{address}", s.admin(http.HandlerFunc(s.handleRemoveWallet))).Methods(http.MethodDelete)
	api.HandleFunc("/chart", s.handleChart).Methods(http.MethodGet)
	api.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)

	return cors(r)
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	server := s.newHTTPServer(ctx, s.Addr, s.Handler())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := s.newHTTPServer(ctx, ":80", manager.HTTPHandler(nil))

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12
	httpsSrv := s.newHTTPServer(ctx, s.Addr, s.Handler())
	httpsSrv.TLSConfig = tlsConfig

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("http (acme) server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http (acme) server", zap.Error(err))
		}
	}()

	s.logger.Info("https server listening", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newHTTPServer builds a server whose request contexts end with ctx, so live
// connections close on shutdown.
func (s *Server) newHTTPServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := "disabled"
	if s.ingest != nil {
		state = s.ingest.State().String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"ingest":       state,
		"wallets":      len(s.reader.ListSnapshots()),
		"live_clients": s.sessions.Size(),
	})
}
