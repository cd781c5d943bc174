package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/FlowForge/FlowForge/internal/engine"
	"github.com/FlowForge/FlowForge/internal/intake"
	"github.com/FlowForge/FlowForge/internal/messaging"
	"github.com/FlowForge/FlowForge/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds graceful shutdown of the HTTP server.
const DefaultShutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server carries the wired components behind the HTTP handlers.
type Server struct {
	addr       string
	st         store.Store
	eng        *engine.Engine
	msgService messaging.Service
	wizard     *intake.Wizard

	httpServer *http.Server
}

// NewServer creates an API server over the given components.
func NewServer(st store.Store, eng *engine.Engine, msgService messaging.Service, wizard *intake.Wizard, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	return &Server{
		addr:       cfg.Addr,
		st:         st,
		eng:        eng,
		msgService: msgService,
		wizard:     wizard,
	}
}

// Routes builds the HTTP mux for the API surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/flows", s.flowsHandler)
	mux.HandleFunc("/api/flows/", s.flowHandler)
	mux.HandleFunc("/api/test-flow", s.testFlowHandler)
	mux.HandleFunc("/api/send", s.sendHandler)
	mux.HandleFunc("/api/leads", s.leadsHandler)
	mux.HandleFunc("/api/sessions/", s.sessionHandler)
	mux.HandleFunc("/api/bulk-messages/schedule", s.scheduleBulkHandler)
	mux.HandleFunc("/api/bulk-messages/scheduled", s.listBulkHandler)

	// Transport webhooks are exposed only when the active service has one.
	if cloud, ok := s.msgService.(*messaging.CloudAPIService); ok {
		mux.HandleFunc("/webhook", cloud.WebhookHandler)
	}
	if tw, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/webhook/twilio", tw.TwilioWebhookHandler)
	}

	return mux
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Routes()}
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server failed", "error", err)
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
