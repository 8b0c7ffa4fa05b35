// Package api provides HTTP handlers and the main API server logic for LeadRelay.
//
// It exposes the provider webhook, a manual invocation endpoint for testing
// conversations, and a health check. The API integrates the orchestrator,
// store, and messaging modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadrelay/leadrelay/internal/convo"
	"github.com/leadrelay/leadrelay/internal/genai"
	"github.com/leadrelay/leadrelay/internal/messaging"
	"github.com/leadrelay/leadrelay/internal/store"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default API listen address
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds header reads on inbound requests
	DefaultReadHeaderTimeout = 5 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the orchestrator, repository and messaging service behind the
// HTTP surface.
type Server struct {
	orch *convo.Orchestrator
	repo store.Repository
	msg  messaging.Service
	addr string
}

// NewServer creates a Server from its collaborators.
func NewServer(repo store.Repository, gen genai.ClientInterface, msg messaging.Service, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		orch: convo.NewOrchestrator(repo, gen),
		repo: repo,
		msg:  msg,
		addr: cfg.Addr,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("POST /api/contacts/{id}/message", s.contactMessageHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Run constructs the repository, generation client and server, starts the
// messaging service and the inbound consumer, and serves until ctx is
// cancelled.
func Run(ctx context.Context, storeOpts []store.Option, genaiOpts []genai.Option, msg messaging.Service, apiOpts ...Option) error {
	repo, err := store.NewRepository(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	defer repo.Close()

	gen, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}

	server := NewServer(repo, gen, msg, apiOpts...)

	if err := msg.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer msg.Stop()

	// Event-stream providers (whatsmeow) deliver inbound traffic here;
	// webhook providers deliver it over HTTP.
	go server.consumeInbound(ctx)

	httpServer := &http.Server{
		Addr:              server.addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("LeadRelay API running", "addr", server.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}

// consumeInbound drains the messaging service's inbound channel and runs each
// message through the conversation pipeline.
func (s *Server) consumeInbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-s.msg.Inbound():
			if !ok {
				return
			}
			if _, err := s.handleInbound(ctx, in); err != nil {
				slog.Error("Server.consumeInbound: inbound processing failed", "error", err, "from", in.From)
			}
		}
	}
}
