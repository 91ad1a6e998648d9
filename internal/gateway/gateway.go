// ABOUTME: Gateway orchestrator that serves the agent session API and room relay
// ABOUTME: Wires the cloud agent client, token minter, instance registry and relay hub

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/solace/internal/agent"
	"github.com/2389/solace/internal/cloudagent"
	"github.com/2389/solace/internal/config"
	"github.com/2389/solace/internal/relay"
	"github.com/2389/solace/internal/roomtoken"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// AgentService is the subset of the cloud agent client the gateway uses.
type AgentService interface {
	CreateInstance(ctx context.Context, in cloudagent.InstanceRequest) (string, error)
	DeleteInstance(ctx context.Context, instanceID string) error
	SendText(ctx context.Context, instanceID, text string) error
	Registered() bool
}

// Gateway serves the HTTP API clients use to run voice sessions.
type Gateway struct {
	config     *config.Config
	vendor     AgentService
	minter     *roomtoken.Minter
	agents     *agent.Manager
	hub        *relay.Hub
	callbacks  *relay.Ingester
	upgrader   websocket.Upgrader
	handler    http.Handler
	httpServer *http.Server
	draining   atomic.Bool
	logger     *slog.Logger
}

// New creates a Gateway talking to the cloud agent service configured in cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	vendor := cloudagent.New(cloudagent.Options{
		AppID:        cfg.Vendor.AppID,
		ServerSecret: cfg.Vendor.ServerSecret,
		BaseURL:      cfg.Vendor.APIBaseURL,
		Timeout:      cfg.Vendor.RequestTimeout,
		MaxRetries:   cfg.Vendor.MaxRetries,
		Agent:        cloudagent.SpecFromConfig(cfg.Agent),
		Logger:       logger,
	})
	return NewWithService(cfg, vendor, logger)
}

// NewWithService creates a Gateway using the given agent service.
func NewWithService(cfg *config.Config, vendor AgentService, logger *slog.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if vendor == nil {
		return nil, errors.New("agent service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config: cfg,
		vendor: vendor,
		minter: roomtoken.NewMinter(cfg.Vendor.AppID, []byte(cfg.Vendor.ServerSecret), cfg.Token.Type, cfg.Token.TTL),
		agents: agent.NewManager(logger),
		hub:    relay.NewHub(logger),
		logger: logger.With("component", "gateway"),
	}
	g.callbacks = relay.NewIngester(g.hub, cfg.Relay.ReplayWindow, cfg.Relay.ReplayCacheSize, g.roomOfInstance, logger)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	g.handler = g.routes()
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return g, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Agents returns the live instance registry.
func (g *Gateway) Agents() *agent.Manager {
	return g.agents
}

func (g *Gateway) roomOfInstance(instanceID string) (string, bool) {
	inst, ok := g.agents.Get(instanceID)
	if !ok {
		return "", false
	}
	return inst.RoomID, true
}

// Run listens on the configured address and blocks until ctx is canceled or
// the server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is canceled.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The run context is already canceled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, stops every agent instance this gateway
// started and closes room subscriptions.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.draining.Store(true)
	g.logger.Info("shutting down gateway", "instances", g.agents.Count())

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "stopping instances", g.agents.StopAll(ctx, g.vendor.DeleteInstance))

	g.hub.Close()
	g.callbacks.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
