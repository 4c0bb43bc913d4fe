// ABOUTME: Gateway orchestrator that wires the store, upstream client and HTTP server
// ABOUTME: Manages listener setup (TCP or tailscale), health endpoints and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/shayanahmad7/interactive-networks-textbook/internal/assistant"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/auth"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/config"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/conversation"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/idempotency"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/runs"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/speech"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/store"
	"github.com/shayanahmad7/interactive-networks-textbook/internal/threads"
)

const (
	shutdownTimeout  = 5 * time.Second
	storeOpenTimeout = 15 * time.Second
	idempotencySweep = time.Minute
)

// Gateway serves the tutoring API for one process
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	speech       *speech.Service
	idempotency  *idempotency.Guard
	verifier     *auth.JWTVerifier
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// Deps are the external collaborators a Gateway is built from
type Deps struct {
	Store     store.Store
	Assistant assistant.Client
	// Audio serves the speech endpoints; nil disables them.
	Audio speech.AudioAPI
}

// New creates a Gateway from configuration, opening the store and the upstream client.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
	defer cancel()

	s, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Name)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	client, err := assistant.NewOpenAIClient(assistant.OpenAIConfig{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		Organization: cfg.OpenAI.Organization,
	}, logger)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initializing assistant client: %w", err)
	}

	return NewWithDeps(cfg, Deps{Store: s, Assistant: client, Audio: client.API()}, logger), nil
}

// NewWithDeps creates a Gateway around already constructed collaborators.
// The Gateway takes ownership of deps.Store and closes it on Shutdown.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) *Gateway {
	threadSvc := threads.New(deps.Store, deps.Assistant, logger)
	coordinator := runs.NewCoordinator(deps.Assistant, logger)
	poller := runs.NewPoller(deps.Assistant, cfg.Bootstrap.PollInterval, cfg.Bootstrap.MaxPollAttempts, logger)
	conv := conversation.New(threadSvc, deps.Assistant, coordinator, poller, cfg.AssistantID, conversation.Options{
		Sentinel:      cfg.Bootstrap.Sentinel,
		AutoBootstrap: cfg.Bootstrap.Auto,
	}, logger)

	gw := &Gateway{
		config:       cfg,
		store:        deps.Store,
		conversation: conv,
		idempotency:  idempotency.New(cfg.Idempotency.TTL, cfg.Idempotency.MaxKeys, idempotencySweep),
		logger:       logger.With("component", "gateway"),
	}
	if deps.Audio != nil {
		gw.speech = speech.New(deps.Audio, logger)
	}

	if cfg.Auth.JWTSecret != "" {
		gw.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Audience)
		gw.logger.Info("bearer token auth enabled")
	} else {
		gw.logger.Warn("auth disabled - no jwt_secret configured; userId is trusted as sent")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw
}

// Handler returns the root HTTP handler
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run serves HTTP until ctx is canceled or the server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.listen(ctx)
	if err != nil {
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})
	return grp.Wait()
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases resources. Later calls return the first result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
		if g.tsnetServer != nil {
			errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
		}
		errs = appendCloseError(errs, "store close", g.store.Close())
		g.idempotency.Close()

		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) listen(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.listenTailscale(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr, "store", g.config.Database.Driver)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using a default under the home directory.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "tutor-gateway", "tailscale"), nil
}

// listenTailscale joins the tailnet and listens on :80, or on :443 through Funnel.
func (g *Gateway) listenTailscale(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	if tsCfg.AuthKey == "" {
		return nil, errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   tsCfg.AuthKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ln net.Listener
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		ln, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the transcript store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
