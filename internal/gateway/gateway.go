// ABOUTME: Gateway orchestrator that owns the registry, activity log and HTTP server
// ABOUTME: Manages listener setup (TCP or tailnet), route wiring and shutdown lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/dispatch-gateway/internal/activity"
	"github.com/2389/dispatch-gateway/internal/agent"
	"github.com/2389/dispatch-gateway/internal/auth"
	"github.com/2389/dispatch-gateway/internal/config"
	"github.com/2389/dispatch-gateway/internal/dedupe"
	"github.com/2389/dispatch-gateway/internal/dispatch"
	"github.com/2389/dispatch-gateway/internal/store"
)

// endpoints is advertised in the server_started activity entry.
var endpoints = []string{
	"POST /command",
	"GET /connect/{classId}",
	"GET /ws?classId=",
	"POST /command-output",
	"GET /connections",
	"GET /activity-log",
	"DELETE /activity-log",
	"GET /activity-log/stream",
	"GET /stats",
	"GET /classes",
}

// Gateway owns the single registry, activity log and stats instance and
// serves the operator and agent HTTP surface.
type Gateway struct {
	config      *config.Config
	log         *activity.Log
	stats       *agent.Stats
	registry    *agent.Registry
	engine      *dispatch.Engine
	outputs     *dedupe.Cache
	store       store.UserStore // nil when operator auth is disabled
	auth        *auth.Handler   // nil when operator auth is disabled
	upgrader    websocket.Upgrader
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	shuttingDown atomic.Bool
}

// initStore opens the operator database, honouring DISPATCH_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("DISPATCH_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	classIDs := cfg.Classes
	if len(classIDs) == 0 {
		classIDs = config.DefaultClasses
	}

	log := activity.NewLog(cfg.Activity.Capacity, cfg.Activity.CorrelationLookback, logger)
	stats := agent.NewStats(time.Now())
	registry := agent.NewRegistry(log, stats, logger)
	engine := dispatch.NewEngine(dispatch.NewClasses(classIDs), registry, log, stats, logger)

	gw := &Gateway{
		config:   cfg,
		log:      log,
		stats:    stats,
		registry: registry,
		engine:   engine,
		outputs:  dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Agents are not browsers; any origin may attach.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "gateway"),
	}

	if cfg.Auth.JWTSecret != "" {
		if err := gw.initAuth(cfg, logger); err != nil {
			gw.outputs.Close()
			return nil, err
		}
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Add(activity.Entry{
		Type:        activity.TypeServerStarted,
		Title:       "Server Started",
		Description: fmt.Sprintf("Dispatch gateway started on %s", gw.listenDescription()),
		Metadata: map[string]any{
			"address":   gw.listenDescription(),
			"classes":   engine.Classes().List(),
			"endpoints": endpoints,
		},
	})

	return gw, nil
}

func (g *Gateway) initAuth(cfg *config.Config, logger *slog.Logger) error {
	s, err := initStore(cfg)
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	g.store = s
	g.auth = auth.NewHandler(auth.HandlerConfig{
		Users:    s,
		Tokens:   verifier,
		TokenTTL: cfg.Auth.TokenTTL,
		Limiter:  auth.NewLoginLimiter(cfg.Auth.LoginAttempts, cfg.Auth.LoginWindow),
		ClientIP: clientIP,
		Logger:   logger,
	})
	return nil
}

func (g *Gateway) listenDescription() string {
	if g.config.Tailscale.Enabled {
		return g.config.Tailscale.Hostname
	}
	return g.config.Server.HTTPAddr
}

// routes builds the HTTP mux. Agent endpoints never require a session.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("GET /connect/{classId}", g.handleConnect)
	mux.HandleFunc("GET /ws", g.handleSocket)
	mux.HandleFunc("POST /command-output", g.handleCommandOutput)

	mux.Handle("POST /command", g.operator(g.handleCommand))
	mux.Handle("GET /connections", g.operator(g.handleConnections))
	mux.Handle("GET /activity-log", g.operator(g.handleActivityLog))
	mux.Handle("DELETE /activity-log", g.admin(g.handleClearActivityLog))
	mux.Handle("GET /activity-log/stream", g.operator(g.handleActivityStream))
	mux.Handle("GET /stats", g.operator(g.handleStats))
	mux.Handle("GET /classes", g.operator(g.handleClasses))

	if g.auth != nil {
		mux.HandleFunc("POST /auth/login", g.auth.HandleLogin)
		mux.HandleFunc("POST /auth/logout", g.auth.HandleLogout)
		mux.HandleFunc("GET /auth/me", g.auth.HandleMe)
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	return mux
}

// operator wraps an operator endpoint with the session check when auth is enabled.
func (g *Gateway) operator(h http.HandlerFunc) http.Handler {
	if g.auth == nil {
		return h
	}
	return g.auth.Middleware()(h)
}

// admin is operator plus the admin role check.
func (g *Gateway) admin(h http.HandlerFunc) http.Handler {
	if g.auth == nil {
		return h
	}
	return g.auth.Middleware()(auth.RequireAdminHTTP()(h))
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Registry returns the connection registry.
func (g *Gateway) Registry() *agent.Registry {
	return g.registry
}

// ActivityLog returns the activity log.
func (g *Gateway) ActivityLog() *activity.Log {
	return g.log
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "dispatch-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and listens on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.HTTPS {
		return g.createTailscaleTLSListener()
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
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

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown releases held agent connections, stops the HTTP server and
// closes the store. Safe to call on a gateway that never ran.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if !g.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	// Held long-polls and sockets must return before http.Server.Shutdown
	// waits on active handlers; SSE streams end when the log closes.
	released := g.registry.CloseAll()
	g.log.Close()
	g.logger.Info("released agent connections", "count", released)

	var errs []error
	errs = appendCloseError(errs, "HTTP server shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale close", g.tsnetServer.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	g.outputs.Close()

	return errors.Join(errs...)
}
