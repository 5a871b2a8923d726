// ABOUTME: Broker orchestrator wiring store, directory, registry, and HTTP surface.
// ABOUTME: Manages listener setup (TCP or tsnet), serving, and graceful shutdown.

package broker

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
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/mcp-broker/internal/agent"
	"github.com/2389/mcp-broker/internal/builtins"
	"github.com/2389/mcp-broker/internal/config"
	"github.com/2389/mcp-broker/internal/mcp"
	"github.com/2389/mcp-broker/internal/store"
	"github.com/2389/mcp-broker/internal/tools"
)

// Broker owns the tool registry, agent directory, store, and the HTTP
// surface that accepts WebSocket connections.
type Broker struct {
	config    *config.Config
	registry  *tools.Registry
	directory *agent.Directory
	store     store.Store
	conns     *connSet
	logger    *slog.Logger

	version   string
	startedAt time.Time

	httpServer  *http.Server
	tsnetServer *tsnet.Server
	mcpServer   *mcp.Server
	upgrader    websocket.Upgrader

	// connCtx parents every connection's context so shutdown can cancel
	// all in-flight work at once.
	connCtx    context.Context
	connCancel context.CancelFunc
}

// initStore creates the store based on config and environment.
func initStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	dbPath := cfg.Storage.DatabasePath
	if envPath := os.Getenv("MCP_BROKER_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Broker from configuration: store, directory, registry
// with the builtin tool set, and the HTTP mux with the WebSocket, health,
// and (optionally) MCP endpoints.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Broker, error) {
	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	directory := agent.NewDirectory(logger.With("component", "directory"))
	registry := tools.NewRegistry(logger.With("component", "registry"))

	connCtx, connCancel := context.WithCancel(context.Background())
	b := &Broker{
		config:    cfg,
		registry:  registry,
		directory: directory,
		store:     s,
		conns:     newConnSet(),
		logger:    logger.With("component", "broker"),
		version:   version,
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			// The broker serves a trusted local or tailnet network;
			// browser origin checks don't apply to agent processes.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connCtx:    connCtx,
		connCancel: connCancel,
	}

	err = builtins.RegisterAll(registry, builtins.Deps{
		Directory:   directory,
		Store:       s,
		Version:     version,
		StartedAt:   b.startedAt,
		ExecTimeout: cfg.Limits.ExecTimeout,
	})
	if err != nil {
		connCancel()
		_ = s.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)
	mux.HandleFunc("/health", b.handleHealth)
	mux.HandleFunc("/health/ready", b.handleReady)

	if cfg.MCP.Enabled {
		mcpServer, err := mcp.NewServer(mcp.Config{
			Registry:  registry,
			Directory: directory,
			Logger:    logger.With("component", "mcp"),
			Version:   version,
		})
		if err != nil {
			connCancel()
			_ = s.Close()
			return nil, fmt.Errorf("creating MCP server: %w", err)
		}
		mcpServer.RegisterRoutes(mux)
		b.mcpServer = mcpServer
	}

	b.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return b, nil
}

// Registry returns the broker's tool registry so embedding code can add
// tools beyond the builtin set.
func (b *Broker) Registry() *tools.Registry { return b.registry }

// Directory returns the broker's agent directory.
func (b *Broker) Directory() *agent.Directory { return b.directory }

// Run starts the broker and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (b *Broker) Run(ctx context.Context) error {
	ln, err := b.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := b.startServer(ln)
	serverErr := b.waitForShutdownSignal(ctx, errCh)

	shutdownErr := b.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (b *Broker) setupListener(ctx context.Context) (net.Listener, error) {
	if b.config.Tailscale.Enabled {
		if b.config.Server.ListenAddr != "" {
			b.logger.Warn("server.listen_addr is ignored when tailscale is enabled",
				"listen_addr", b.config.Server.ListenAddr)
		}
		return b.setupTailscaleListener(ctx)
	}

	b.logger.Info("starting broker", "listen_addr", b.config.Server.ListenAddr)
	ln, err := net.Listen("tcp", b.config.Server.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", b.config.Server.ListenAddr, err)
	}
	return ln, nil
}

// startServer serves HTTP in a goroutine, returning its error channel.
func (b *Broker) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		b.logger.Info("broker listening", "addr", ln.Addr().String())
		if err := b.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (b *Broker) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		b.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (b *Broker) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using a default
// under the user's home if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "mcp-broker", "tailscale"), nil
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

// setupTailscaleListener creates a tsnet server and returns its listener.
func (b *Broker) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := b.config.Tailscale

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

	b.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	b.logger.Info("starting tailscale node",
		"hostname", tsCfg.Hostname,
		"state_dir", stateDir,
		"ephemeral", tsCfg.Ephemeral,
	)
	status, err := b.tsnetServer.Up(ctx)
	if err != nil {
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	b.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.HTTPS {
		return b.createTailscaleTLSListener()
	}

	ln, err := b.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (b *Broker) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		b.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	b.logger.Info("tailscale node ready",
		"hostname", hostname,
		"tailscale_ip", tsAddr,
		"dns_name", dnsName,
	)
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's
// auto-provisioned certs.
func (b *Broker) createTailscaleTLSListener() (net.Listener, error) {
	b.logger.Info("enabling HTTPS with tailscale certs on :443")
	ln, err := b.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := b.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with a label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the broker: cancels in-flight work, closes every live
// connection, the HTTP server, the tsnet server, and the store.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.logger.Info("shutting down broker")

	b.connCancel()
	b.conns.closeAll()

	var errs []error
	errs = appendCloseError(errs, "http shutdown", b.httpServer.Shutdown(ctx))

	if b.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", b.tsnetServer.Close())
	}
	if b.mcpServer != nil {
		b.mcpServer.Close()
	}
	errs = appendCloseError(errs, "store close", b.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
