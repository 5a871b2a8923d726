// Package broker orchestrates the mcp-broker server components.
//
// # Overview
//
// The broker package is the central coordinator of the mcp-broker
// server. It owns the tool registry, agent directory, persistent store,
// and the HTTP surface that accepts agent WebSocket connections and,
// optionally, MCP clients.
//
// # Broker Struct
//
// The Broker struct is the main entry point:
//
//	type Broker struct {
//	    config    *config.Config
//	    registry  *tools.Registry
//	    directory *agent.Directory
//	    store     store.Store
//	    conns     *connSet
//	    httpServer  *http.Server
//	    tsnetServer *tsnet.Server
//	    mcpServer   *mcp.Server
//	    // ... and more
//	}
//
// # HTTP Surface
//
//   - GET /ws - WebSocket endpoint agents connect to
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store reachable)
//   - POST /mcp - MCP compatibility endpoint (when enabled)
//
// # Connection Model
//
// Each accepted WebSocket gets three cooperating pieces:
//
//   - Conn: the socket plus a bounded outbound queue drained by a
//     single writer goroutine. All envelopes for a connection funnel
//     through it, which is what keeps per-request ordering intact.
//   - dispatcher: decodes inbound envelopes, validates them, and runs
//     each accepted request in its own goroutine. A slow tool never
//     blocks the read loop.
//   - emitter: the Sink handed to streaming handlers. Tokens queue in
//     emission order; after the terminal envelope nothing else can be
//     emitted for that request.
//
// Requests answer with exactly one terminal: a result, an end, or an
// error envelope. Disconnects cancel every in-flight request on the
// connection and drop its directory registrations.
//
// # Lifecycle
//
// Start the broker:
//
//	b, err := broker.New(cfg, version, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go b.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//
// Run performs the shutdown itself when its context ends; Shutdown can
// also be driven directly with a deadline context.
//
// # Listeners
//
// The broker listens on plain TCP by default. With tailscale.enabled it
// joins the tailnet via tsnet instead, optionally serving HTTPS with
// Tailscale-provisioned certificates.
package broker
