// Package app wires all voicecore subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts the HTTP/WebSocket server and blocks until ctx is
// cancelled, and Shutdown tears everything down in reverse-init order.
//
// For testing, inject mock implementations via functional options
// (WithConfigResolver, WithToolRegistry, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/configresolver"
	"github.com/MrWong99/glyphoxa/internal/connectors"
	"github.com/MrWong99/glyphoxa/internal/health"
	"github.com/MrWong99/glyphoxa/internal/mcp"
	"github.com/MrWong99/glyphoxa/internal/mcp/mcphost"
	"github.com/MrWong99/glyphoxa/internal/observe"
	"github.com/MrWong99/glyphoxa/internal/orchestrator"
	"github.com/MrWong99/glyphoxa/internal/ragstore"
	"github.com/MrWong99/glyphoxa/internal/telemetry"
	"github.com/MrWong99/glyphoxa/internal/telephony"
	"github.com/MrWong99/glyphoxa/internal/toolregistry"
	"github.com/MrWong99/glyphoxa/pkg/provider/embeddings"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	"github.com/MrWong99/glyphoxa/pkg/provider/stt"
	"github.com/MrWong99/glyphoxa/pkg/provider/tts"
)

// shutdownDrainInterval is how often Shutdown polls for in-flight calls to
// finish while respecting the caller's deadline.
const shutdownDrainInterval = 100 * time.Millisecond

// Providers holds one already-constructed provider instance per pipeline
// stage. Populated by cmd/voicecore/main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and serves inbound calls.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	mcpHost       mcp.Host
	tools         *toolregistry.Registry
	rag           orchestrator.RAGRetriever
	resolver      orchestrator.ConfigResolver
	emitter       orchestrator.TelemetryEmitter
	sttConnector  orchestrator.STTConnector
	llmStream     orchestrator.LLMStream
	ttsConnector  orchestrator.TTSConnector
	metrics       *observe.Metrics

	redis *redis.Client
	pool  *pgxpool.Pool

	httpServer *http.Server

	activeCalls sync.WaitGroup
	closers     []func() error
	stopOnce    sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithConfigResolver injects a ConfigResolver instead of the default
// management-API-backed one.
func WithConfigResolver(r orchestrator.ConfigResolver) Option {
	return func(a *App) { a.resolver = r }
}

// WithToolRegistry injects a tool registry instead of the default
// calendar-tools-only one.
func WithToolRegistry(t *toolregistry.Registry) Option {
	return func(a *App) { a.tools = t }
}

// WithRAGRetriever injects a RAGRetriever instead of creating one from config.
func WithRAGRetriever(r orchestrator.RAGRetriever) Option {
	return func(a *App) { a.rag = r }
}

// WithTelemetryEmitter injects a TelemetryEmitter instead of the default
// Redis-stream-backed one.
func WithTelemetryEmitter(e orchestrator.TelemetryEmitter) Option {
	return func(a *App) { a.emitter = e }
}

// WithMCPHost injects an MCP host instead of creating one from config.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithMetrics injects an observe.Metrics instance instead of the default one.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires all subsystems together. providers comes from main.go (populated
// via the config registry). Use Option functions to inject test doubles for
// any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, providers: providers, log: log}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	if err := a.initMCP(ctx); err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}
	a.initTools()
	a.initRAG()
	a.initResolver()
	a.initEmitter()
	a.initConnectors()

	return a, nil
}

// initCache connects to Redis if an address is configured. Absent a cache,
// config resolution and RAG embedding lookups simply skip the cache-aside
// layer and always hit the backing store. A configured cache that does not
// answer a ping is a startup error.
func (a *App) initCache(ctx context.Context) error {
	if a.cfg.Cache.Addr == "" {
		a.log.Warn("cache.addr is empty; config resolution and RAG caching are disabled")
		return nil
	}
	a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.Cache.Addr, DB: a.cfg.Cache.DB})
	a.closers = append(a.closers, a.redis.Close)
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %q: %w", a.cfg.Cache.Addr, err)
	}
	return nil
}

// initMemory connects to the pgvector-backed chunks database used by RAG
// retrieval. A missing DSN leaves RAG disabled.
func (a *App) initMemory(ctx context.Context) error {
	if a.cfg.Memory.PostgresDSN == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, a.cfg.Memory.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// initMCP registers configured MCP servers and calibrates their latency
// tiers. A calibration failure is non-fatal — tools keep their declared
// tiers.
func (a *App) initMCP(ctx context.Context) error {
	if a.mcpHost != nil {
		return nil
	}
	if len(a.cfg.MCP.Servers) == 0 {
		return nil
	}

	host := mcphost.New()
	a.mcpHost = host
	a.closers = append(a.closers, host.Close)

	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := host.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		a.log.Info("registered MCP server", "name", srv.Name)
	}

	if err := host.Calibrate(ctx); err != nil {
		a.log.Warn("MCP calibration failed, using declared latencies", "err", err)
	}
	return nil
}

// initTools builds the tool registry: built-in calendar tools, plus whatever
// the MCP host exposes at the standard budget tier.
func (a *App) initTools() {
	if a.tools != nil {
		return
	}
	r := toolregistry.New()
	if err := toolregistry.RegisterCalendarTools(r); err != nil {
		a.log.Error("failed to register calendar tools", "err", err)
	}
	if a.mcpHost != nil {
		r = r.WithMCPHost(a.mcpHost, mcp.BudgetStandard)
	}
	a.tools = r
}

// initRAG wires the pgvector-backed retriever when both a database and an
// embeddings provider are available; otherwise RAG stays nil and turns
// proceed without retrieved context.
func (a *App) initRAG() {
	if a.rag != nil {
		return
	}
	if a.pool == nil || a.providers.Embeddings == nil {
		a.log.Warn("RAG retrieval disabled: postgres or embeddings provider not configured")
		return
	}
	a.rag = ragstore.New(a.pool, a.redis, a.providers.Embeddings)
}

func (a *App) initResolver() {
	if a.resolver != nil {
		return
	}
	a.resolver = configresolver.New(a.cfg.ManagementAPI.BaseURL, a.cfg.ManagementAPI.InternalKey, a.redis, a.log)
}

func (a *App) initEmitter() {
	if a.emitter != nil {
		return
	}
	a.emitter = telemetry.New(a.redis, a.metrics, a.log)
}

// initConnectors bridges the generic llm.Provider/stt.Provider/tts.Provider
// instances into the orchestrator's narrower connector interfaces.
func (a *App) initConnectors() {
	if a.sttConnector == nil && a.providers.STT != nil {
		a.sttConnector = connectors.NewSTTConnector(a.providers.STT, "en", nil)
	}
	if a.llmStream == nil && a.providers.LLM != nil {
		a.llmStream = connectors.NewLLMStream(a.providers.LLM, 0.7)
	}
	if a.ttsConnector == nil && a.providers.TTS != nil {
		// tts.Provider already satisfies orchestrator.TTSConnector.
		a.ttsConnector = a.providers.TTS
	}
}

// Handler builds the HTTP routing table: the inbound call webhook, the
// media-stream WebSocket upgrade, and the health endpoints. Exposed
// separately from Run so tests can drive it through httptest.NewServer
// without binding a real listener.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+a.webhookPath(), telephony.IncomingCallHandler(a.cfg.Telephony.StreamPath))
	mux.HandleFunc("GET "+a.cfg.Telephony.StreamPath, a.handleMediaStream)
	health.New(a.healthCheckers()...).Register(mux)
	return mux
}

// Run starts the HTTP server (inbound webhook + media-stream WebSocket +
// health endpoints) and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.httpServer = &http.Server{Addr: a.cfg.Server.ListenAddr, Handler: a.Handler()}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("voicecore listening", "addr", a.cfg.Server.ListenAddr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-serveErr:
		return err
	}
}

// webhookPath is the inbound call webhook, kept distinct from the
// media-stream path itself.
func (a *App) webhookPath() string {
	return "/voice/incoming"
}

func (a *App) healthCheckers() []health.Checker {
	var checkers []health.Checker
	if a.pool != nil {
		checkers = append(checkers, health.Checker{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				return a.pool.Ping(ctx)
			},
		})
	}
	if a.redis != nil {
		checkers = append(checkers, health.Checker{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return a.redis.Ping(ctx).Err()
			},
		})
	}
	return checkers
}

// handleMediaStream upgrades the connection, resolves the call's AgentConfig
// from the query-string phone number, and — on success — spins up an
// Orchestrator for the call's lifetime.
func (a *App) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.log.Warn("media stream: accept failed", "err", err)
		return
	}
	transport := telephony.NewTransport(conn, a.log)

	q := r.URL.Query()
	phoneNumber := q.Get("phone_number")

	agentCfg, found := a.resolver.Resolve(r.Context(), phoneNumber)
	if !found {
		a.log.Warn("media stream: agent not configured", "phone_number", phoneNumber)
		_ = transport.CloseWithCode(websocket.StatusPolicyViolation, "agent not configured")
		return
	}
	agentCfg.CallContext = callContextFromQuery(q)
	agentCfg.PhoneNumber = phoneNumber

	deps := orchestrator.Dependencies{
		STT:       a.sttConnector,
		LLM:       a.llmStream,
		TTS:       a.ttsConnector,
		Tools:     a.tools,
		RAG:       a.rag,
		Telemetry: a.emitter,
	}

	orch := orchestrator.New(transport, agentCfg, deps, a.log)

	a.activeCalls.Add(1)
	go func() {
		defer a.activeCalls.Done()
		// A call's context is independent of the HTTP handler's request
		// context: Run manages its own lifetime via the transport socket and
		// must not be cancelled early by request-scoped deadlines.
		orch.Run(context.Background())
	}()
}

func callContextFromQuery(q url.Values) orchestrator.CallContext {
	direction := orchestrator.DirectionInbound
	if q.Get("direction") == string(orchestrator.DirectionOutbound) {
		direction = orchestrator.DirectionOutbound
	}

	answeredBy := orchestrator.AnsweredByUnknown
	switch q.Get("answered_by") {
	case string(orchestrator.AnsweredByHuman):
		answeredBy = orchestrator.AnsweredByHuman
	case string(orchestrator.AnsweredByMachine):
		answeredBy = orchestrator.AnsweredByMachine
	}

	return orchestrator.CallContext{
		Direction:    direction,
		AnsweredBy:   answeredBy,
		CustomerName: q.Get("customer_name"),
	}
}

// Shutdown stops accepting new calls, waits for in-flight calls to finish
// (bounded by ctx's deadline), and tears down subsystems in reverse-init
// order.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(ctx); err != nil {
				a.log.Warn("http server shutdown error", "err", err)
			}
		}

		if !a.waitActiveCalls(ctx) {
			a.log.Warn("shutdown deadline exceeded waiting for active calls")
			shutdownErr = ctx.Err()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				if shutdownErr == nil {
					shutdownErr = ctx.Err()
				}
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// waitActiveCalls blocks until every in-flight call finishes or ctx expires,
// returning false on timeout.
func (a *App) waitActiveCalls(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		a.activeCalls.Wait()
		close(done)
	}()

	ticker := time.NewTicker(shutdownDrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return true
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
