// ABOUTME: Gateway orchestrator that wires the store, chat service, hub and HTTP server
// ABOUTME: Manages optional redis relay, background jobs and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	redis "github.com/redis/go-redis/v9"

	"github.com/homedecor/support-gateway/internal/auth"
	"github.com/homedecor/support-gateway/internal/config"
	"github.com/homedecor/support-gateway/internal/conversation"
	"github.com/homedecor/support-gateway/internal/dedupe"
	"github.com/homedecor/support-gateway/internal/jobs"
	"github.com/homedecor/support-gateway/internal/mail"
	"github.com/homedecor/support-gateway/internal/metrics"
	"github.com/homedecor/support-gateway/internal/realtime"
	"github.com/homedecor/support-gateway/internal/relay"
	"github.com/homedecor/support-gateway/internal/store"
)

// Gateway orchestrates the support-gateway server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	hub          *realtime.Hub
	auth         *auth.Authenticator
	upgrader     websocket.Upgrader
	sessions     *sessions
	httpServer   *http.Server
	logger       *slog.Logger

	// dedupe makes client retries of sendMessage idempotent
	dedupe *dedupe.Cache

	// relay spreads fan-out to other instances; nil when running alone
	relay *relay.Relay

	// denylistClient backs token revocation; nil when not configured
	denylistClient *redis.Client

	mailer    mail.Mailer
	jobs      jobs.Client
	jobServer jobs.Server

	// contactEnabled is false when no admin address is configured
	contactEnabled bool

	// cancelBackground stops the relay subscriber and job workers
	cancelBackground context.CancelFunc
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Database.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err = store.NewPostgresStore(ctx, cfg.Database.DSN)
	default:
		dbPath := cfg.Database.Path
		if envPath := os.Getenv("SUPPORT_GATEWAY_DB_PATH"); envPath != "" {
			dbPath = envPath
		}
		s, err = store.NewSQLiteStore(dbPath)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newMailer returns an SMTP mailer when a relay host is configured, otherwise
// a mailer that only logs.
func newMailer(cfg config.MailConfig, logger *slog.Logger) mail.Mailer {
	if cfg.SMTPHost == "" {
		logger.Warn("mail.smtp_host not set, emails will only be logged")
		return mail.NewLogMailer(logger)
	}
	return mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	}, logger)
}

// newJobs returns the asynq client and server when jobs.redis_url is set,
// otherwise an inline runner serving as both.
func newJobs(cfg config.JobsConfig, logger *slog.Logger) (jobs.Client, jobs.Server, error) {
	if cfg.RedisURL == "" {
		inline := jobs.NewInline(logger)
		return inline, inline, nil
	}

	client, err := jobs.NewAsynqClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	server, err := jobs.NewAsynqServer(cfg.RedisURL, cfg.Concurrency, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, server, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := newGateway(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

func newGateway(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	gw := &Gateway{
		config:   cfg,
		store:    s,
		hub:      realtime.NewHub(logger),
		sessions: newSessions(),
		logger:   logger.With("component", "gateway"),
		dedupe:   dedupe.New(cfg.Chat.DedupeTTL, cfg.Chat.DedupeSize),
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(cfg.Server.AllowedOrigins),
	}

	// Token revocation
	var denylist auth.Denylist
	if cfg.Auth.DenylistRedisURL != "" {
		gw.denylistClient, err = relay.Dial(context.Background(), cfg.Auth.DenylistRedisURL)
		if err != nil {
			gw.closeOptionalComponents()
			return nil, fmt.Errorf("connecting token denylist: %w", err)
		}
		denylist = auth.NewRedisDenylist(gw.denylistClient)
	}
	gw.auth = auth.NewAuthenticator(s, verifier, denylist, logger)

	// Fan-out: the hub alone, or the hub behind a redis relay
	var publisher realtime.Publisher = gw.hub
	if cfg.Relay.RedisURL != "" {
		client, err := relay.Dial(context.Background(), cfg.Relay.RedisURL)
		if err != nil {
			gw.closeOptionalComponents()
			return nil, fmt.Errorf("connecting relay: %w", err)
		}
		gw.relay = relay.New(client, cfg.Relay.Channel, gw.hub, logger)
		publisher = gw.relay
		logger.Info("multi-instance relay enabled", "channel", cfg.Relay.Channel)
	}

	joinPolicy, err := conversation.ParseJoinPolicy(cfg.Chat.JoinPolicy)
	if err != nil {
		gw.closeOptionalComponents()
		return nil, err
	}
	gw.conversation = conversation.New(s, realtime.NewFanout(publisher, logger), logger,
		conversation.WithJoinPolicy(joinPolicy),
		conversation.WithDedupe(gw.dedupe))

	// Email and background jobs
	gw.mailer = newMailer(cfg.Mail, logger)
	gw.jobs, gw.jobServer, err = newJobs(cfg.Jobs, logger)
	if err != nil {
		gw.closeOptionalComponents()
		return nil, err
	}
	if cfg.Mail.AdminEmail != "" {
		gw.jobServer.Register(jobs.TaskContactAdmin, jobs.ContactAdminHandler(gw.mailer, cfg.Mail.AdminEmail, logger))
		gw.contactEnabled = true
	} else {
		logger.Warn("mail.admin_email not set, /api/contact is disabled")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler builds the HTTP routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// Chat socket - token in header or query
	mux.Handle("GET /ws/chat", auth.WebSocketAuthMiddleware(g.auth)(http.HandlerFunc(g.handleChatSocket)))

	// REST API - bearer token required
	requireAuth := auth.HTTPAuthMiddleware(g.auth)
	mux.Handle("GET /api/chat/receivers", requireAuth(http.HandlerFunc(g.handleListReceivers)))
	mux.Handle("GET /api/chat/conversations", requireAuth(http.HandlerFunc(g.handleListConversations)))
	mux.Handle("GET /api/chat/conversations/{id}/messages", requireAuth(http.HandlerFunc(g.handleConversationMessages)))
	mux.Handle("GET /api/chat/messages", requireAuth(http.HandlerFunc(g.handleMessagesWithPeer)))

	// Public contact form
	mux.HandleFunc("POST /api/contact", g.handleContact)

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, metrics.Handler())
	}

	return metrics.InstrumentHandler(mux)
}

// Conversation exposes the chat service for in-process callers.
func (g *Gateway) Conversation() *conversation.Service {
	return g.conversation
}

// setupListener creates the HTTP listener.
func (g *Gateway) setupListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// startBackground launches the relay subscriber and the job workers.
func (g *Gateway) startBackground(errCh chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancelBackground = cancel

	if g.relay != nil {
		go func() {
			if err := g.relay.Run(ctx); err != nil {
				g.logger.Error("relay stopped", "error", err)
			}
		}()
	}

	go func() {
		if err := g.jobServer.Run(ctx); err != nil {
			errCh <- fmt.Errorf("job server: %w", err)
		}
	}()
}

// startServer starts the HTTP server in a goroutine, reporting failures on errCh.
func (g *Gateway) startServer(ln net.Listener, errCh chan error) {
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener()
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	g.startBackground(errCh)
	g.startServer(ln, errCh)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeOptionalComponents closes optional components that may be nil.
func (g *Gateway) closeOptionalComponents() {
	if g.cancelBackground != nil {
		g.cancelBackground()
	}
	if g.jobs != nil {
		_ = g.jobs.Close()
	}
	if g.relay != nil {
		_ = g.relay.Close()
	}
	if g.denylistClient != nil {
		_ = g.denylistClient.Close()
	}
	if g.hub != nil {
		g.hub.Close()
	}
	if g.dedupe != nil {
		g.dedupe.Close()
	}
}

// Shutdown stops accepting requests, closes live chat sockets and releases
// every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked websockets are not tracked by http.Server
	if n := g.sessions.closeAll(websocket.CloseGoingAway, "server shutting down"); n > 0 {
		g.logger.Info("closed chat sessions", "count", n)
	}

	g.closeOptionalComponents()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
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
	_, _ = fmt.Fprintf(w, "ready (%d live conversations)", g.hub.GroupCount())
}
