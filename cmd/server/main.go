// CryptoMind Desk - analysis session correlation server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/ashureev/cryptomind-desk/internal/agent"
	"github.com/ashureev/cryptomind-desk/internal/analysis"
	"github.com/ashureev/cryptomind-desk/internal/api"
	"github.com/ashureev/cryptomind-desk/internal/bus"
	"github.com/ashureev/cryptomind-desk/internal/clock"
	"github.com/ashureev/cryptomind-desk/internal/config"
	"github.com/ashureev/cryptomind-desk/internal/feed"
	"github.com/ashureev/cryptomind-desk/internal/ingest"
	"github.com/ashureev/cryptomind-desk/internal/middleware"
	"github.com/ashureev/cryptomind-desk/internal/store"
	"github.com/ashureev/cryptomind-desk/internal/transcript"
	"github.com/ashureev/cryptomind-desk/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server",
		"port", cfg.Port,
		"grpc_port", cfg.GRPCPort,
		"conversation_id", cfg.ConversationID,
		"dev", cfg.IsDevelopment(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()
	recorder := agent.NewRecorder(conversationLogger, cfg.ConversationID)

	// Archive (optional).
	var repo store.Repository
	var archiver *store.Archiver
	if cfg.ArchiveEnabled {
		sqlite, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := sqlite.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		if err := sqlite.Ping(ctx); err != nil {
			return err
		}
		repo = sqlite
		archiver = store.NewArchiver(repo, cfg.ConversationID, cfg.Bus.QueueSize, logger)
		// Closed before the repository: defers run in reverse.
		defer archiver.Close()
		slog.Info("Archive connected", "db_path", cfg.DBPath)
	} else {
		slog.Info("Archive disabled")
	}

	// Engine and its observers.
	engine := analysis.NewEngine(analysis.Config{
		Timeout:      cfg.Analysis.Timeout,
		DisplayDelay: cfg.Analysis.DisplayDelay,
	}, clock.Real(), logger)
	defer engine.Close()

	broadcaster := feed.NewBroadcaster(feed.Config{
		KeepaliveInterval: cfg.SSE.KeepaliveInterval,
		RetryDelay:        cfg.SSE.RetryDelay,
		ReplaySize:        cfg.SSE.ReplaySize,
		InboxSize:         cfg.Bus.QueueSize,
	}, engine.Sessions, logger)
	engine.Subscribe(broadcaster.Observe)
	engine.Subscribe(recorder.Change)
	if archiver != nil {
		engine.Subscribe(func(c analysis.Change) { archiver.Session(c.Session) })
	}

	// Events from every transport reach the engine inline, on the
	// publishing goroutine, so they interleave with transcript messages in
	// arrival order.
	hub := bus.NewHub(cfg.Bus.QueueSize, logger)
	defer hub.Close()
	hub.Handle(engine.Consume)

	// HTTP.
	messageSinks := []api.MessageSink{recorder}
	if archiver != nil {
		messageSinks = append(messageSinks, archiver)
	}
	handler := api.NewHandler(api.Deps{
		Engine:         engine,
		Transcript:     transcript.New(),
		Hub:            hub,
		Repo:           repo,
		ConversationID: cfg.ConversationID,
		MessageSinks:   messageSinks,
		EnvelopeSinks:  []api.EnvelopeSink{recorder},
		MaxBodySize:    cfg.SSE.MaxRequestBodySize,
		Logger:         logger,
	})

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer rateLimiter.Stop()

	connections := ingest.NewConnectionManager(logger)
	wsHandler := ingest.NewWebSocketHandler(hub, connections, recorder, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins(),
		PublishToken:   cfg.PublishToken,
		RateLimiter:    rateLimiter,
		Feed:           broadcaster,
		Events:         wsHandler,
		Board:          web.BoardHandler(),
	})

	g, gctx := errgroup.WithContext(ctx)

	// Note: SSE connections require long timeouts (no WriteTimeout).
	// Request contexts derive from gctx so open streams end on shutdown.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return gctx },
	}

	// gRPC.
	grpcServer := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             time.Minute,
			PermitWithoutStream: false,
		}),
	)
	agent.NewEventBusServer(hub, cfg.PublishToken, recorder, logger).Register(grpcServer)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("gRPC event bus listening", "addr", grpcListener.Addr().String())
		return grpcServer.Serve(grpcListener)
	})
	g.Go(func() error {
		broadcaster.Run(gctx)
		return nil
	})
	if archiver != nil {
		archiveSub := hub.Subscribe()
		g.Go(func() error {
			return ignoreCanceled(archiveSub.Run(gctx, func(env bus.Envelope) {
				archiver.Event(store.EventRecord{
					Topic:      env.Topic,
					Publisher:  env.Publisher,
					Payload:    env.Payload,
					ReceivedAt: env.ReceivedAt,
				})
			}))
		})
	}

	// Wait for shutdown signal or a failed server.
	g.Go(func() error {
		<-gctx.Done()
		stop()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		connections.CloseAll()
		grpcServer.GracefulStop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
