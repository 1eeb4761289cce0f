package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"convo-lab/auth"
	"convo-lab/contract"
	"convo-lab/infrastructure/bus"
	"convo-lab/infrastructure/grpc/server"
	"convo-lab/internal"
	"convo-lab/repositories"
	"convo-lab/runtime/workers"
	"convo-lab/services"
	"convo-lab/telemetry"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires the store, the change bus and the gRPC services, then blocks until a
// signal or a serve error. Every defer runs before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		database.StartDebugServer(db, config.DebugPort, endpoint, repositories.InspectRecord)
	}

	// 3. Telemetry, supervised like any other worker
	emitter := telemetry.NewEmitter(config.TelemetryBuffer)
	sup := workers.NewSupervisor(ctx, logger, config.RestartInterval).WithEmitter(emitter)
	counter := telemetry.NewCounter()
	sup.Start(ctx, telemetry.NewWorker(logger, emitter,
		telemetry.NewWorkerRestartedHandler(logger, counter),
		telemetry.NewChangeDroppedHandler(logger, counter, config.DropWarnEvery),
		telemetry.NewLatencyHandler(logger, config.LatencyThreshold),
	))
	defer func() {
		sup.Stop()
		sup.Wait()
	}()

	// 4. Change bus
	changeBus, publisher, closeBus, err := buildBus(ctx, config, logger, emitter)
	if err != nil {
		return exitRuntime, err
	}
	defer closeBus()

	// 5. Repositories & services
	users := repositories.NewUserRepository(db)
	tokens := auth.NewTokens(config.AuthSecret, config.AuthTokenDuration)
	identity := auth.ContextIdentity{}
	chatService := services.NewChatService(logger,
		repositories.NewConversationRepository(db, logger, publisher),
		repositories.NewMessageRepository(db, logger, publisher, config.LimitMessages),
		users,
		identity,
		config.MaxContentLength,
	)
	authService := services.NewAuthService(users, tokens)

	// 6. gRPC Server Setup
	listener, err := net.Listen("tcp", config.Address())
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", config.Address(), err)
	}
	s := server.New(logger, tokens,
		server.NewChatServer(logger, chatService, changeBus, identity).WithEmitter(emitter),
		server.NewAuthServer(authService),
	)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting gRPC server", "address", config.Address(), "bus", config.BusKind, "at", time.Now().UTC())
		for serviceName := range s.GetServiceInfo() {
			logger.Debug("gRPC exposed services", "name", serviceName)
		}
		if err := s.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 8. Graceful shutdown: Watch streams end when the bus closes their subscriptions.
	logger.Info("Shutting down gracefully...")
	closeBus()
	s.GracefulStop()
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}
	return options
}

// buildBus returns the same bus as subscriber side and publisher side.
// The returned close function is safe to call twice.
func buildBus(ctx context.Context, config internal.Config, logger *slog.Logger, emitter *telemetry.Emitter) (contract.IChangeBus, contract.IPublisher, func(), error) {
	switch config.BusKind {
	case internal.BusRedis:
		redisBus, err := bus.NewRedisFromURL(ctx, config.RedisURL, logger, config.SubscriptionBuffer)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis bus: %w", err)
		}
		redisBus.WithEmitter(emitter)
		return redisBus, redisBus, sync.OnceFunc(func() { _ = redisBus.Close() }), nil
	default:
		memory := bus.NewMemory(logger, config.SubscriptionBuffer).WithEmitter(emitter)
		return memory, memory, memory.Close, nil
	}
}
