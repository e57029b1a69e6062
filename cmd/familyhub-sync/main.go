package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"google.golang.org/grpc"

	"familyhub/backend/internal/config"
	"familyhub/backend/internal/provider"
	"familyhub/backend/internal/provider/google"
	"familyhub/backend/internal/provider/ics"
	"familyhub/backend/internal/provider/outlook"
	"familyhub/backend/internal/service/calsync"
	"familyhub/backend/internal/service/connections"
	"familyhub/backend/internal/service/scheduler"
	"familyhub/backend/internal/store/postgres"
	grpcTransport "familyhub/backend/internal/transport/grpc"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "familyhub-sync"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "familyhub-sync"),
	)
	slog.SetDefault(log)

	grpcAddr := cfg.GRPCAddr()
	log.Info("starting", slog.String("grpc_addr", grpcAddr), slog.String("log_level", cfg.LogLevel))

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:       cfg.DBMaxOpenConns,
		MaxIdleConns:       cfg.DBMaxIdleConns,
		ConnMaxLifetime:    cfg.DBConnMaxLifetime,
		ConnMaxIdleTime:    cfg.DBConnMaxIdleTime,
		SlowQueryThreshold: cfg.DBSlowQuery,
		Logger:             log,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	registry, err := newRegistry(cfg, log)
	if err != nil {
		log.Error("provider registry failed", slog.Any("err", err))
		os.Exit(1)
	}

	connRepo := postgres.NewConnectionRepo(db)
	eventRepo := postgres.NewEventRepo(db)

	syncer := calsync.NewSyncer(registry, connRepo, eventRepo, calsync.Config{
		ProviderTimeout:    cfg.Sync.ProviderTimeout,
		TokenRefreshMargin: cfg.Sync.TokenRefreshMargin,
	}, log)
	sched := scheduler.New(connRepo, syncer, scheduler.Config{
		BatchLimit:     cfg.Sync.BatchLimit,
		MaxConcurrency: cfg.Sync.MaxConcurrency,
	}, log)
	svc := connections.NewService(connRepo, registry, syncer, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cronLog := cronLogger{log: log.With(slog.String("component", "cron"))}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(cfg.Sync.Cron, func() {
		if _, err := sched.RunDueSyncs(ctx, cfg.Sync.BatchLimit); err != nil {
			log.Error("sync pass failed", slog.Any("err", err))
		}
	}); err != nil {
		log.Error("invalid sync schedule", slog.Any("err", err), slog.String("sync_cron", cfg.Sync.Cron))
		os.Exit(1)
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout)),
	)
	grpcTransport.RegisterCalendarSyncServiceServer(grpcServer, grpcTransport.NewCalendarSyncServer(svc, sched, log))

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", grpcAddr))
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()

	c.Start()
	log.Info("grpc server started",
		slog.String("grpc_addr", grpcAddr),
		slog.String("sync_cron", cfg.Sync.Cron),
		slog.Any("providers", registry.Kinds()),
	)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdown(log, grpcServer, c, cfg.ShutdownTimeout)
	case err := <-errCh:
		c.Stop()
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// newRegistry registers the feed adapter unconditionally and each OAuth
// provider only when its client credentials are configured. Every adapter
// gets its own rate-limited client.
func newRegistry(cfg config.Config, log *slog.Logger) (*provider.Registry, error) {
	httpClient := func(userAgent string) provider.HTTPConfig {
		return provider.HTTPConfig{
			Timeout:       cfg.Sync.ProviderTimeout,
			RatePerSecond: cfg.Providers.RatePerSecond,
			Burst:         cfg.Providers.RateBurst,
			UserAgent:     userAgent,
		}
	}

	adapters := []provider.Adapter{
		ics.New(provider.NewHTTPClient(httpClient(cfg.Providers.ICSUserAgent)), log),
	}
	if g := cfg.Providers.Google; g.Enabled() {
		adapters = append(adapters, google.New(google.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
		}, provider.NewHTTPClient(httpClient("")), log))
	} else {
		log.Info("google calendar disabled: no client credentials")
	}
	if o := cfg.Providers.Outlook; o.Enabled() {
		adapters = append(adapters, outlook.New(outlook.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			Tenant:       o.Tenant,
		}, provider.NewHTTPClient(httpClient("")), log))
	} else {
		log.Info("outlook calendar disabled: no client credentials")
	}
	return provider.NewRegistry(adapters...)
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

// shutdown stops scheduling first so no new pass starts, waits for a running
// pass, then drains the grpc server. Both waits share one timeout.
func shutdown(log *slog.Logger, s *grpc.Server, c *cron.Cron, timeout time.Duration) {
	log.Info("shutting down", slog.Duration("timeout", timeout))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.Stop().Done():
		log.Info("sync scheduler stopped")
	case <-timer.C:
		log.Warn("sync pass still running at shutdown")
		s.Stop()
		return
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}

// cronLogger routes cron's logr-style output to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{slog.Any("err", err)}, keysAndValues...)...)
}
