package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/fingerprint-match/internal/config"
	"github.com/example/fingerprint-match/internal/embedding"
	"github.com/example/fingerprint-match/internal/grpcclient"
	"github.com/example/fingerprint-match/internal/handlers"
	"github.com/example/fingerprint-match/internal/logging"
	"github.com/example/fingerprint-match/internal/matcher"
	"github.com/example/fingerprint-match/internal/profile"
	"github.com/example/fingerprint-match/internal/repository"
	"github.com/example/fingerprint-match/internal/restclient"
	"github.com/example/fingerprint-match/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	deps, closers := buildDeps(ctx, cfg, logger)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	uc := usecase.NewMatchUseCase(deps, logger)
	router := handlers.NewRouter(uc, cfg.MaxUploadBytes, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("fingerprint match API listening", zap.String("addr", cfg.HTTPAddr))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// buildDeps connects every collaborator. Without STRICT_STARTUP a failed
// collaborator is recorded as unavailable and the service starts degraded.
func buildDeps(ctx context.Context, cfg *config.Config, logger *zap.Logger) (usecase.Deps, []io.Closer) {
	var closers []io.Closer
	fail := func(component string, err error) {
		if cfg.StrictStartup {
			logger.Fatal("startup failed", zap.String("component", component), zap.Error(err))
		}
		logger.Error("starting without component", zap.String("component", component), zap.Error(err))
	}

	deps := usecase.Deps{ResultTTL: cfg.ResultTTL, MaxImagePixels: cfg.MaxImagePixels}

	db, dbErr := initDatabase(ctx, cfg.Database.DSN)
	if dbErr != nil {
		fail("database", dbErr)
		deps.Logs = usecase.Unavailable[usecase.MatchLogRepository]("match log", dbErr)
	} else {
		repo := repository.NewMatchLogRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			fail("match log", err)
			deps.Logs = usecase.Unavailable[usecase.MatchLogRepository]("match log", err)
		} else {
			deps.Logs = usecase.Ready[usecase.MatchLogRepository]("match log", repo)
		}
	}

	redisClient, redisErr := initRedis(ctx, cfg.Redis.Addr)
	if redisErr != nil {
		fail("redis", redisErr)
	} else {
		closers = append(closers, redisClient)
		deps.Cache = usecase.NewRedisCache(redisClient)
	}

	switch cfg.Candidates.Store {
	case config.StoreRedis:
		if redisErr != nil {
			deps.Source = usecase.Unavailable[matcher.Source]("candidate store", redisErr)
		} else {
			deps.Source = usecase.Ready[matcher.Source]("candidate store",
				repository.NewRedisCandidateSource(redisClient, cfg.Candidates.RedisPrefix, logger))
		}
	default:
		if dbErr != nil {
			deps.Source = usecase.Unavailable[matcher.Source]("candidate store", dbErr)
		} else {
			deps.Source = usecase.Ready[matcher.Source]("candidate store",
				repository.NewCitizenRepository(db, cfg.Candidates.Table, logger))
		}
	}

	embedder, closer, err := initEmbedder(ctx, cfg.Embedder, logger)
	if closer != nil {
		closers = append(closers, closer)
	}
	if err == nil {
		var m *matcher.Matcher
		m, err = initMatcher(ctx, cfg, embedder, logger)
		if err == nil {
			deps.Matcher = usecase.Ready("embedding model", m)
		}
	}
	if err != nil {
		fail("embedding model", err)
		deps.Matcher = usecase.Unavailable[*matcher.Matcher]("embedding model", err)
	}

	if cfg.Profiles.Endpoint != "" {
		client, err := profile.NewMinIOClient(profile.ClientConfig{
			Endpoint:  cfg.Profiles.Endpoint,
			AccessKey: cfg.Profiles.AccessKey,
			SecretKey: cfg.Profiles.SecretKey,
			UseSSL:    cfg.Profiles.UseSSL,
		})
		if err != nil {
			logger.Warn("profile presigning disabled", zap.Error(err))
		} else {
			deps.Profiles = profile.NewResolver(client, cfg.Profiles.Bucket, cfg.Profiles.URLTTL, logger)
		}
	}

	return deps, closers
}

func initDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	return client, nil
}

func initEmbedder(ctx context.Context, cfg config.EmbedderConfig, logger *zap.Logger) (embedding.Embedder, io.Closer, error) {
	switch cfg.Backend {
	case config.EmbedderREST:
		return restclient.NewEmbedder(cfg.URL, cfg.Timeout, logger), nil, nil
	default:
		client, conn, err := grpcclient.DialEmbedder(ctx, cfg.Addr, grpcclient.Options{
			CallTimeout: cfg.Timeout,
			MaxRetries:  3,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, conn, nil
	}
}

// initMatcher pins the input shape, asking the backend when configuration
// leaves it unset.
func initMatcher(ctx context.Context, cfg *config.Config, embedder embedding.Embedder, logger *zap.Logger) (*matcher.Matcher, error) {
	opts := cfg.Match
	if !cfg.HasInputShape() {
		shape, err := embedder.InputShape(ctx)
		if err != nil {
			return nil, fmt.Errorf("query embedder input shape: %w", err)
		}
		opts.Shape = shape
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger.Info("matcher ready",
		zap.String("input_shape", opts.Shape.String()),
		zap.String("policy", string(opts.Policy)),
		zap.Float64("threshold", opts.Threshold),
		zap.Int("top_k", opts.TopK),
	)
	return matcher.New(embedder, opts, logger), nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
