package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/config"
	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/graph"
	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/router"
	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user"
	"github.com/ovaphlow/pitchfork/service-user-graphql/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-user-graphql/pkg/database"
	"github.com/ovaphlow/pitchfork/service-user-graphql/pkg/utilities"
)

const shutdownTimeout = 5 * time.Second

func main() {
	started := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-user-graphql")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar, started); err != nil {
		sugar.Errorw("service stopped with error", "err", err)
		lg.Sync()
		os.Exit(1)
	}
	sugar.Info("goodbye")
}

func run(ctx context.Context, cfg config.Config, sugar *zap.SugaredLogger, started time.Time) error {
	sqlDB, err := database.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer sqlDB.Close()

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, sqlDB, sugar); err != nil {
			return err
		}
	}
	sqlxDB := sqlx.NewDb(sqlDB, "postgres")

	hasher, err := user.NewHasher(cfg.Crypto.Algo, cfg.Crypto.BcryptCost)
	if err != nil {
		return err
	}
	res := &graph.Resources{
		Store:     repo.NewUserRepo(sqlxDB),
		Crypto:    hasher,
		IDs:       utilities.NewIDGenerator(cfg.SnowflakeNode),
		Validator: user.NewValidator(cfg.PasswordPolicy()),
		Logger:    sugar,
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := graph.NewMetricsExtension(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	exts := []graphql.Extension{graph.NewLoggerExtension(sugar), metrics}
	if cfg.GraphQL.Tracing {
		exts = append(exts, graph.NewTracingExtension())
	}

	schema, err := graph.NewSchema(graph.SchemaConfig{Extensions: exts}, graph.PingModule{}, graph.NewUserModule(sugar))
	if err != nil {
		return err
	}

	handler := router.RegisterRoutes(sugar, graph.NewHandler(schema, res, sugar), sqlxDB, reg, router.Options{
		GraphQLPath:     cfg.GraphQL.Path,
		ExplorerEnabled: cfg.GraphQL.Explorer.Enabled,
		ExplorerPath:    cfg.GraphQL.Explorer.Path,
		RateLimitRPS:    cfg.RateLimit.RPS,
		RateLimitBurst:  cfg.RateLimit.Burst,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("shutting down")

		doneCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sqlDB.PingContext(doneCtx); err != nil {
			sugar.Warnf("db ping on shutdown failed: %v", err)
		}
		if err := srv.Shutdown(doneCtx); err != nil {
			sugar.Warnf("http server shutdown failed: %v", err)
		}
		return nil
	})

	sugar.Infow("service is running; press Ctrl+C to stop",
		"addr", srv.Addr,
		"graphql", cfg.GraphQL.Path,
		"startup_ms", time.Since(started).Milliseconds(),
	)
	if cfg.GraphQL.Explorer.Enabled {
		sugar.Infof("GraphQL explorer at http://%s%s", srv.Addr, cfg.GraphQL.Explorer.Path)
	}

	return g.Wait()
}
