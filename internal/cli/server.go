package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"exam-session-service/internal/config"
	"exam-session-service/internal/domain"
	"exam-session-service/internal/engine"
	"exam-session-service/internal/infra/memory"
	pgcatalog "exam-session-service/internal/infra/postgres"
	redisinfra "exam-session-service/internal/infra/redis"
	"exam-session-service/internal/logger"
	transport "exam-session-service/internal/transport/http"
	"exam-session-service/internal/variant"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	var bunDB *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bunDB = bun.NewDB(sqldb, pgdialect.New())
	}

	var loader memory.CatalogLoader = memory.NewStaticCatalogLoader(sampleAssessments(), sampleQuestionSets())
	if pool != nil {
		loader = pgcatalog.NewCatalogLoader(pool)
	}

	catalogTTL := config.Duration(cfg.Catalog.TTL, 10*time.Minute)
	var catalog engine.Catalog
	if redisClient != nil {
		catalog = redisinfra.NewCatalogRepository(redisClient, loader, catalogTTL)
	} else {
		catalog = memory.NewCatalogRepository(loader, catalogTTL)
	}

	var registry engine.SessionRegistry
	if redisClient != nil {
		registry = redisinfra.NewSessionRegistry(redisClient, redisTTL)
	} else {
		registry = memory.NewSessionRegistry()
	}

	var results engine.ResultStore = memory.NewResultStore()
	if bunDB != nil {
		results = pgcatalog.NewResultStore(bunDB)
	}

	var resolver engine.VariantResolver = variant.Static{}
	if cfg.Variant.URL != "" {
		resolver = variant.NewResolver(cfg.Variant.URL, config.Duration(cfg.Variant.Timeout, 3*time.Second), log)
	}

	duration := config.Duration(cfg.Session.Duration, time.Hour)
	service := engine.NewService(catalog, resolver, results, registry, duration, log)
	wsHandler := transport.NewWSHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting assessment session service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleAssessments provides minimal demo content; a Postgres-backed loader
// replaces this in production.
func sampleAssessments() []domain.Assessment {
	return []domain.Assessment{
		{ID: "algebra1", Name: "Algebra I", Description: "Linear equations and factoring"},
	}
}

func sampleQuestionSets() map[string]map[string][]domain.Question {
	return map[string]map[string][]domain.Question{
		"algebra1": {
			"1": {
				{
					ID:            "q1",
					Text:          "What is 2 + 2?",
					Options:       []string{"3", "4", "5"},
					CorrectOption: 1,
					Points:        1,
				},
				{
					ID:            "q2",
					Text:          "Solve x + 1 = 3.",
					Options:       []string{"x = 1", "x = 2", "x = 3"},
					CorrectOption: 1,
					Points:        1,
				},
			},
		},
	}
}
