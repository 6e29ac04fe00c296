package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freekieb7/sheets/internal/api"
	"github.com/freekieb7/sheets/internal/audit"
	"github.com/freekieb7/sheets/internal/cell"
	"github.com/freekieb7/sheets/internal/config"
	"github.com/freekieb7/sheets/internal/daemon"
	"github.com/freekieb7/sheets/internal/database"
	"github.com/freekieb7/sheets/internal/database/memory"
	"github.com/freekieb7/sheets/internal/database/migrations"
	"github.com/freekieb7/sheets/internal/lock"
	"github.com/freekieb7/sheets/internal/logger"
	"github.com/freekieb7/sheets/internal/metrics"
	"github.com/freekieb7/sheets/internal/notify"
	"github.com/freekieb7/sheets/internal/permission"
	"github.com/freekieb7/sheets/internal/schema"
	"github.com/freekieb7/sheets/internal/sheet"
	"github.com/freekieb7/sheets/internal/storage"
	"github.com/freekieb7/sheets/internal/telemetry"
	"github.com/freekieb7/sheets/internal/validator"
	"github.com/freekieb7/sheets/internal/visibility"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	*rootOptions
	demo bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.demo, "demo", false, "seed a demo directory (memory driver only)")
	return cmd
}

// store is what the server needs from either driver.
type store interface {
	database.Store
	Ping(ctx context.Context) error
}

func runServe(ctx context.Context, opts *serveOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.demo && cfg.Database.Driver != "memory" {
		return errors.New("--demo requires database.driver=memory")
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	var log *slog.Logger
	if tel.IsEnabled() {
		log = logger.New(cfg, tel.LogHandler())
	} else {
		log = logger.New(cfg)
	}
	slog.SetDefault(log)
	log.Info("Starting sheets", "environment", cfg.Server.Environment, "driver", cfg.Database.Driver)

	db, closeDB, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()
	if opts.demo {
		seedDemo(db.(*memory.Store), log)
	}

	files, err := storage.NewFactory(cfg.Storage).CreateStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	var publisher notify.Publisher = notify.Nop{}
	if cfg.Redis.URL != "" {
		redis, err := notify.NewRedisPublisher(ctx, cfg.Redis.URL, cfg.Redis.ChannelPrefix, log)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redis.Close()
		publisher = redis
	}

	m := metrics.New()
	auditor := audit.NewAuditor(log, db)
	resolver := permission.NewResolver(db, auditor, m, log)
	cells := cell.NewStore(db, files, validator.New(), m, log)
	locks := lock.NewManager(db, publisher, m, log, lock.WithStaleAfter(cfg.Lock.StaleAfter))
	sheets := sheet.NewService(sheet.Deps{
		DB:        db,
		Resolver:  resolver,
		Locks:     locks,
		Cells:     cells,
		Builder:   visibility.NewBuilder(db, resolver, cells, log),
		Auditor:   auditor,
		Publisher: publisher,
		Metrics:   m,
	}, log)

	handler := api.NewHandler(api.Deps{
		Sheets:   sheets,
		Schema:   schema.NewRegistry(db, resolver, cells, auditor, publisher, log),
		Resolver: resolver,
		Files:    files,
		DB:       db,
		Metrics:  m,
	}, log)
	app := api.NewApp(handler, cfg.Server)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("API listening", "addr", cfg.Server.Addr())
		return app.Listen(cfg.Server.Addr())
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down API")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if cfg.Lock.StaleAfter > 0 {
		daemons := daemon.NewDaemonManager(log)
		daemons.Add("lock_sweeper", daemon.LockSweeper(locks, cfg.Lock.SweepInterval, log))
		g.Go(func() error {
			daemons.Start(ctx)
			daemons.Wait()
			return nil
		})
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           m.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("Metrics listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Stopped")
	return nil
}

// openStore connects the configured driver and returns a func that closes it.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store, func(), error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("Using the in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil
	}

	if cfg.Database.Migrate {
		if err := migrate(cfg.Database.URL, log, func(mg *migrations.Migrator) error { return mg.Up(0) }); err != nil {
			return nil, nil, err
		}
	}

	db := database.NewDatabase()
	if err := db.Connect(ctx, cfg.Database.URL, database.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return db, db.Close, nil
}
