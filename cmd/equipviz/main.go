package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"equipviz/internal/amqp"
	"equipviz/internal/analysis/remote"
	"equipviz/internal/cache"
	"equipviz/internal/cli"
	"equipviz/internal/config"
	apphttp "equipviz/internal/http"
	"equipviz/internal/journal"
	"equipviz/internal/log"
	"equipviz/internal/middleware/ratelimit"
	"equipviz/internal/session"
	"equipviz/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	cleanupInterval = time.Minute
	eventBuffer     = 256
	eventTimeout    = 10 * time.Second
)

func main() {
	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	backend, err := remote.NewClient(remote.Config{
		BaseURL:        cfg.BackendURL,
		Timeout:        cfg.BackendTimeout,
		LoginTimeout:   cfg.BackendLoginTimeout,
		MaxRetries:     cfg.BackendRetries,
		RetryBaseDelay: cfg.BackendRetryDelay,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("analysis client: %w", err)
	}

	store := session.NewStore(cfg.MaxSessions, cfg.SessionTTL, logger)
	lockout := ratelimit.NewLockout(cfg.LoginMaxFailures, cfg.LoginLockout)

	caches := cache.NewManager(logger.Logger)
	caches.Register(store)
	caches.Register(cache.CleanerFunc(lockout.Prune))
	caches.StartCleanup(cleanupInterval)

	var (
		sinks    []session.ActivitySink
		opts     = []apphttp.Option{apphttp.WithLogger(logger), apphttp.WithReadinessCheck("backend", backend.Ping)}
		closers  []func(context.Context)
		activity *journal.Journal
	)

	if cfg.JournalEnabled() {
		activity, err = journal.Open(cfg.JournalDBPath, logger)
		if err != nil {
			caches.Stop()
			return fmt.Errorf("activity journal: %w", err)
		}
		sinks = append(sinks, activity)
		opts = append(opts,
			apphttp.WithActivityLister(activity),
			apphttp.WithReadinessCheck("journal", activity.Ping))
		logger.Info("Activity journal enabled", "path", cfg.JournalDBPath)
	}

	if cfg.EventsEnabled() {
		publisher, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, logger.Logger)
		if err != nil {
			// events are optional; the dashboard keeps working without a broker
			logger.Warn("Activity events disabled: broker unreachable", log.FieldError, err)
		} else {
			dispatcher := worker.NewActivityDispatcher(publisher, eventBuffer, eventTimeout, logger.Logger)
			sinks = append(sinks, dispatcher)
			closers = append(closers, func(ctx context.Context) {
				if err := dispatcher.Close(ctx); err != nil {
					logger.Warn("Activity events not fully delivered", log.FieldError, err)
				}
				delivered, dropped, failed := dispatcher.Stats()
				logger.Info("Activity events stopped", "delivered", delivered, "dropped", dropped, "failed", failed)
				_ = publisher.Close()
			})
			logger.Info("Activity events enabled", "exchange", cfg.AMQPExchange)
		}
	}

	manager := session.NewManager(backend, store,
		session.WithLoginGuard(lockout),
		session.WithActivitySinks(sinks...),
		session.WithLogger(logger))

	if cfg.SessionKey == "" {
		logger.Warn("SESSION_KEY not set, session cookies will not survive a restart")
	}
	srv, err := apphttp.NewServer(apphttp.Config{
		Addr:              ":" + cfg.Port,
		CookieSecure:      cfg.CookieSecure,
		SessionKey:        []byte(cfg.SessionKey),
		MaxUploadBytes:    cfg.MaxUploadBytes,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}, manager, opts...)
	if err != nil {
		caches.Stop()
		return err
	}

	// Uploads and reports wait on the analysis service, so writes get the
	// backend timeout on top of the usual budget.
	srv.ReadTimeout = 30 * time.Second
	srv.ReadHeaderTimeout = 10 * time.Second
	srv.WriteTimeout = cfg.BackendTimeout + 10*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, stop := cli.SignalContext(context.Background(), logger)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting equipviz server",
			"port", cfg.Port,
			"backend", backend.BaseURL(),
			"journal", cfg.JournalEnabled(),
			"events", cfg.EventsEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := cli.ShutdownContext(shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		caches.Stop()
		closed := store.Close()
		logger.Info("Sessions closed", "count", closed)
		for _, c := range closers {
			c(shutdownCtx)
		}
		if activity != nil {
			if cerr := activity.Close(); cerr != nil {
				logger.Warn("Closing activity journal failed", log.FieldError, cerr)
			}
		}
		return err
	})
	return g.Wait()
}
