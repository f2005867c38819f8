package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	oauth "github.com/SamandarAlimov/accounts-sub001"
	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/notify"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringP("listen", "l", "", "Listen address (default 127.0.0.1:8080)")
	flags.String("issuer", "", "Issuer URL advertised in discovery and id_tokens")
	flags.String("store", "", "Storage backend: memory, valkey or postgres")
	bindFlag(v, "listen", flags.Lookup("listen"))
	bindFlag(v, "server.issuer", flags.Lookup("issuer"))
	bindFlag(v, "store.backend", flags.Lookup("store"))
	return cmd
}

func runServe(ctx context.Context, cfg *config) error {
	logger, logCloser, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logCloser.Close()

	logger.Info("Starting accountsd",
		"version", version,
		"listen", cfg.Listen,
		"issuer", cfg.Server.Issuer,
		"store", cfg.Store.Backend)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     "accountsd",
		ServiceVersion:  version,
		Enabled:         cfg.Telemetry.Enabled,
		MetricsExporter: cfg.Telemetry.MetricsExporter,
	})
	if err != nil {
		return fmt.Errorf("failed to set up instrumentation: %w", err)
	}
	defer shutdownWithTimeout(logger, "instrumentation", inst.Shutdown)

	store, closeStore, err := openStore(ctx, cfg.Store, logger, inst)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	if err := seed(ctx, store, cfg, logger); err != nil {
		return err
	}

	queue, notifier, closeNotifier, err := setupNotify(cfg.Notify, logger, inst)
	if err != nil {
		return err
	}
	defer closeNotifier()
	defer shutdownWithTimeout(logger, "notification queue", queue.Stop)

	handler, err := oauth.NewServer(store, &oauth.Config{
		Server: cfg.serverConfig(),
		RateLimit: oauth.RateLimitConfig{
			Rate:  cfg.RateLimit.Rate,
			Burst: cfg.RateLimit.Burst,
		},
		Security: oauth.SecurityConfig{
			TrustProxy:         cfg.Security.TrustProxy,
			EnableAuditLogging: cfg.Security.Audit,
		},
		Logger:          logger,
		Instrumentation: inst,
		Queue:           queue,
		Notifier:        notifier,
	})
	if err != nil {
		return err
	}
	defer handler.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(handler, inst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownWithTimeout(logger, "http server", srv.Shutdown)
	return nil
}

func newRouter(handler *oauth.Handler, inst *instrumentation.Instrumentation) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if metrics := inst.PrometheusHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.Mount("/", handler.Routes())
	return r
}

// setupNotify builds the event queue and the notifiers events fan out to.
// Without any notifier the queue is still returned so shutdown stays uniform.
func setupNotify(cfg notifyConfig, logger *slog.Logger, inst *instrumentation.Instrumentation) (*notify.Queue, notify.Notifier, func(), error) {
	queue := notify.NewQueue(notify.QueueConfig{
		Workers:  cfg.Workers,
		Capacity: cfg.Capacity,
		Logger:   logger,
		Metrics:  inst.Metrics(),
	})

	var notifiers notify.MultiNotifier
	closeFn := func() {}

	if cfg.LogEvents {
		notifiers = append(notifiers, &notify.LogNotifier{Logger: logger})
	}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(notify.AMQPConfig{
			URL:              cfg.AMQPURL,
			Exchange:         cfg.Exchange,
			RoutingKeyPrefix: cfg.RoutingKeyPrefix,
			Logger:           logger,
		})
		if err != nil {
			_ = queue.Stop(context.Background())
			return nil, nil, nil, fmt.Errorf("failed to connect notifier: %w", err)
		}
		notifiers = append(notifiers, amqpNotifier)
		closeFn = func() {
			if err := amqpNotifier.Close(); err != nil {
				logger.Warn("Failed to close AMQP notifier", "error", err)
			}
		}
	}

	if len(notifiers) == 0 {
		return queue, nil, closeFn, nil
	}
	return queue, notifiers, closeFn, nil
}

func shutdownWithTimeout(logger *slog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("Shutdown error", "component", what, "error", err)
	}
}
