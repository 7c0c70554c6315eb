package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kirillkom/immigration-intake/internal/bootstrap"
	"github.com/kirillkom/immigration-intake/internal/config"
	"github.com/kirillkom/immigration-intake/internal/observability/logging"
)

const serviceName = "intake"

func main() {
	once := flag.Bool("once", false, "run a single mailbox poll and exit")
	flag.Parse()

	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if *once {
		if _, err := app.Intake.Poll(ctx); err != nil {
			slog.Error("intake_poll_failed", "error", err)
			os.Exit(1)
		}
		return
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.IntakeMetricsPort,
		Handler:           app.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics_server_failed", "error", err)
		}
	}()

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	_, err = scheduler.AddFunc(cfg.IntakeSchedule, func() {
		if _, err := app.Intake.Poll(ctx); err != nil {
			slog.Error("intake_poll_failed", "error", err)
		}
	})
	if err != nil {
		slog.Error("invalid_intake_schedule", "schedule", cfg.IntakeSchedule, "error", err)
		os.Exit(1)
	}

	slog.Info("intake_scheduled", "schedule", cfg.IntakeSchedule, "workers", cfg.PipelineLimits().Workers)
	scheduler.Start()

	<-ctx.Done()
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

// cronLogger routes scheduler events into slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron_"+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron_"+msg, append(keysAndValues, "error", err)...)
}
