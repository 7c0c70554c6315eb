package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/immigration-intake/internal/bootstrap"
	"github.com/kirillkom/immigration-intake/internal/config"
	"github.com/kirillkom/immigration-intake/internal/observability/logging"
)

const serviceName = "provision"

const usage = `usage: provision <command> [flags]

commands:
  slots       create appointment slots (-days, -capacity)
  guidelines  index guideline files from GUIDELINES_DIR
  resume      drive an interrupted request to completion (-id)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("provision_failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	days := fs.Int("days", cfg.SlotDays, "number of days to provision, starting tomorrow")
	capacity := fs.Int("capacity", cfg.SlotCapacity, "bookings per slot")
	requestID := fs.Int64("id", 0, "request id to resume")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch command {
	case "slots", "guidelines", "resume":
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	switch command {
	case "slots":
		created, err := app.Provisioner.Provision(ctx, *days, *capacity)
		if err != nil {
			return err
		}
		slog.Info("slots_provisioned", "days", *days, "capacity", *capacity, "created", created)
	case "guidelines":
		names, err := app.Guidelines.LoadDir(ctx, os.DirFS(cfg.GuidelinesDir))
		if err != nil {
			return err
		}
		slog.Info("guidelines_indexed", "dir", cfg.GuidelinesDir, "count", len(names), "names", names)
	case "resume":
		if *requestID <= 0 {
			return fmt.Errorf("-id is required")
		}
		req, err := app.Machine.Run(ctx, *requestID)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(req)
	}
	return nil
}
