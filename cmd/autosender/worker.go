package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autosender/autosender/internal/dryrun"
	"github.com/autosender/autosender/internal/log"
)

func doWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	attrs := slog.Group("autosender",
		slog.String("cmd", "_worker"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	w := dryrun.New(cmd.OutOrStdout(), dryrun.LogSender{})
	err := w.Main(ctx, args)
	if errors.Is(err, context.Canceled) {
		slog.DebugContext(ctx, "worker stopped")
		return nil
	}
	return err
}
