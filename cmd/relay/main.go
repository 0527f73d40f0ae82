package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/docrelay/app/relay"
	"github.com/dmitrymomot/docrelay/core/config"
)

const closeTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Document ingestion relay with live WebSocket fan-out",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and WebSocket stream",
		Long: `Start the HTTP API and WebSocket stream.

With QUEUE_DRIVER=redis, inserts from /api/tasks/async are only broadcast
when they are processed by this process (--with-worker). The standalone
"relay worker" stores them but cannot reach this process's subscribers.
QUEUE_DRIVER=memory always runs the worker in process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			withWorker, _ := cmd.Flags().GetBool("with-worker")
			return run(cmd.Context(), func(ctx context.Context, app *relay.App) error {
				return app.Serve(ctx, withWorker)
			})
		},
	}
	serveCmd.Flags().Bool("with-worker", false, "process queued inserts in this process and broadcast them")
	rootCmd.AddCommand(serveCmd)

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued inserts without serving HTTP",
		Long: `Process queued inserts without serving HTTP.

Documents are stored but not broadcast: WebSocket subscribers are connected
to the serve process. Requires QUEUE_DRIVER=redis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), func(ctx context.Context, app *relay.App) error {
				return app.Work(ctx)
			})
		},
	}
	rootCmd.AddCommand(workerCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, fn func(context.Context, *relay.App) error) error {
	var cfg relay.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	app, err := relay.NewApp(ctx, cfg)
	if err != nil {
		return err
	}

	runErr := fn(ctx, app)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	return errors.Join(runErr, app.Close(closeCtx))
}
