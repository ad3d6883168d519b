package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shopscan/internal/jobqueue"
	"shopscan/internal/logging"
	"shopscan/internal/reconserver"
)

func newReconserverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconserver",
		Short: "Run the reconstruction service: job queue, worker, and result API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			runCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger, err := logging.NewForDir(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir, "reconserver.log")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			runner := &jobqueue.ExecRunner{
				ReconstructArgs: cfg.Worker.ReconstructArgs,
				OptimizeArgs:    cfg.Worker.OptimizeArgs,
			}
			queue := jobqueue.New(cfg.Worker.UploadDir, cfg.Worker.ResultDir, runner, logger)
			queue.Start(runCtx)

			server := reconserver.New(cfg.Worker.Bind, queue, logger)
			if err := server.Start(runCtx); err != nil {
				return err
			}
			defer server.Stop()

			<-runCtx.Done()
			return nil
		},
	}
}
