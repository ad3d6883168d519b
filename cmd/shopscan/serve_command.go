package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shopscan/internal/config"
	"shopscan/internal/daemon"
	"shopscan/internal/frames"
	"shopscan/internal/logging"
	"shopscan/internal/pipeline"
	"shopscan/internal/products"
	"shopscan/internal/services/oracle"
	"shopscan/internal/services/recon"
	"shopscan/internal/store"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backend: upload API, reconstruction client, product detection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	runCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewForDir(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir, "shopscan.log")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	st, err := store.OpenInDir(cfg.Paths.LogDir)
	if err != nil {
		return fmt.Errorf("open post store: %w", err)
	}

	reconOpts := []recon.Option{
		recon.WithPollInterval(time.Duration(cfg.Reconstruction.PollIntervalSeconds) * time.Second),
		recon.WithMaxPollAttempts(cfg.Reconstruction.MaxPollAttempts),
	}
	if cfg.Reconstruction.UploadTimeout > 0 {
		reconOpts = append(reconOpts, recon.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Reconstruction.UploadTimeout) * time.Second,
		}))
	}
	reconClient := recon.NewClient(cfg.Reconstruction.Endpoint, logger, reconOpts...)

	var detector pipeline.Detector
	if cfg.Oracle.APIKey != "" {
		analyzer := oracle.NewClient(oracle.Config{
			APIKey:         cfg.Oracle.APIKey,
			BaseURL:        cfg.Oracle.BaseURL,
			Model:          cfg.Oracle.Model,
			TimeoutSeconds: cfg.Oracle.TimeoutSeconds,
		})
		extractor := frames.NewExtractor(cfg.Frames.SearchRangeMS, cfg.Frames.StepMS, logger)
		decoders := func(ctx context.Context, videoPath string) (frames.Decoder, error) {
			return frames.NewFFmpegDecoder(ctx, cfg.Frames.FFmpegBinary, cfg.Frames.FFprobeBinary, videoPath)
		}
		detector = products.NewService(analyzer, extractor, decoders, logger)
	} else {
		logger.Warn("oracle api key not configured, product detection disabled")
	}

	p := pipeline.New(st, reconClient, detector, cfg.Paths.MediaDir, logger)
	d, err := daemon.New(cfg, st, p, logger)
	if err != nil {
		st.Close()
		return err
	}
	defer d.Close()

	if err := d.Start(runCtx); err != nil {
		return err
	}
	<-runCtx.Done()
	return nil
}
