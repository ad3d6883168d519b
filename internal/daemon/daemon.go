// Package daemon coordinates the backend: it owns the post store, accepts
// video uploads over HTTP, and hands each post to the processing pipeline.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"shopscan/internal/config"
	"shopscan/internal/joblog"
	"shopscan/internal/logging"
	"shopscan/internal/media/ffprobe"
	"shopscan/internal/pipeline"
	"shopscan/internal/services"
	"shopscan/internal/store"
)

// Daemon enforces single-instance execution and serves the post API.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	pipeline *pipeline.Pipeline

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, p *pipeline.Pipeline, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || p == nil {
		return nil, errors.New("daemon requires config, store, and pipeline")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.LogDir, "shopscand.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		pipeline: p,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg.API.Bind, d, logger)
	return d, nil
}

// Start acquires the daemon lock and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another shopscan daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("shopscan daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops the API server and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("shopscan daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// SubmitVideo stores an uploaded capture video, creates its post, and kicks
// off the processing pipeline in the background.
func (d *Daemon) SubmitVideo(ctx context.Context, filename, title string, content io.Reader) (*store.Post, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".mp4") {
		return nil, services.Wrap(services.ErrValidation, "upload", "submit", "mp4_only", nil)
	}

	stem := SafeStem(filename, d.cfg.Paths.MediaDir)
	workDir := filepath.Join(d.cfg.Paths.MediaDir, stem)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	videoRel := stem + "/" + stem + ".mp4"
	videoAbs := filepath.Join(workDir, stem+".mp4")
	file, err := os.Create(videoAbs)
	if err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	if _, err := io.Copy(file, content); err != nil {
		file.Close()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("flush upload: %w", err)
	}

	if probe, probeErr := ffprobe.Inspect(ctx, d.cfg.Frames.FFprobeBinary, videoAbs); probeErr != nil {
		d.logger.Warn("could not probe upload", logging.String("stem", stem), logging.Error(probeErr))
	} else {
		d.logger.Info("upload probed",
			logging.String("stem", stem),
			logging.Float64("duration_seconds", probe.DurationSeconds()),
			logging.Int64("size_bytes", probe.SizeBytes()))
	}

	post, err := d.store.NewPost(ctx, stem, title, videoRel)
	if err != nil {
		return nil, err
	}
	post.LogPath = stem + "/" + joblog.FileName
	if err := d.store.Update(ctx, post); err != nil {
		return nil, err
	}

	runCtx := d.ctx
	if runCtx == nil {
		runCtx = context.Background()
	}
	d.pipeline.RunAsync(runCtx, post)

	d.logger.Info("video post submitted",
		logging.String(logging.FieldPostID, post.ID),
		logging.String("stem", stem))
	return post, nil
}

// ListPosts returns all posts, oldest first.
func (d *Daemon) ListPosts(ctx context.Context) ([]*store.Post, error) {
	return d.store.List(ctx)
}

// GetPost fetches one post by id.
func (d *Daemon) GetPost(ctx context.Context, id string) (*store.Post, error) {
	return d.store.GetByID(ctx, id)
}

// MediaDir returns the root of the media tree.
func (d *Daemon) MediaDir() string {
	return d.cfg.Paths.MediaDir
}
