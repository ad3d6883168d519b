// Package pipeline orchestrates a post's processing run: reconstruction,
// product detection, artifact classification, and persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"runtime/debug"

	"shopscan/internal/artifacts"
	"shopscan/internal/joblog"
	"shopscan/internal/logging"
	"shopscan/internal/products"
	"shopscan/internal/services"
	"shopscan/internal/store"
)

// Reconstructor produces the 3D artifacts for a video in its directory.
type Reconstructor interface {
	Reconstruct(ctx context.Context, videoPath string) error
}

// Detector finds the products shown in a video.
type Detector interface {
	Detect(ctx context.Context, videoPath string) ([]products.Detection, error)
}

// Pipeline runs posts through reconstruction and analysis.
type Pipeline struct {
	store    *store.Store
	recon    Reconstructor
	detector Detector
	mediaDir string
	logger   *slog.Logger
}

// New wires a pipeline. The detector may be nil to skip product analysis.
func New(st *store.Store, recon Reconstructor, detector Detector, mediaDir string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{store: st, recon: recon, detector: detector, mediaDir: mediaDir, logger: logger}
}

// RunAsync processes the post on its own goroutine. The upload request that
// triggered the run has already returned by the time this executes.
func (p *Pipeline) RunAsync(ctx context.Context, post *store.Post) {
	go p.Run(ctx, post)
}

// Run processes one post to a terminal status. Failures never propagate:
// they are written to the process log and the post flips to error. Partial
// artifacts recorded before a failure are kept.
func (p *Pipeline) Run(ctx context.Context, post *store.Post) {
	workDir := filepath.Join(p.mediaDir, post.Stem)
	videoPath := filepath.Join(workDir, filepath.Base(post.VideoPath))
	plog := joblog.ForDir(workDir)

	defer func() {
		if r := recover(); r != nil {
			plog.Append("panic: %v", r)
			plog.Append("TRACE:\n%s", debug.Stack())
			p.failPost(ctx, post, "panic during processing")
		}
	}()

	plog.Append("Job start post_id=%s video=%s", post.ID, post.VideoPath)
	if err := p.store.SetStatus(ctx, post.ID, store.StatusProcessing, ""); err != nil {
		p.logger.Error("could not mark post processing",
			logging.String(logging.FieldPostID, post.ID),
			logging.Error(err))
	}

	plog.Append("3D reconstruction started")
	if err := p.recon.Reconstruct(ctx, videoPath); err != nil {
		plog.Append("reconstruction failed: %v", err)
		plog.Append("TRACE:\n%s", debug.Stack())
		p.failPost(ctx, post, err.Error())
		return
	}
	plog.Append("3D reconstruction finished, scanning results")

	// Product analysis runs before classification so the detection sidecar
	// lands in the work directory and is picked up as the points JSON.
	if p.detector != nil {
		if _, err := p.detector.Detect(ctx, videoPath); err != nil {
			if services.Fatal(err) {
				plog.Append("analysis failed: %v", err)
				p.failPost(ctx, post, err.Error())
				return
			}
			plog.Append("product analysis unavailable, continuing: %v", err)
			p.logger.Warn("product analysis skipped",
				logging.String(logging.FieldPostID, post.ID),
				logging.Error(err))
		}
	}

	set, err := artifacts.ClassifyDir(workDir)
	if err != nil {
		plog.Append("no result files (.ply/.txt/.json) found")
		p.failPost(ctx, post, err.Error())
		return
	}
	p.recordArtifacts(post, set, plog)

	post.Status = store.StatusDone
	post.ErrorMessage = ""
	if err := p.store.Update(ctx, post); err != nil {
		plog.Append("could not persist post: %v", err)
		p.failPost(ctx, post, err.Error())
		return
	}
	plog.Append("Job done")
	p.logger.Info("post processed",
		logging.String(logging.FieldPostID, post.ID),
		logging.String("stem", post.Stem))
}

// recordArtifacts maps classified file names onto the post's media-relative
// paths and logs each assignment.
func (p *Pipeline) recordArtifacts(post *store.Post, set artifacts.Set, plog *joblog.Logger) {
	rel := func(name string) string { return post.Stem + "/" + name }

	if set.PointCloud != "" {
		post.PlyPath = rel(set.PointCloud)
		plog.Append("PLY recorded: /media/%s", post.PlyPath)
	}
	if set.Trajectory != "" {
		post.TrajPath = rel(set.Trajectory)
		plog.Append("TRAJ recorded: /media/%s", post.TrajPath)
	}
	if set.Points != "" {
		post.PointsPath = rel(set.Points)
		plog.Append("POINTS recorded: /media/%s", post.PointsPath)
	}
	for _, extra := range set.Extras {
		plog.Append("EXTRA artifact: /media/%s", rel(extra))
	}
	if len(set.Extras) > 0 {
		if encoded, err := json.Marshal(set.Extras); err == nil {
			post.ExtrasJSON = string(encoded)
		}
	}
}

func (p *Pipeline) failPost(ctx context.Context, post *store.Post, message string) {
	post.Status = store.StatusError
	post.ErrorMessage = message
	if err := p.store.SetStatus(ctx, post.ID, store.StatusError, message); err != nil {
		p.logger.Error("could not mark post failed",
			logging.String(logging.FieldPostID, post.ID),
			logging.Error(err))
	}
	p.logger.Error("post processing failed",
		logging.String(logging.FieldPostID, post.ID),
		logging.String(logging.FieldErrorHint, message))
}
