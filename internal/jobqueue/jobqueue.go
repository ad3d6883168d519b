// Package jobqueue holds the reconstruction service's job table and the
// single worker that runs the reconstruction and optimization programs.
package jobqueue

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"shopscan/internal/logging"
	"shopscan/internal/services"
)

// Status is the lifecycle state of a reconstruction job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const stageName = "jobqueue"

// queueCapacity bounds how many jobs can wait behind the worker.
const queueCapacity = 256

type task struct {
	jobID     string
	videoPath string
}

// Runner executes the external reconstruction programs for a job.
type Runner interface {
	// Reconstruct turns the uploaded video into a raw point cloud and
	// trajectory in the result directory.
	Reconstruct(ctx context.Context, jobID, videoPath string) error
	// Optimize refines the raw point cloud into its final form.
	Optimize(ctx context.Context, jobID, rawPath, optimizedPath string) error
}

// Queue is the in-memory job table plus a FIFO work channel drained by one
// worker goroutine. Jobs are keyed by the upload's filename stem, so
// resubmitting the same capture reuses its results.
type Queue struct {
	uploadDir string
	resultDir string
	runner    Runner
	logger    *slog.Logger

	mu     sync.Mutex
	status map[string]Status

	tasks chan task
	wg    sync.WaitGroup
}

// New builds a queue writing uploads and results to the given directories.
func New(uploadDir, resultDir string, runner Runner, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Queue{
		uploadDir: uploadDir,
		resultDir: resultDir,
		runner:    runner,
		logger:    logger,
		status:    make(map[string]Status),
		tasks:     make(chan task, queueCapacity),
	}
}

// Start launches the worker goroutine. The worker drains jobs one at a time
// until the context is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-q.tasks:
				q.process(ctx, t)
			}
		}
	}()
}

// Wait blocks until the worker goroutine has exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// OptimizedPath returns where a job's final point cloud lives.
func (q *Queue) OptimizedPath(jobID string) string {
	return filepath.Join(q.resultDir, jobID+"_optimized.ply")
}

// TrajectoryPath returns where a job's camera trajectory lives.
func (q *Queue) TrajectoryPath(jobID string) string {
	return filepath.Join(q.resultDir, jobID+".txt")
}

func (q *Queue) rawPath(jobID string) string {
	return filepath.Join(q.resultDir, jobID+".ply")
}

// Submit registers an uploaded video. The job id is the filename stem.
// When the optimized point cloud for that id already exists the upload is
// discarded and the job reports completed immediately.
func (q *Queue) Submit(filename string, content io.Reader) (string, bool, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return "", false, services.Wrap(services.ErrValidation, stageName, "submit", "missing filename", nil)
	}
	if !strings.EqualFold(filepath.Ext(filename), ".mp4") {
		return "", false, services.Wrap(services.ErrValidation, stageName, "submit",
			fmt.Sprintf("unsupported upload %q, only mp4 is accepted", filename), nil)
	}
	jobID := strings.TrimSuffix(filename, filepath.Ext(filename))

	if _, err := os.Stat(q.OptimizedPath(jobID)); err == nil {
		q.setStatus(jobID, StatusCompleted)
		q.logger.Info("result already exists, skipping processing",
			logging.String(logging.FieldJobID, jobID))
		return jobID, true, nil
	}

	if err := os.MkdirAll(q.uploadDir, 0o755); err != nil {
		return "", false, services.Wrap(services.ErrTransient, stageName, "submit", "create upload dir", err)
	}
	videoPath := filepath.Join(q.uploadDir, jobID+".mp4")
	file, err := os.Create(videoPath)
	if err != nil {
		return "", false, services.Wrap(services.ErrTransient, stageName, "submit", "stage upload", err)
	}
	if _, err := io.Copy(file, content); err != nil {
		file.Close()
		return "", false, services.Wrap(services.ErrTransient, stageName, "submit", "write upload", err)
	}
	if err := file.Close(); err != nil {
		return "", false, services.Wrap(services.ErrTransient, stageName, "submit", "flush upload", err)
	}

	select {
	case q.tasks <- task{jobID: jobID, videoPath: videoPath}:
	default:
		return "", false, services.Wrap(services.ErrTransient, stageName, "submit", "queue full", nil)
	}
	q.setStatus(jobID, StatusQueued)
	q.logger.Info("job queued",
		logging.String(logging.FieldJobID, jobID),
		logging.String("video", videoPath))
	return jobID, false, nil
}

// Lookup reports a job's status. Jobs absent from memory but whose
// optimized point cloud exists on disk report completed, so results survive
// a service restart.
func (q *Queue) Lookup(jobID string) (Status, bool) {
	q.mu.Lock()
	status, ok := q.status[jobID]
	q.mu.Unlock()
	if ok {
		return status, true
	}
	if _, err := os.Stat(q.OptimizedPath(jobID)); err == nil {
		return StatusCompleted, true
	}
	return "", false
}

// FetchResult builds the result archive for a completed job: the trajectory
// and the optimized point cloud. If either file is missing the job is
// flipped to failed and a missing-artifact error returned.
func (q *Queue) FetchResult(jobID string) ([]byte, error) {
	trajPath := q.TrajectoryPath(jobID)
	plyPath := q.OptimizedPath(jobID)
	for _, path := range []string{trajPath, plyPath} {
		if _, err := os.Stat(path); err != nil {
			q.setStatus(jobID, StatusFailed)
			return nil, services.Wrap(services.ErrMissingArtifact, stageName, "fetch",
				fmt.Sprintf("job %s completed but %s is missing", jobID, filepath.Base(path)), nil)
		}
	}

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for _, path := range []string{trajPath, plyPath} {
		if err := addZipEntry(writer, path); err != nil {
			writer.Close()
			return nil, services.Wrap(services.ErrTransient, stageName, "fetch", "build archive", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "fetch", "finish archive", err)
	}
	return buf.Bytes(), nil
}

func addZipEntry(writer *zip.Writer, path string) error {
	entry, err := writer.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(entry, file)
	return err
}

func (q *Queue) process(ctx context.Context, t task) {
	q.setStatus(t.jobID, StatusProcessing)
	q.logger.Info("job processing started",
		logging.String(logging.FieldJobID, t.jobID),
		logging.String("video", t.videoPath))

	if err := os.MkdirAll(q.resultDir, 0o755); err != nil {
		q.fail(t.jobID, err)
		return
	}
	if err := q.runner.Reconstruct(ctx, t.jobID, t.videoPath); err != nil {
		q.fail(t.jobID, err)
		return
	}
	if err := q.runner.Optimize(ctx, t.jobID, q.rawPath(t.jobID), q.OptimizedPath(t.jobID)); err != nil {
		q.fail(t.jobID, err)
		return
	}

	q.setStatus(t.jobID, StatusCompleted)
	q.logger.Info("job completed", logging.String(logging.FieldJobID, t.jobID))
}

func (q *Queue) fail(jobID string, err error) {
	q.setStatus(jobID, StatusFailed)
	q.logger.Error("job failed",
		logging.String(logging.FieldJobID, jobID),
		logging.Error(err))
}

func (q *Queue) setStatus(jobID string, status Status) {
	q.mu.Lock()
	q.status[jobID] = status
	q.mu.Unlock()
}
