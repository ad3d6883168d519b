package recon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shopscan/internal/logging"
	"shopscan/internal/services"
)

const (
	defaultPollInterval = 10 * time.Second
	stageName           = "reconstruction"
)

// HTTPDoer describes the HTTP client used by the reconstruction client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client submits videos to the reconstruction service and polls for the
// archived result.
type Client struct {
	endpoint string
	client   HTTPDoer

	pollInterval    time.Duration
	maxPollAttempts int
	sleeper         func(time.Duration)
	logger          *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithPollInterval overrides the delay between result checks.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithMaxPollAttempts bounds how many result checks are made before giving
// up. Zero keeps polling until the context is cancelled.
func WithMaxPollAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts >= 0 {
			c.maxPollAttempts = attempts
		}
	}
}

// WithSleeper overrides how poll sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a reconstruction client for the given endpoint.
func NewClient(endpoint string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	client := &Client{
		endpoint:     strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		client:       http.DefaultClient,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Reconstruct uploads the video, waits for the service to finish, and
// unpacks the result archive next to the video file.
func (c *Client) Reconstruct(ctx context.Context, videoPath string) error {
	jobID, err := c.Submit(ctx, videoPath)
	if err != nil {
		return err
	}
	c.logger.Info("reconstruction job submitted",
		logging.String(logging.FieldJobID, jobID),
		logging.String("video", videoPath))
	return c.Await(ctx, jobID, filepath.Dir(videoPath))
}

type submitResponse struct {
	ID string `json:"id"`
}

// Submit uploads the video via multipart form and returns the job id the
// service assigned to it.
func (c *Client) Submit(ctx context.Context, videoPath string) (string, error) {
	file, err := os.Open(videoPath)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stageName, "submit", "open video", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(videoPath))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "submit", "build form", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "submit", "copy video", err)
	}
	if err := writer.Close(); err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "submit", "finish form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/generate", &body)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "submit", "build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "submit", "upload video", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "submit", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", services.Wrap(services.ErrExternalTool, stageName, "submit",
			fmt.Sprintf("service returned %d", resp.StatusCode), nil)
	}
	var decoded submitResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", services.Wrap(services.ErrExternalTool, stageName, "submit", "decode response", err)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return "", services.Wrap(services.ErrExternalTool, stageName, "submit", "response missing job id", nil)
	}
	return decoded.ID, nil
}

type statusResponse struct {
	Status int `json:"status"`
}

// Await polls the service until the result archive arrives and unpacks it
// into destDir. Transport failures are retried; a terminal status from the
// service fails the job. When a poll bound is set, exceeding it fails the
// job as a transient error.
func (c *Client) Await(ctx context.Context, jobID, destDir string) error {
	for attempt := 0; ; attempt++ {
		if c.maxPollAttempts > 0 && attempt >= c.maxPollAttempts {
			return services.Wrap(services.ErrTransient, stageName, "await",
				fmt.Sprintf("job %s still pending after %d checks", jobID, c.maxPollAttempts), nil)
		}
		if attempt > 0 {
			if err := c.sleep(ctx); err != nil {
				return err
			}
		}

		done, err := c.checkOnce(ctx, jobID, destDir)
		if err != nil {
			if errors.Is(err, services.ErrTransient) {
				c.logger.Warn("reconstruction poll failed, retrying",
					logging.String(logging.FieldJobID, jobID),
					logging.Error(err))
				continue
			}
			return err
		}
		if done {
			return nil
		}
	}
}

func (c *Client) checkOnce(ctx context.Context, jobID, destDir string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/search?id="+jobID, nil)
	if err != nil {
		return false, services.Wrap(services.ErrTransient, stageName, "await", "build request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, services.Wrap(services.ErrTransient, stageName, "await", "poll service", err)
	}
	defer resp.Body.Close()

	if strings.Contains(resp.Header.Get("Content-Type"), "application/zip") {
		if err := c.unpackArchive(resp.Body, destDir); err != nil {
			return false, err
		}
		c.logger.Info("reconstruction result unpacked",
			logging.String(logging.FieldJobID, jobID),
			logging.String("dir", destDir))
		return true, nil
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, services.Wrap(services.ErrTransient, stageName, "await", "read response", err)
	}
	var status statusResponse
	if err := json.Unmarshal(payload, &status); err != nil {
		return false, services.Wrap(services.ErrTransient, stageName, "await", "decode status", err)
	}
	switch status.Status {
	case 0:
		return false, nil
	case -1:
		return false, services.Wrap(services.ErrExternalTool, stageName, "await",
			fmt.Sprintf("job %s failed or unknown", jobID), nil)
	default:
		return false, services.Wrap(services.ErrExternalTool, stageName, "await",
			fmt.Sprintf("job %s returned unexpected status %d", jobID, status.Status), nil)
	}
}

// unpackArchive stages the archive on disk, extracts it into destDir, and
// removes the archive afterwards.
func (c *Client) unpackArchive(body io.Reader, destDir string) error {
	archivePath := filepath.Join(destDir, "download.zip")
	file, err := os.Create(archivePath)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "await", "stage archive", err)
	}
	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		return services.Wrap(services.ErrTransient, stageName, "await", "download archive", err)
	}
	if err := file.Close(); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "await", "flush archive", err)
	}
	if err := extractZip(archivePath, destDir); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "await", "unpack archive", err)
	}
	if err := os.Remove(archivePath); err != nil {
		c.logger.Warn("could not remove result archive",
			logging.String("path", archivePath),
			logging.Error(err))
	}
	return nil
}

func (c *Client) sleep(ctx context.Context) error {
	if c.pollInterval <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(c.pollInterval)
		return ctx.Err()
	}
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
