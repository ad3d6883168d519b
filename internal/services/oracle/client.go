package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout     = 120 * time.Second
	defaultPollInterval    = 2 * time.Second
	defaultMaxPollAttempts = 60
	videoMimeType          = "video/mp4"
)

const productPrompt = "List every product that appears in this video: its name, the price shown, " +
	"and the exact time in the video where the product appears. If no price is visible, give the name only."

// Config captures the runtime settings required to talk to the vision oracle.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Detection is a single product the oracle found in a video. Price is nil
// when no price was visible at the detection time.
type Detection struct {
	Name    string  `json:"name"`
	Price   *string `json:"price"`
	TimeMin int     `json:"time_min"`
	TimeSec int     `json:"time_sec"`
	TimeMS  int     `json:"time_ms"`
}

// Client drives the upload, activation poll, and content generation calls of
// the generative language file API.
type Client struct {
	cfg        Config
	httpClient *http.Client

	pollInterval    time.Duration
	maxPollAttempts int
	sleeper         func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPollInterval overrides the delay between file activation checks.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithMaxPollAttempts bounds how many activation checks are made before
// giving up on an uploaded file.
func WithMaxPollAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
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

// NewClient constructs an oracle client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:      &http.Client{Timeout: timeout},
		pollInterval:    defaultPollInterval,
		maxPollAttempts: defaultMaxPollAttempts,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if client.cfg.Model == "" {
		client.cfg.Model = "gemini-2.5-pro"
	}
	return client
}

// AnalyzeVideo uploads the video, waits for the file to become active, and
// asks the model for the products it contains.
func (c *Client) AnalyzeVideo(ctx context.Context, videoPath string) ([]Detection, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, errors.New("oracle analyze: api key required")
	}
	file, err := c.uploadFile(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	file, err = c.awaitActive(ctx, file)
	if err != nil {
		return nil, err
	}
	return c.generateDetections(ctx, file)
}

type fileInfo struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
}

type uploadResponse struct {
	File fileInfo `json:"file"`
}

func (c *Client) uploadFile(ctx context.Context, videoPath string) (fileInfo, error) {
	var empty fileInfo
	file, err := os.Open(videoPath)
	if err != nil {
		return empty, fmt.Errorf("oracle upload: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return empty, fmt.Errorf("oracle upload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/upload/v1beta/files?key=%s", c.cfg.BaseURL, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, file)
	if err != nil {
		return empty, fmt.Errorf("oracle upload: new request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", videoMimeType)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")
	req.Header.Set("X-Goog-File-Name", filepath.Base(videoPath))

	var decoded uploadResponse
	if err := c.doJSON(req, &decoded); err != nil {
		return empty, fmt.Errorf("oracle upload: %w", err)
	}
	if decoded.File.Name == "" {
		return empty, errors.New("oracle upload: response missing file name")
	}
	return decoded.File, nil
}

func (c *Client) awaitActive(ctx context.Context, file fileInfo) (fileInfo, error) {
	for attempt := 0; strings.EqualFold(file.State, "PROCESSING"); attempt++ {
		if attempt >= c.maxPollAttempts {
			return file, fmt.Errorf("oracle file %s still processing after %d checks", file.Name, c.maxPollAttempts)
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return file, err
		}
		endpoint := fmt.Sprintf("%s/v1beta/%s?key=%s", c.cfg.BaseURL, file.Name, c.cfg.APIKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return file, fmt.Errorf("oracle file poll: new request: %w", err)
		}
		var refreshed fileInfo
		if err := c.doJSON(req, &refreshed); err != nil {
			return file, fmt.Errorf("oracle file poll: %w", err)
		}
		if refreshed.URI == "" {
			refreshed.URI = file.URI
		}
		file = refreshed
	}
	if !strings.EqualFold(file.State, "ACTIVE") {
		return file, fmt.Errorf("oracle file %s unusable: state %s", file.Name, file.State)
	}
	return file, nil
}

type generateRequest struct {
	Contents         []content      `json:"contents"`
	GenerationConfig generateConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"file_data,omitempty"`
}

type fileData struct {
	FileURI  string `json:"file_uri"`
	MimeType string `json:"mime_type"`
}

type generateConfig struct {
	ResponseMimeType string          `json:"response_mime_type"`
	ResponseSchema   json.RawMessage `json:"response_schema"`
}

// detectionSchema constrains the model output to the detection list shape.
var detectionSchema = json.RawMessage(`{
	"type": "ARRAY",
	"items": {
		"type": "OBJECT",
		"properties": {
			"name": {"type": "STRING"},
			"price": {"type": "STRING", "nullable": true},
			"time_min": {"type": "INTEGER"},
			"time_sec": {"type": "INTEGER"},
			"time_ms": {"type": "INTEGER"}
		},
		"required": ["name", "time_min", "time_sec", "time_ms"]
	}
}`)

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) generateDetections(ctx context.Context, file fileInfo) ([]Detection, error) {
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = videoMimeType
	}
	payload := generateRequest{
		Contents: []content{{
			Parts: []part{
				{FileData: &fileData{FileURI: file.URI, MimeType: mimeType}},
				{Text: productPrompt},
			},
		}},
		GenerationConfig: generateConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   detectionSchema,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("oracle generate: encode body: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("oracle generate: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var decoded generateResponse
	if err := c.doJSON(req, &decoded); err != nil {
		return nil, fmt.Errorf("oracle generate: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("oracle generate: api error: %s", strings.TrimSpace(decoded.Error.Message))
	}
	text := ""
	for _, candidate := range decoded.Candidates {
		for _, p := range candidate.Content.Parts {
			if trimmed := strings.TrimSpace(p.Text); trimmed != "" {
				text = trimmed
				break
			}
		}
		if text != "" {
			break
		}
	}
	if text == "" {
		return nil, errors.New("oracle generate: empty candidates")
	}
	var detections []Detection
	if err := DecodeOracleJSON(text, &detections); err != nil {
		return nil, fmt.Errorf("oracle generate: parse payload: %w", err)
	}
	return detections, nil
}

func (c *Client) doJSON(req *http.Request, target any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("http %d: %s", resp.StatusCode, summarizePayloadSnippet(string(body)))
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
