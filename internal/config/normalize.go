package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeReconstruction()
	c.normalizeOracle()
	c.normalizeFrames()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.MediaDir, err = expandPath(c.Paths.MediaDir); err != nil {
		return fmt.Errorf("paths.media_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Worker.UploadDir, err = expandPath(c.Worker.UploadDir); err != nil {
		return fmt.Errorf("worker.upload_dir: %w", err)
	}
	if c.Worker.ResultDir, err = expandPath(c.Worker.ResultDir); err != nil {
		return fmt.Errorf("worker.result_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeReconstruction() {
	c.Reconstruction.Endpoint = strings.TrimRight(strings.TrimSpace(c.Reconstruction.Endpoint), "/")
	if c.Reconstruction.PollIntervalSeconds <= 0 {
		c.Reconstruction.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Reconstruction.UploadTimeout <= 0 {
		c.Reconstruction.UploadTimeout = defaultUploadTimeout
	}
	if c.Reconstruction.MaxPollAttempts < 0 {
		c.Reconstruction.MaxPollAttempts = 0
	}
}

func (c *Config) normalizeOracle() {
	if key, ok := os.LookupEnv("GEMINI_API_KEY"); ok && strings.TrimSpace(c.Oracle.APIKey) == "" {
		c.Oracle.APIKey = key
	}
	c.Oracle.APIKey = strings.TrimSpace(c.Oracle.APIKey)
	c.Oracle.BaseURL = strings.TrimRight(strings.TrimSpace(c.Oracle.BaseURL), "/")
	if c.Oracle.BaseURL == "" {
		c.Oracle.BaseURL = defaultOracleBaseURL
	}
	if strings.TrimSpace(c.Oracle.Model) == "" {
		c.Oracle.Model = defaultOracleModel
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		c.Oracle.TimeoutSeconds = defaultOracleTimeout
	}
}

func (c *Config) normalizeFrames() {
	if c.Frames.SearchRangeMS <= 0 {
		c.Frames.SearchRangeMS = defaultSearchRangeMS
	}
	if c.Frames.StepMS <= 0 {
		c.Frames.StepMS = defaultStepMS
	}
	if strings.TrimSpace(c.Frames.FFmpegBinary) == "" {
		c.Frames.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(c.Frames.FFprobeBinary) == "" {
		c.Frames.FFprobeBinary = "ffprobe"
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
