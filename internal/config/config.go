package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration shared by both daemons.
type Paths struct {
	MediaDir string `toml:"media_dir"`
	LogDir   string `toml:"log_dir"`
}

// API contains the backend HTTP surface configuration.
type API struct {
	Bind string `toml:"bind"`
}

// Reconstruction configures the client side of the reconstruction service
// protocol.
type Reconstruction struct {
	Endpoint            string `toml:"endpoint"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	// MaxPollAttempts bounds the /search polling loop. Zero keeps polling
	// until the service answers, matching the historical behavior.
	MaxPollAttempts int `toml:"max_poll_attempts"`
	UploadTimeout   int `toml:"upload_timeout_seconds"`
}

// Oracle configures the external vision model used for product detection.
type Oracle struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Frames configures the sharpest-frame search around each detection.
type Frames struct {
	SearchRangeMS int    `toml:"search_range_ms"`
	StepMS        int    `toml:"step_ms"`
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Worker configures the reconstruction service: where uploads and results
// live and which external programs the queue worker runs.
type Worker struct {
	Bind            string   `toml:"bind"`
	UploadDir       string   `toml:"upload_dir"`
	ResultDir       string   `toml:"result_dir"`
	ReconstructArgs []string `toml:"reconstruct_command"`
	OptimizeArgs    []string `toml:"optimize_command"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for shopscan.
//
// Sections by subsystem:
//   - Paths: media root and log directory
//   - API: backend bind address
//   - Reconstruction: reconstruction-service endpoint and polling policy
//   - Oracle: vision model connection settings for product detection
//   - Frames: sharpest-frame search window and ffmpeg binaries
//   - Worker: reconstruction-service dirs and external program commands
//   - Logging: log format and level
type Config struct {
	Paths          Paths          `toml:"paths"`
	API            API            `toml:"api"`
	Reconstruction Reconstruction `toml:"reconstruction"`
	Oracle         Oracle         `toml:"oracle"`
	Frames         Frames         `toml:"frames"`
	Worker         Worker         `toml:"worker"`
	Logging        Logging        `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/shopscan/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shopscan.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories both daemons rely on.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.MediaDir, c.Paths.LogDir, c.Worker.UploadDir, c.Worker.ResultDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
