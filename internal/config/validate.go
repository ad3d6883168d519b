package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateReconstruction(); err != nil {
		return err
	}
	if err := c.validateFrames(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.MediaDir == "" {
		return errors.New("paths.media_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateReconstruction() error {
	if c.Reconstruction.Endpoint == "" {
		return errors.New("reconstruction.endpoint must be set")
	}
	return nil
}

func (c *Config) validateFrames() error {
	if c.Frames.StepMS > c.Frames.SearchRangeMS {
		return fmt.Errorf("frames.step_ms (%d) must not exceed frames.search_range_ms (%d)", c.Frames.StepMS, c.Frames.SearchRangeMS)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
