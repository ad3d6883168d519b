package main

import (
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"shopscan/internal/config"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		// A .env beside the working directory may carry the oracle key.
		_ = godotenv.Load()

		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if cfg.Oracle.APIKey == "" {
			cfg.Oracle.APIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiBase resolves the backend base URL for client commands.
func (c *commandContext) apiBase() string {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return normalizeBase(*c.apiFlag)
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return normalizeBase(cfg.API.Bind)
	}
	return "http://127.0.0.1:8180"
}

func normalizeBase(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimSuffix(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
