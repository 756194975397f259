package main

import (
	"log/slog"
	"strings"
	"sync"

	"raysession/internal/config"
	"raysession/internal/logging"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		if exists {
			c.configPath = resolved
		}
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *slog.Logger {
	return logging.NewCLI(c.verbose != nil && *c.verbose)
}
