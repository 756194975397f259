package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateControl(); err != nil {
		return err
	}
	if err := c.validateScripts(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.SessionRoot) == "" {
		return errors.New("paths.session_root must be set")
	}
	if strings.TrimSpace(c.Paths.RegistryPath) == "" {
		return errors.New("paths.registry_path must be set")
	}
	return nil
}

func (c *Config) validateControl() error {
	if c.Control.AnnounceTimeoutMS < 0 {
		return fmt.Errorf("control.announce_timeout_ms must be positive, got %d", c.Control.AnnounceTimeoutMS)
	}
	if c.Control.TickIntervalMS < 0 {
		return fmt.Errorf("control.tick_interval_ms must be positive, got %d", c.Control.TickIntervalMS)
	}
	return nil
}

func (c *Config) validateScripts() error {
	if strings.ContainsAny(c.Scripts.DirName, `/\`) {
		return fmt.Errorf("scripts.dir_name must be a plain folder name, got %q", c.Scripts.DirName)
	}
	if c.Scripts.StepReleaseTimeoutMS < 0 {
		return errors.New("scripts.step_release_timeout_ms must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
