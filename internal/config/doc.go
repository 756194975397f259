// Package config loads, normalizes, and validates raysession configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RAY_SESSION_ROOT. The Config type centralizes every knob the daemon and the
// control client need: where sessions and templates live, where the shared
// daemon registry sits, and how long a client waits for a daemon to announce.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
