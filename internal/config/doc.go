// Package config loads, normalizes, and validates renderq configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob the
// daemon and CLI need: where task records live, which Blender binary renders
// them, how the LAN server listens, and how logs are shaped.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
