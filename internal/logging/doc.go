// Package logging assembles structured slog loggers and formatting helpers used
// across renderq services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes standardized field keys so the executor, the LAN
// protocol, and the daemon tag log lines the same way. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup to ensure new
// components emit data with the same shape as the rest of the system.
package logging
