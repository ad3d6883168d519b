// Package logging assembles structured slog loggers and formatting helpers
// used across shopscan components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes typed attribute helpers so component code tags log
// lines with job IDs, post IDs, and stages consistently. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
