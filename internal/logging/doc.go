// Package logging configures the slog logger used by the rehydrate CLI.
// Records are JSON, written to a size-rotated file under ~/.rehydrate/logs/
// and optionally mirrored to stderr.
package logging
