// Package logging assembles the structured slog loggers used across bidskit
// commands and orchestrators.
//
// It owns the console/JSON handler selection, level parsing, and the per-step
// file fanout so every pipeline step leaves a debug-level log under the
// session's log directory. Prefer these constructors over hand-rolled slog
// setup so all components emit data with the same shape.
package logging
