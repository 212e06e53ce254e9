// Package xlog is the structured-logging helper the CLI uses for
// progress messages (entries written, bytes streamed, missing paths). It
// keeps the shape of the store daemon client's typed log-message channel —
// a small set of named events rather than free-form Printf calls — but
// backs it with log/slog instead of a bespoke channel, since nothing in the
// retrieved pack carries a lighter structured logger for a CLI tool this
// size.
package xlog

import (
	"io"
	"log/slog"
)

// New returns a text-handler slog.Logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// PlanSummary logs the outcome of planner.Plan: how many objects are in the
// shipment and how many of them carry a NAR payload.
func PlanSummary(log *slog.Logger, total, shipped int) {
	log.Info("plan computed", "objects", total, "shipped", shipped)
}

// NeededSummary logs the outcome of planner.ComputeNeeded.
func NeededSummary(log *slog.Logger, closureSize, needed int) {
	log.Info("needed paths computed", "closure", closureSize, "needed", needed)
}

// MissingPaths logs every path a PlanError collected, one event per path,
// matching §7's "collected, not first-stop" propagation policy.
func MissingPaths(log *slog.Logger, paths []string) {
	for _, p := range paths {
		log.Error("missing path", "path", p)
	}
}

// Imported logs a single successful import.
func Imported(log *slog.Logger, path string) {
	log.Info("imported", "path", path)
}
