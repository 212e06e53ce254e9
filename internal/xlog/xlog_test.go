package xlog_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tpwrules/nixos-ship/internal/xlog"
)

func TestPlanSummaryWritesCounts(t *testing.T) {
	var buf bytes.Buffer

	log := xlog.New(&buf, slog.LevelInfo)
	xlog.PlanSummary(log, 10, 3)

	out := buf.String()
	assert.Contains(t, out, "plan computed")
	assert.Contains(t, out, "objects=10")
	assert.Contains(t, out, "shipped=3")
}

func TestMissingPathsLogsEachPath(t *testing.T) {
	var buf bytes.Buffer

	log := xlog.New(&buf, slog.LevelInfo)
	xlog.MissingPaths(log, []string{"/nix/store/a-x", "/nix/store/b-y"})

	out := buf.String()
	assert.Contains(t, out, "/nix/store/a-x")
	assert.Contains(t, out, "/nix/store/b-y")
}
