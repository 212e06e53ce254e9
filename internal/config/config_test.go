package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tpwrules/nixos-ship/internal/config"
)

func TestLoadSetsDefaultStoreTool(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.DefaultStoreTool, cfg.StoreTool)
	assert.NotEmpty(t, cfg.WorkdirRoot)
}
