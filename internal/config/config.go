// Package config resolves the handful of host-environment defaults the CLI
// needs before it can construct a Workdir or dial a store subprocess:
// primarily where scratch space should live when the caller does not name a
// directory explicitly.
package config

import (
	"fmt"

	"github.com/adrg/xdg"
)

// DefaultStoreTool is the executable invoked in "--serve --write" mode when
// no alternate store tool is configured.
const DefaultStoreTool = "nix-store"

// Config holds the resolved defaults for one invocation of the CLI.
type Config struct {
	// WorkdirRoot is the parent directory new scoped Workdirs are created
	// under. Empty means "let the OS pick" (os.MkdirTemp's default).
	WorkdirRoot string

	// StoreTool is the executable used for Connect in pkg/storeclient.
	StoreTool string
}

// Load resolves defaults from the XDG base directory spec via
// github.com/adrg/xdg: WorkdirRoot becomes the "nixos-ship/workdirs"
// subdirectory of the user's XDG cache home. StoreTool defaults to DefaultStoreTool.
func Load() (*Config, error) {
	root, err := xdg.CacheFile("nixos-ship/workdirs/.keep")
	if err != nil {
		return nil, fmt.Errorf("config: resolving xdg cache directory: %w", err)
	}

	// xdg.CacheFile creates every directory component of its argument
	// except the final path element itself, so trim ".keep" back off to
	// get the directory we actually want.
	root = root[:len(root)-len("/.keep")]

	return &Config{
		WorkdirRoot: root,
		StoreTool:   DefaultStoreTool,
	}, nil
}
