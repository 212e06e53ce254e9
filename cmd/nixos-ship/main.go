// Command nixos-ship packages NixOS configuration closures into shipfiles
// and imports them on a receiving machine.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/tpwrules/nixos-ship/internal/config"
	"github.com/tpwrules/nixos-ship/internal/xlog"
	"github.com/tpwrules/nixos-ship/pkg/narinfo"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
	"github.com/tpwrules/nixos-ship/pkg/planner"
	"github.com/tpwrules/nixos-ship/pkg/shipfile"
	"github.com/tpwrules/nixos-ship/pkg/storeclient"
	"github.com/tpwrules/nixos-ship/pkg/workdir"
)

// Globals are flags shared by every subcommand.
type Globals struct {
	StoreTool string `help:"store tool to run in --serve --write mode" default:""`
	Verbose   bool   `help:"enable debug logging" short:"v"`
}

// CLI is the top-level kong command tree. Business logic for resolving a
// revision-ish argument, invoking the Nix evaluator, or building a flake
// attribute lives outside this binary (§6 External Interfaces); those
// operations are represented here only as the StorePath/name pairs their
// output would produce.
type CLI struct {
	Globals

	Create CreateCmd `cmd:"" help:"build a shipfile from a set of configurations"`
	Import ImportCmd `cmd:"" help:"import a shipfile into the local store"`
}

// CreateCmd writes a shipfile for one or more named configurations.
//
// A full CLI driven by a flake evaluator would resolve --config from
// "nixosConfigurations.<name>.config.system.build.toplevel"; that resolution
// is an external collaborator (§6), so this command instead takes the
// already-built name=StorePath pairs directly.
type CreateCmd struct {
	Dest        string   `arg:"" help:"destination shipfile path"`
	Config      []string `help:"name=storePath pair, repeatable" required:""`
	Baseline    []string `help:"name=storePath pair the recipient is assumed to already have, repeatable"`
	Compression string   `help:"compression level" enum:"fast,normal,ultra" default:"normal"`
	SplitSize   int64    `help:"split output into parts of this many bytes (0 disables splitting)" default:"0"`
}

func parseNamedPaths(pairs []string) (map[string]nixpath.StorePath, error) {
	out := make(map[string]nixpath.StorePath, len(pairs))

	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%q is not of the form name=storePath", pair)
		}

		p, err := nixpath.Parse(raw)
		if err != nil {
			return nil, err
		}

		out[name] = p
	}

	return out, nil
}

func parseCompression(s string) shipfile.Compression {
	switch s {
	case "fast":
		return shipfile.CompressionFast
	case "ultra":
		return shipfile.CompressionUltra
	default:
		return shipfile.CompressionNormal
	}
}

func (cmd *CreateCmd) Run(g *Globals) error {
	log := xlog.New(os.Stderr, logLevel(g.Verbose))

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	storeTool := g.StoreTool
	if storeTool == "" {
		storeTool = cfg.StoreTool
	}

	configs, err := parseNamedPaths(cmd.Config)
	if err != nil {
		return fmt.Errorf("--config: %w", err)
	}

	baseline, err := parseNamedPaths(cmd.Baseline)
	if err != nil {
		return fmt.Errorf("--baseline: %w", err)
	}

	wd, err := workdir.New(cfg.WorkdirRoot, false, nil)
	if err != nil {
		return err
	}
	defer wd.Close()

	ctx := context.Background()

	client, err := storeclient.Connect(ctx, storeTool)
	if err != nil {
		return err
	}
	defer client.Close()

	shipment, err := planner.Plan(client, configs, baseline)
	if err != nil {
		return err
	}

	shipped := 0

	for _, ok := range shipment.InFile {
		if ok {
			shipped++
		}
	}

	xlog.PlanSummary(log, len(shipment.PathInfos), shipped)

	w, err := shipfile.NewWriter(cmd.Dest, parseCompression(cmd.Compression), cmd.SplitSize)
	if err != nil {
		return err
	}

	if err := w.WriteVersionInfo(nil, nil); err != nil {
		return err
	}

	configInfo := make(narinfo.ConfigInfo, len(configs))
	for name, p := range configs {
		configInfo[name] = p
	}

	if err := w.WriteConfigInfo(configInfo); err != nil {
		return err
	}

	cacheInfo := narinfo.NewCacheInfo(nixpath.StoreDir)
	if err := w.WriteCacheInfo(cacheInfo); err != nil {
		return err
	}

	for _, info := range shipment.PathInfos {
		inFile := shipment.InFile[info.Path]

		if err := w.WritePathInfo(info, inFile); err != nil {
			return err
		}

		if !inFile {
			continue
		}

		digest, err := narinfo.NarHashBase32(info.NarHash)
		if err != nil {
			return err
		}

		if err := streamNar(client, w, digest, info); err != nil {
			return err
		}
	}

	return w.Close()
}

// streamNar bridges the Store Client's push-style dump and the Writer's
// pull-style NAR entry through an io.Pipe, the same pattern used on the
// receive side between the Shipfile Reader and AddToStoreNar.
func streamNar(client *storeclient.Client, w *shipfile.Writer, digest string, info narinfo.PathInfo) error {
	pr, pw := io.Pipe()

	dumpErr := make(chan error, 1)

	go func() {
		err := client.DumpStorePath(info.Path, info.NarSize, pw)
		pw.CloseWithError(err)
		dumpErr <- err
	}()

	if err := w.WriteNar(digest, info.NarSize, pr); err != nil {
		pr.CloseWithError(err)
		<-dumpErr

		return err
	}

	return <-dumpErr
}

// ImportCmd imports a shipfile into the local store: it computes the minimal
// set of NARs the named configuration (this machine's hostname unless --name
// is given) still needs and streams them in.
type ImportCmd struct {
	Src    string `arg:"" help:"shipfile path to import"`
	Name   string `help:"configuration name to import (defaults to this machine's hostname)"`
	Root   string `help:"root of the store to import into" default:""`
	DryRun bool   `help:"compute and print the needed-paths plan without importing"`
}

func (cmd *ImportCmd) Run(g *Globals) error {
	log := xlog.New(os.Stderr, logLevel(g.Verbose))

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	storeTool := g.StoreTool
	if storeTool == "" {
		storeTool = cfg.StoreTool
	}

	name := cmd.Name
	if name == "" {
		name, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("resolving default configuration name: %w", err)
		}
	}

	wd, err := workdir.New(cfg.WorkdirRoot, false, nil)
	if err != nil {
		return err
	}
	defer wd.Close()

	warn := func(format string, args ...any) { log.Warn(fmt.Sprintf(format, args...)) }

	reader, err := shipfile.Open(cmd.Src, warn)
	if err != nil {
		return err
	}
	defer reader.Close()

	target, ok := reader.ConfigInfo()[name]
	if !ok {
		return fmt.Errorf("configuration %q not present in %s", name, cmd.Src)
	}

	pathInfos := make([]narinfo.PathInfo, len(reader.PathInfos()))
	inFile := make(map[nixpath.StorePath]bool, len(reader.PathInfos()))

	for i, entry := range reader.PathInfos() {
		pathInfos[i] = entry.Info
		inFile[entry.Info.Path] = entry.InFile
	}

	ctx := context.Background()

	client, err := storeclient.Connect(ctx, storeTool, storeRootArgs(cmd.Root)...)
	if err != nil {
		return err
	}
	defer client.Close()

	plan, err := planner.ComputeNeeded(client, target, pathInfos, inFile)
	if err != nil {
		return err
	}

	xlog.NeededSummary(log, len(plan.Closure), len(plan.Needed))

	return planner.Import(reader, client, pathInfos, inFile, plan, cmd.DryRun)
}

func storeRootArgs(root string) []string {
	if root == "" {
		return nil
	}

	return []string{"--store", root}
}

func logLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}

	return slog.LevelInfo
}

func main() {
	cli := CLI{}

	ctx := kong.Parse(&cli,
		kong.Name("nixos-ship"),
		kong.Description("Package and transfer NixOS configuration closures"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
