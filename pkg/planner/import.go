package planner

import (
	"fmt"
	"io"

	"github.com/tpwrules/nixos-ship/pkg/narinfo"
	"github.com/tpwrules/nixos-ship/pkg/nixpath"
)

// NarSource hands a named NAR payload's bytes to sink, in archive order.
// *shipfile.Reader implements this.
type NarSource interface {
	ConsumeNar(narHashDigest string, sink io.Writer) error
}

// Importer ingests a single object into the local store. *storeclient.Client
// implements this.
type Importer interface {
	AddToStoreNar(info narinfo.PathInfo, source io.Reader) error
}

// Import runs §4.5 receive-side step 5: for every PathInfo in archive
// order, a NAR with in_file=false is skipped entirely (nothing was emitted
// for it), one with in_file=true but not in plan.Needed is still consumed
// to advance the stream, and one both in_file=true and needed is streamed
// straight into the store. When dryRun is set, the plan has already been
// computed (including the locking queryValidPaths call) but this loop does
// not run at all.
func Import(src NarSource, dst Importer, pathInfos []narinfo.PathInfo, inFile map[nixpath.StorePath]bool, plan *NeededPlan, dryRun bool) error {
	if dryRun {
		return nil
	}

	for _, info := range pathInfos {
		if !inFile[info.Path] {
			continue
		}

		digest, err := narinfo.NarHashBase32(info.NarHash)
		if err != nil {
			return fmt.Errorf("planner: %s: %w", info.Path, err)
		}

		if !plan.Needed[info.Path] {
			if err := src.ConsumeNar(digest, io.Discard); err != nil {
				return fmt.Errorf("planner: discarding unneeded nar for %s: %w", info.Path, err)
			}

			continue
		}

		if err := streamInto(src, dst, digest, info); err != nil {
			return err
		}
	}

	return nil
}

// streamInto bridges the Reader's push-style ConsumeNar and the Store
// Client's pull-style AddToStoreNar through an io.Pipe, the same pattern
// the store daemon client uses to hand a self-delimiting NAR stream to its
// caller without buffering it in memory.
func streamInto(src NarSource, dst Importer, digest string, info narinfo.PathInfo) error {
	pr, pw := io.Pipe()

	consumeErr := make(chan error, 1)

	go func() {
		err := src.ConsumeNar(digest, pw)
		pw.CloseWithError(err)
		consumeErr <- err
	}()

	if err := dst.AddToStoreNar(info, pr); err != nil {
		pr.CloseWithError(err)
		<-consumeErr

		return fmt.Errorf("planner: importing %s: %w", info.Path, err)
	}

	if err := <-consumeErr; err != nil {
		return fmt.Errorf("planner: streaming nar for %s: %w", info.Path, err)
	}

	return nil
}
