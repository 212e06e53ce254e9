package shipfile

import (
	"fmt"
	"os"
)

// splitWriter routes writes across "<dest>", "<dest>.1", "<dest>.2", ...,
// each exactly splitSize bytes except the last. Splits are byte-exact with
// no framing between parts.
type splitWriter struct {
	dest      string
	splitSize int64

	partIndex   int
	cur         *os.File
	curWritten  int64
	numSplits   bool
}

func newSplitWriter(dest string, splitSize int64) (*splitWriter, error) {
	sw := &splitWriter{dest: dest, splitSize: splitSize, numSplits: splitSize > 0}

	if err := sw.openNextPart(); err != nil {
		return nil, err
	}

	return sw, nil
}

func (sw *splitWriter) partPath(index int) string {
	if index == 0 {
		return sw.dest
	}

	return fmt.Sprintf("%s.%d", sw.dest, index)
}

func (sw *splitWriter) openNextPart() error {
	f, err := os.Create(sw.partPath(sw.partIndex))
	if err != nil {
		return fmt.Errorf("shipfile: creating part %s: %w", sw.partPath(sw.partIndex), err)
	}

	sw.cur = f
	sw.curWritten = 0

	return nil
}

// Write implements io.Writer, rolling to a new part exactly at splitSize
// byte boundaries when splitting is enabled.
func (sw *splitWriter) Write(p []byte) (int, error) {
	if !sw.numSplits {
		return sw.cur.Write(p)
	}

	total := 0

	for len(p) > 0 {
		remaining := sw.splitSize - sw.curWritten
		if remaining == 0 {
			if err := sw.cur.Close(); err != nil {
				return total, fmt.Errorf("shipfile: closing part %s: %w", sw.partPath(sw.partIndex), err)
			}

			sw.partIndex++

			if err := sw.openNextPart(); err != nil {
				return total, err
			}

			remaining = sw.splitSize
		}

		chunk := p
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		n, err := sw.cur.Write(chunk)
		sw.curWritten += int64(n)
		total += n
		p = p[n:]

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// Close closes the currently open part. It returns whether more than one
// part was written. FeatureSimpleSplit does not depend on this result: the
// Writer sets it from splitSize alone, before any part is written.
func (sw *splitWriter) Close() (multiPart bool, err error) {
	if closeErr := sw.cur.Close(); closeErr != nil {
		return false, fmt.Errorf("shipfile: closing part %s: %w", sw.partPath(sw.partIndex), closeErr)
	}

	return sw.partIndex > 0, nil
}
