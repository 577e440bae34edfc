package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// MaxRecordSize is the longest line Lines accepts.
const MaxRecordSize = 64 << 20

// RecordFunc receives one record. line is 1-based. Returning an error stops the scan.
// record is only valid during the call.
type RecordFunc func(line int, record []byte) error

// Lines calls fn for every non-blank line of r. ctx is checked between lines.
func Lines(ctx context.Context, r io.Reader, fn RecordFunc) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), MaxRecordSize)

	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := bytes.TrimSpace(sc.Bytes())
		if len(rec) == 0 {
			continue
		}
		if err := fn(line, rec); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read line %d: %w", line+1, err)
	}
	return nil
}
