package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aveline/canonry/internal/domain/event"
	"github.com/aveline/canonry/internal/platform/errors"
)

// maxRecordBytes bounds a single ledger record during replay.
const maxRecordBytes = 8 << 20

// Replay returns a lazy, ordered, restartable iterator over every event with
// a sequence number greater than since. Pass 0 to replay from the start.
func (l *Ledger) Replay(since uint64) *Iterator {
	segments, err := l.segments()
	return &Iterator{
		segments: segments,
		since:    since,
		err:      err,
	}
}

// Iterator walks ledger records segment by segment. Usage mirrors
// bufio.Scanner: Next advances, Event returns the current record, Err reports
// the terminal error once Next returns false.
type Iterator struct {
	segments []string
	since    uint64

	file    *os.File
	scanner *bufio.Scanner
	current event.Event
	lastSeq uint64
	err     error
	done    bool
}

// Next advances to the next record, returning false at the end of the ledger
// or on error.
func (it *Iterator) Next() bool {
	if it == nil || it.done || it.err != nil {
		return false
	}
	for {
		if it.scanner == nil {
			if !it.openNextSegment() {
				return false
			}
		}
		if !it.scanner.Scan() {
			if err := it.scanner.Err(); err != nil {
				it.fail(errors.Wrap(errors.CodeStorageIO, "scan ledger segment", err))
				return false
			}
			it.closeSegment()
			continue
		}
		line := it.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt event.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			it.fail(errors.WrapWithMetadata(errors.CodeLedgerTruncated,
				"ledger record is unreadable",
				map[string]string{"segment": filepath.Base(it.file.Name())}, err))
			return false
		}
		if evt.Seq <= it.lastSeq {
			it.fail(errors.WithMetadata(errors.CodeLedgerSeqRegression,
				fmt.Sprintf("ledger sequence went backwards at %d", evt.Seq),
				map[string]string{"segment": filepath.Base(it.file.Name())}))
			return false
		}
		it.lastSeq = evt.Seq
		if evt.Seq <= it.since {
			continue
		}
		it.current = evt
		return true
	}
}

// Event returns the current record.
func (it *Iterator) Event() event.Event {
	return it.current
}

// Err returns the terminal error, nil at a clean end of ledger.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator's open segment early. Iterators exhausted via
// Next close themselves.
func (it *Iterator) Close() {
	if it == nil {
		return
	}
	it.closeSegment()
	it.done = true
}

func (it *Iterator) openNextSegment() bool {
	if len(it.segments) == 0 {
		it.done = true
		return false
	}
	path := it.segments[0]
	it.segments = it.segments[1:]
	f, err := os.Open(path)
	if err != nil {
		it.fail(errors.Wrap(errors.CodeStorageIO, "open ledger segment", err))
		return false
	}
	it.file = f
	it.scanner = bufio.NewScanner(f)
	it.scanner.Buffer(make([]byte, 64<<10), maxRecordBytes)
	return true
}

func (it *Iterator) closeSegment() {
	if it.file != nil {
		_ = it.file.Close()
		it.file = nil
	}
	it.scanner = nil
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.closeSegment()
	it.done = true
}
