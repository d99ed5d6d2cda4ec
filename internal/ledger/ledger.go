// Package ledger implements the append-only event log: the sole source of
// truth for reconstructing all derived state.
//
// Physical layout: one JSONL segment per calendar month under the ledger
// directory, one immutable record per line. A writer only ever appends;
// records are never rewritten in place. Concurrent appends, including from
// separate short-lived processes, are ordered by an advisory file lock.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aveline/canonry/internal/domain/event"
	"github.com/aveline/canonry/internal/platform/errors"
)

const (
	segmentPrefix = "events-"
	segmentSuffix = ".jsonl"
	lockFileName  = "ledger.lock"
)

// Ledger appends and replays immutable events.
type Ledger struct {
	dir      string
	registry *event.Registry
	clock    func() time.Time

	mu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the append timestamp source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// Open prepares the ledger directory and verifies the newest segment has no
// truncated trailing record. A truncated tail means a writer crashed mid-append
// and the store should be health-checked before further writes.
func Open(dir string, registry *event.Registry, opts ...Option) (*Ledger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("ledger dir is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("event registry is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.CodeStorageIO, "create ledger dir", err)
	}

	l := &Ledger{
		dir:      dir,
		registry: registry,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.VerifyTail(); err != nil {
		return nil, err
	}
	return l, nil
}

// Dir returns the ledger directory.
func (l *Ledger) Dir() string {
	return l.dir
}

// Append atomically appends an event, assigning its sequence number, ID, and
// timestamp. The advisory file lock is held for the duration of the sequence
// scan plus the write so two writers can never interleave partial records.
func (l *Ledger) Append(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if l == nil {
		return event.Event{}, fmt.Errorf("ledger is not configured")
	}
	if err := l.registry.ValidateForAppend(evt); err != nil {
		return event.Event{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := l.acquireLock()
	if err != nil {
		return event.Event{}, err
	}
	defer lock.release()

	head, err := l.head()
	if err != nil {
		return event.Event{}, err
	}
	evt.Seq = head + 1

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = l.clock()
	}
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)

	line, err := json.Marshal(evt)
	if err != nil {
		return event.Event{}, fmt.Errorf("marshal event: %w", err)
	}

	segment := l.segmentPath(evt.Timestamp)
	f, err := os.OpenFile(segment, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return event.Event{}, errors.Wrap(errors.CodeStorageIO, "open ledger segment", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return event.Event{}, errors.Wrap(errors.CodeStorageIO, "append ledger record", err)
	}
	if err := f.Sync(); err != nil {
		return event.Event{}, errors.Wrap(errors.CodeStorageIO, "sync ledger segment", err)
	}

	return evt, nil
}

// Head returns the sequence number of the newest record, 0 when empty.
func (l *Ledger) Head() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head()
}

// VerifyTail checks the newest segment for a truncated trailing record.
func (l *Ledger) VerifyTail() error {
	segments, err := l.segments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	last := segments[len(segments)-1]
	if _, err := lastRecordSeq(last); err != nil {
		return err
	}
	return nil
}

type heldLock struct {
	f *os.File
}

func (h *heldLock) release() {
	if h == nil || h.f == nil {
		return
	}
	_ = unlockFile(h.f)
	_ = h.f.Close()
}

func (l *Ledger) acquireLock() (*heldLock, error) {
	path := filepath.Join(l.dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageIO, "open ledger lock", err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(errors.CodeLedgerLockHeld, "acquire ledger lock", err)
	}
	return &heldLock{f: f}, nil
}

func (l *Ledger) segmentPath(ts time.Time) string {
	name := fmt.Sprintf("%s%s%s", segmentPrefix, ts.UTC().Format("2006-01"), segmentSuffix)
	return filepath.Join(l.dir, name)
}

// segments returns segment paths in chronological (lexical) order.
func (l *Ledger) segments() ([]string, error) {
	return SegmentFiles(l.dir)
}

// SegmentFiles lists ledger segment paths under dir in chronological order.
func SegmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.CodeStorageIO, "read ledger dir", err)
	}
	var segments []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		segments = append(segments, filepath.Join(dir, name))
	}
	sort.Strings(segments)
	return segments, nil
}

// head derives the newest sequence number from the segment files. It must be
// called with the ledger mutex held; Append additionally holds the file lock
// so the value cannot go stale between the scan and the write.
func (l *Ledger) head() (uint64, error) {
	segments, err := l.segments()
	if err != nil {
		return 0, err
	}
	for i := len(segments) - 1; i >= 0; i-- {
		seq, err := lastRecordSeq(segments[i])
		if err != nil {
			return 0, err
		}
		if seq > 0 {
			return seq, nil
		}
	}
	return 0, nil
}

// lastRecordSeq reads the sequence number of the final record in a segment.
// It reports LEDGER_TRUNCATED when the file ends in a partial record.
func lastRecordSeq(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(errors.CodeStorageIO, "read ledger segment", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	if raw[len(raw)-1] != '\n' {
		return 0, errors.WithMetadata(errors.CodeLedgerTruncated,
			fmt.Sprintf("segment %s ends in a partial record", filepath.Base(path)),
			map[string]string{"segment": filepath.Base(path)})
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	last := lines[len(lines)-1]
	var evt event.Event
	if err := json.Unmarshal([]byte(last), &evt); err != nil {
		return 0, errors.WrapWithMetadata(errors.CodeLedgerTruncated,
			fmt.Sprintf("segment %s trailing record is unreadable", filepath.Base(path)),
			map[string]string{"segment": filepath.Base(path)}, err)
	}
	return evt.Seq, nil
}
