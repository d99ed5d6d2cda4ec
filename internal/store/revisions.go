package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aveline/canonry/internal/domain/entity"
	"github.com/aveline/canonry/internal/platform/errors"
	"github.com/aveline/canonry/internal/platform/fsatomic"
)

// Revision preserves an entity's document as it was at one revision number,
// plus the metadata of the change that superseded it. Revisions are
// append-only per entity and never overwritten.
type Revision struct {
	EntityID      string        `json:"entity_id"`
	Revision      uint64        `json:"revision"`
	Document      entity.Entity `json:"document"`
	ChangeSummary string        `json:"change_summary,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	DecisionID    string        `json:"decision_id,omitempty"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// WriteRevision persists a snapshot. Overwriting an existing snapshot is a
// corruption guard failure, not a normal outcome.
func (s *Store) WriteRevision(rev Revision) error {
	if strings.TrimSpace(rev.EntityID) == "" {
		return fmt.Errorf("revision entity id is required")
	}
	if rev.Revision == 0 {
		return fmt.Errorf("revision number is required")
	}
	dir := filepath.Join(s.revisionsDir, rev.EntityID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "create revisions dir", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.json", rev.Revision))
	if _, err := os.Stat(path); err == nil {
		return errors.WithMetadata(errors.CodeCorruptionDetected,
			fmt.Sprintf("revision %d of %s already exists", rev.Revision, rev.EntityID),
			map[string]string{"entity_id": rev.EntityID})
	}
	raw, err := json.MarshalIndent(rev, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal revision: %w", err)
	}
	if err := fsatomic.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "write revision", err)
	}
	return nil
}

// Revisions returns an entity's snapshots ordered by revision number.
func (s *Store) Revisions(entityID string) ([]Revision, error) {
	dir := filepath.Join(s.revisionsDir, entityID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.CodeStorageIO, "read revisions dir", err)
	}

	var numbers []uint64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(entry.Name(), ".json"), 10, 64)
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	out := make([]Revision, 0, len(numbers))
	for _, n := range numbers {
		rev, err := s.Revision(entityID, n)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, nil
}

// Revision reads one snapshot.
func (s *Store) Revision(entityID string, number uint64) (Revision, error) {
	path := filepath.Join(s.revisionsDir, entityID, fmt.Sprintf("%d.json", number))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Revision{}, errors.WithMetadata(errors.CodeNotFound,
				fmt.Sprintf("revision %d of %s does not exist", number, entityID),
				map[string]string{"entity_id": entityID})
		}
		return Revision{}, errors.Wrap(errors.CodeStorageIO, "read revision", err)
	}
	var rev Revision
	if err := json.Unmarshal(raw, &rev); err != nil {
		return Revision{}, errors.WrapWithMetadata(errors.CodeCorruptionDetected,
			fmt.Sprintf("revision %d of %s is unreadable", number, entityID),
			map[string]string{"entity_id": entityID}, err)
	}
	return rev, nil
}
