// Package store owns the canonical entity documents: one human-inspectable
// JSON file per entity, written atomically, with append-only revision
// snapshots and optimistic concurrency on revision numbers.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aveline/canonry/internal/domain/entity"
	"github.com/aveline/canonry/internal/platform/errors"
	"github.com/aveline/canonry/internal/platform/fsatomic"
)

const (
	entitiesDirName  = "entities"
	revisionsDirName = "revisions"
)

// Store provides durable storage for entity documents.
type Store struct {
	entitiesDir  string
	revisionsDir string
	templates    map[string]entity.Template
	extractors   *entity.ExtractorRegistry
	clock        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the document timestamp source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Open prepares the store directories under dataDir.
func Open(dataDir string, templates map[string]entity.Template, extractors *entity.ExtractorRegistry, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("at least one template is required")
	}
	if extractors == nil {
		extractors = entity.NewExtractorRegistry()
	}

	s := &Store{
		entitiesDir:  filepath.Join(dataDir, entitiesDirName),
		revisionsDir: filepath.Join(dataDir, revisionsDirName),
		templates:    templates,
		extractors:   extractors,
		clock:        func() time.Time { return time.Now().UTC() },
		locks:        make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{s.entitiesDir, s.revisionsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.CodeStorageIO, "create store dir", err)
		}
	}
	return s, nil
}

// now returns the document timestamp: UTC, millisecond precision, so the
// JSON wire form round-trips exactly.
func (s *Store) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

// Template resolves a template by ID.
func (s *Store) Template(templateID string) (entity.Template, bool) {
	tmpl, ok := s.templates[templateID]
	return tmpl, ok
}

// Templates returns the loaded template set.
func (s *Store) Templates() map[string]entity.Template {
	return s.templates
}

// LockEntity serializes writers of one entity without blocking other
// entities' operations. The returned func releases the lock.
func (s *Store) LockEntity(id string) func() {
	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Exists reports whether an entity document is present.
func (s *Store) Exists(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	_, err := os.Stat(s.documentPath(id))
	return err == nil
}

// Get reads one entity document.
func (s *Store) Get(id string) (entity.Entity, error) {
	if strings.TrimSpace(id) == "" {
		return entity.Entity{}, fmt.Errorf("entity id is required")
	}
	raw, err := os.ReadFile(s.documentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return entity.Entity{}, errors.WithMetadata(errors.CodeNotFound,
				fmt.Sprintf("entity %s does not exist", id),
				map[string]string{"entity_id": id})
		}
		return entity.Entity{}, errors.Wrap(errors.CodeStorageIO, "read entity document", err)
	}
	var doc entity.Entity
	if err := json.Unmarshal(raw, &doc); err != nil {
		return entity.Entity{}, errors.WrapWithMetadata(errors.CodeCorruptionDetected,
			fmt.Sprintf("entity document %s is unreadable", id),
			map[string]string{"entity_id": id}, err)
	}
	return doc, nil
}

// List returns all entities, optionally filtered by entity type, ordered by ID.
func (s *Store) List(entityType string) ([]entity.Entity, error) {
	entries, err := os.ReadDir(s.entitiesDir)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageIO, "read entities dir", err)
	}
	var out []entity.Entity
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		doc, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		if entityType != "" && doc.Type != entityType {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IDs returns every stored entity ID, ordered.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.entitiesDir)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageIO, "read entities dir", err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Put atomically writes a document into place. Callers must have appended the
// corresponding ledger event first.
func (s *Store) Put(doc entity.Entity) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("entity id is required")
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entity document: %w", err)
	}
	if err := fsatomic.WriteFile(s.documentPath(doc.ID), append(raw, '\n'), 0o644); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "write entity document", err)
	}
	return nil
}

// Validate checks a stored document against its template's structural contract.
func (s *Store) Validate(id string) ([]entity.FieldError, error) {
	doc, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	tmpl, ok := s.templates[doc.TemplateID]
	if !ok {
		return []entity.FieldError{{
			Field:   "template_id",
			Message: fmt.Sprintf("unknown template %q", doc.TemplateID),
		}}, nil
	}
	return entity.ValidateStructure(tmpl, doc), nil
}

func (s *Store) documentPath(id string) string {
	return filepath.Join(s.entitiesDir, id+".json")
}
