// Package engine wires the store, ledger, projections, graph, search,
// consistency pipeline, and backups into the single facade callers use.
// Every mutation follows the same discipline: validate, append to the
// ledger, persist the document, then update the derived state.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aveline/canonry/internal/backup"
	"github.com/aveline/canonry/internal/consistency"
	"github.com/aveline/canonry/internal/consistency/delegate"
	"github.com/aveline/canonry/internal/domain/entity"
	"github.com/aveline/canonry/internal/domain/event"
	"github.com/aveline/canonry/internal/graph"
	"github.com/aveline/canonry/internal/index"
	"github.com/aveline/canonry/internal/ledger"
	"github.com/aveline/canonry/internal/platform/config"
	"github.com/aveline/canonry/internal/platform/errors"
	"github.com/aveline/canonry/internal/projection"
	"github.com/aveline/canonry/internal/store"
)

const (
	ledgerDirName    = "ledger"
	templatesDirName = "templates"
	indexFileName    = "index.db"
)

// Engine is the canon engine facade. Safe for concurrent use.
type Engine struct {
	cfg      config.Config
	store    *store.Store
	led      *ledger.Ledger
	ix       *index.Index
	applier  *projection.Applier
	graph    *graph.Graph
	pipeline *consistency.Pipeline
	backups  *backup.Manager
	tracer   trace.Tracer
	logger   *log.Logger
	clock    func() time.Time
	checker  delegate.Checker

	mu      sync.Mutex
	session string

	// swapMu serializes mutations against Restore's whole-store swap.
	// Writers hold it shared; Restore holds it exclusively so no append
	// can land in a ledger the swap is about to retire.
	swapMu sync.RWMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithChecker overrides the semantic delegate, for tests.
func WithChecker(c delegate.Checker) Option {
	return func(e *Engine) { e.checker = c }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// Open builds an engine over the configured data directory, converging
// every derived index with the ledger before returning. A crash between
// a ledger append and its projection is healed here.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		tracer: otel.Tracer("canonry/engine"),
		logger: log.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	dataDir := filepath.Clean(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.CodeStorageIO, "create data dir", err)
	}

	templates, err := loadOrSeedTemplates(filepath.Join(dataDir, templatesDirName))
	if err != nil {
		return nil, err
	}

	st, err := store.Open(dataDir, templates, entity.NewExtractorRegistry())
	if err != nil {
		return nil, err
	}
	e.store = st

	led, err := ledger.Open(filepath.Join(dataDir, ledgerDirName), event.NewRegistry())
	if err != nil {
		return nil, err
	}
	e.led = led

	ix, err := index.Open(filepath.Join(dataDir, indexFileName))
	if err != nil {
		return nil, err
	}
	e.ix = ix
	e.applier = projection.NewApplier(ix)

	applied, err := e.applier.CatchUp(ctx, led)
	if err != nil {
		ix.Close()
		return nil, fmt.Errorf("converge projections: %w", err)
	}
	if applied > 0 {
		e.logger.Printf("canonry: replayed %d ledger events at startup", applied)
	}

	if err := e.rebuildGraph(ctx); err != nil {
		ix.Close()
		return nil, err
	}
	if err := e.rebuildSearch(ctx); err != nil {
		ix.Close()
		return nil, err
	}

	var popts []consistency.Option
	if cfg.SemanticCandidates > 0 {
		popts = append(popts, consistency.WithCandidates(cfg.SemanticCandidates))
	}
	if e.checker == nil && cfg.SemanticEndpoint != "" {
		e.checker = delegate.NewOpenAI(cfg.SemanticEndpoint, cfg.SemanticAPIKey, cfg.SemanticModel)
	}
	if e.checker != nil {
		timeout := cfg.SemanticTimeout
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		popts = append(popts, consistency.WithChecker(e.checker, timeout))
	}
	e.pipeline = consistency.New(st, popts...)

	e.backups, err = backup.NewManager(dataDir)
	if err != nil {
		ix.Close()
		return nil, err
	}

	// A session that never ended survives restarts.
	active, err := ix.ActiveSession(ctx)
	switch {
	case err == nil:
		e.session = active.SessionID
	case errors.HasCode(err, errors.CodeSessionNotActive):
		// No session was open; nothing to recover.
	default:
		ix.Close()
		return nil, err
	}

	return e, nil
}

// Close releases the index handle. The store and ledger hold no
// long-lived resources.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	return e.ix.Close()
}

// loadOrSeedTemplates reads the template directory, materializing the
// built-in templates on first run so a fresh data directory works out
// of the box.
func loadOrSeedTemplates(dir string) (map[string]entity.Template, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.CodeStorageIO, "create templates dir", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageIO, "read templates dir", err)
	}
	hasTemplates := false
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".yaml") {
			hasTemplates = true
			break
		}
	}
	if !hasTemplates {
		files, err := entity.DefaultTemplateFiles()
		if err != nil {
			return nil, err
		}
		for name, raw := range files {
			if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
				return nil, errors.Wrap(errors.CodeStorageIO, "seed template "+name, err)
			}
		}
	}
	return entity.LoadTemplates(dir)
}

// currentSession returns the active session ID, or the configured label
// for work done outside any session.
func (e *Engine) currentSession() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != "" {
		return e.session
	}
	return e.cfg.SessionLabel
}

// appendEvent validates and appends one event under the current
// session, then applies it to the projections before returning. Callers
// therefore read their own writes.
func (e *Engine) appendEvent(ctx context.Context, typ event.Type, entityID string, payload any) (event.Event, error) {
	return e.appendEventAs(ctx, e.currentSession(), typ, entityID, payload)
}

func (e *Engine) appendEventAs(ctx context.Context, sessionID string, typ event.Type, entityID string, payload any) (event.Event, error) {
	raw, err := event.NewPayload(payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	evt, err := e.led.Append(ctx, event.Event{
		Type:      typ,
		EntityID:  entityID,
		SessionID: sessionID,
		Payload:   raw,
	})
	if err != nil {
		return event.Event{}, err
	}
	if err := e.applier.Apply(ctx, evt); err != nil {
		return event.Event{}, fmt.Errorf("project %s seq %d: %w", typ, evt.Seq, err)
	}
	return evt, nil
}

// rebuildGraph reconstructs the in-memory graph from the store and the
// cross-reference projection.
func (e *Engine) rebuildGraph(ctx context.Context) error {
	g := graph.New()
	ids, err := e.store.IDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		g.AddNode(id)
	}
	refs, err := e.ix.AllXRefs(ctx)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		g.AddEdge(graph.Edge{
			Source:        ref.SourceEntityID,
			Target:        ref.TargetEntityID,
			Relationship:  ref.RelationshipType,
			Bidirectional: ref.Bidirectional,
		})
	}
	e.graph = g
	return nil
}

// rebuildSearch repopulates the search tables from the store so they
// can never drift across restarts.
func (e *Engine) rebuildSearch(ctx context.Context) error {
	docs, err := e.store.List("")
	if err != nil {
		return err
	}
	pointers := make([]*entity.Entity, len(docs))
	for i := range docs {
		pointers[i] = &docs[i]
	}
	return e.ix.RebuildSearch(ctx, func(templateID string) (*entity.Template, bool) {
		tmpl, ok := e.store.Template(templateID)
		if !ok {
			return nil, false
		}
		return &tmpl, true
	}, pointers)
}
