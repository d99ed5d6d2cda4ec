package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aveline/canonry/internal/consistency"
	"github.com/aveline/canonry/internal/consistency/delegate"
	"github.com/aveline/canonry/internal/domain/entity"
	"github.com/aveline/canonry/internal/index"
	"github.com/aveline/canonry/internal/platform/config"
	"github.com/aveline/canonry/internal/platform/errors"
	"github.com/aveline/canonry/internal/store"
)

func testConfig(dir string) config.Config {
	return config.Config{
		DataDir:            dir,
		SemanticTimeout:    100 * time.Millisecond,
		SemanticCandidates: 8,
	}
}

func openTestEngine(t *testing.T, dir string, opts ...Option) *Engine {
	t.Helper()
	eng, err := Open(context.Background(), testConfig(dir), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = eng.Close()
	})
	return eng
}

func godInput(name, domain string) store.Input {
	return store.Input{
		Name: name,
		Fields: map[string]any{
			"description": name + " watches over the coast",
			"domain":      domain,
			"traits":      []any{"immortal"},
		},
		Tags: []string{"pantheon"},
	}
}

func mustCreate(t *testing.T, eng *Engine, templateID string, input store.Input) entity.Entity {
	t.Helper()
	doc, result, err := eng.CreateEntity(context.Background(), templateID, input)
	if err != nil {
		t.Fatalf("CreateEntity %s: %v", input.Name, err)
	}
	if result.Verdict != consistency.VerdictAccepted {
		t.Fatalf("CreateEntity %s verdict = %s", input.Name, result.Verdict)
	}
	return doc
}

func TestCreateEntityRoundTrip(t *testing.T) {
	eng := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	doc := mustCreate(t, eng, "god", godInput("Thorin", "storms"))
	if doc.Revision != 1 {
		t.Fatalf("revision = %d, want 1", doc.Revision)
	}
	if doc.Status != entity.StatusDraft {
		t.Fatalf("status = %s, want draft", doc.Status)
	}

	got, err := eng.GetEntity(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Name != "Thorin" || got.StringField("domain") != "storms" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	hits, err := eng.SearchEntities(ctx, "storms", index.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchEntities: %v", err)
	}
	if len(hits) != 1 || hits[0].EntityID != doc.ID {
		t.Fatalf("search hits = %+v, want %s", hits, doc.ID)
	}

	timeline, err := eng.Progression(ctx, 0, "", doc.ID)
	if err != nil {
		t.Fatalf("Progression: %v", err)
	}
	if len(timeline) != 1 {
		t.Fatalf("progression entries = %d, want 1", len(timeline))
	}
}

func TestUpdateEntityStaleRevision(t *testing.T) {
	eng := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	doc := mustCreate(t, eng, "god", godInput("Thorin", "storms"))
	_, _, err := eng.UpdateEntity(ctx, doc.ID, 7, store.Input{
		Name:   "Thorin",
		Fields: doc.Fields,
	})
	if !errors.HasCode(err, errors.CodeStaleRevision) {
		t.Fatalf("err = %v, want STALE_REVISION", err)
	}

	current, err := eng.GetEntity(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if current.Revision != 1 {
		t.Fatalf("revision advanced to %d on a stale write", current.Revision)
	}
}

func TestDomainCollisionOpensContradiction(t *testing.T) {
	eng := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	kael := mustCreate(t, eng, "god", godInput("Kael", "storms"))

	thorin, result, err := eng.CreateEntity(ctx, "god", godInput("Thorin", "storms"))
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if result.Verdict != consistency.VerdictAccepted {
		t.Fatalf("verdict = %s, want accepted", result.Verdict)
	}
	if len(result.Warnings()) == 0 {
		t.Fatal("expected an exclusive field warning")
	}

	open, err := eng.OpenContradictions(ctx)
	if err != nil {
		t.Fatalf("OpenContradictions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open contradictions = %d, want 1", len(open))
	}
	involved := map[string]bool{}
	for _, entityID := range open[0].EntitiesInvolved {
		involved[entityID] = true
	}
	if !involved[kael.ID] || !involved[thorin.ID] {
		t.Fatalf("contradiction names %v, want both gods", open[0].EntitiesInvolved)
	}
}

func TestResolveContradiction(t *testing.T) {
	eng := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	mustCreate(t, eng, "god", godInput("Kael", "storms"))
	doc := mustCreate(t, eng, "god", godInput("Thorin", "storms"))

	open, err := eng.OpenContradictions(ctx)
	if err != nil {
		t.Fatalf("OpenContradictions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open contradictions = %d, want 1", len(open))
	}

	conID := open[0].ContradictionID
	if err := eng.ResolveContradiction(ctx, conID, "Thorin takes the sea instead", []string{doc.ID}); err != nil {
		t.Fatalf("ResolveContradiction: %v", err)
	}
	open, err = eng.OpenContradictions(ctx)
	if err != nil {
		t.Fatalf("OpenContradictions: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("open contradictions after resolve = %d, want 0", len(open))
	}

	err = eng.ResolveContradiction(ctx, conID, "again", nil)
	if !errors.HasCode(err, errors.CodeContradictionNotOpen) {
		t.Fatalf("second resolve err = %v, want CONTRADICTION_NOT_OPEN", err)
	}
}

func TestRefFieldsMaintainCrossReferences(t *testing.T) {
	eng := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	kael := mustCreate(t, eng, "god", godInput("Kael", "storms"))

	rivalInput := godInput("Thorin", "forges")
	rivalInput.Fields["rival_of"] = kael.ID
	thorin := mustCreate(t, eng, "god", rivalInput)

	refs, err := eng.GetCrossReferences(ctx, kael.ID)
	if err != nil {
		t.Fatalf("GetCrossReferences: %v", err)
	}
	if len(refs) != 1 || refs[0].SourceEntityID != thorin.ID || refs[0].RelationshipType != "rival_of" {
		t.Fatalf("refs = %+v", refs)
	}
	if path := eng.ShortestPath(kael.ID, thorin.ID); len(path) != 2 {
		t.Fatalf("shortest path = %v, want direct edge", path)
	}

	// Dropping the ref field removes the edge.
	cleared := godInput("Thorin", "forges")
	if _, _, err := eng.UpdateEntity(ctx, thorin.ID, 1, cleared); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	refs, err = eng.GetCrossReferences(ctx, kael.ID)
	if err != nil {
		t.Fatalf("GetCrossReferences: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("refs after clearing field = %+v, want none", refs)
	}
	orphans := eng.Orphans()
	if len(orphans) != 2 {
		t.Fatalf("orphans = %v, want both gods", orphans)
	}
}

func TestAddAndRemoveCrossReference(t *testing.T) {
	eng := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	kael := mustCreate(t, eng, "god", godInput("Kael", "storms"))
	thorin := mustCreate(t, eng, "god", godInput("Thorin", "forges"))

	if err := eng.AddCrossReference(ctx, kael.ID, thorin.ID, "allied_with", true); err != nil {
		t.Fatalf("AddCrossReference: %v", err)
	}
	if err := eng.AddCrossReference(ctx, kael.ID, "god:nobody-000000", "allied_with", false); !errors.HasCode(err, errors.CodeRuleMissingReference) {
		t.Fatalf("err = %v, want RULE_MISSING_REFERENCE", err)
	}

	refs, err := eng.GetCrossReferences(ctx, thorin.ID)
	if err != nil {
		t.Fatalf("GetCrossReferences: %v", err)
	}
	if len(refs) != 1 || !refs[0].Bidirectional {
		t.Fatalf("refs = %+v", refs)
	}

	if err := eng.RemoveCrossReference(ctx, kael.ID, thorin.ID, "allied_with"); err != nil {
		t.Fatalf("RemoveCrossReference: %v", err)
	}
	refs, err = eng.GetCrossReferences(ctx, thorin.ID)
	if err != nil {
		t.Fatalf("GetCrossReferences: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("refs after removal = %+v", refs)
	}
}

func TestStatusLifecycle(t *testing.T) {
	eng := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	doc := mustCreate(t, eng, "god", godInput("Thorin", "storms"))

	promoted, err := eng.SetEntityStatus(ctx, doc.ID, entity.StatusCanon, "established in session one")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promoted.Status != entity.StatusCanon {
		t.Fatalf("status = %s, want canon", promoted.Status)
	}

	demoted, err := eng.SetEntityStatus(ctx, doc.ID, entity.StatusDraft, "rethinking the pantheon")
	if err != nil {
		t.Fatalf("demote: %v", err)
	}
	if demoted.Status != entity.StatusDraft {
		t.Fatalf("status = %s, want draft", demoted.Status)
	}

	_, err = eng.SetEntityStatus(ctx, doc.ID, entity.StatusDraft, "")
	if !errors.HasCode(err, errors.CodeRuleInvalidStatusShift) {
		t.Fatalf("err = %v, want RULE_INVALID_STATUS_TRANSITION", err)
	}
}

func TestSemanticTimeoutFlagsReview(t *testing.T) {
	checker := &delegate.Static{Delay: 2 * time.Second}
	eng := openTestEngine(t, t.TempDir(), WithChecker(checker))
	ctx := context.Background()

	mustCreate(t, eng, "god", godInput("Kael", "storms"))

	doc, result, err := eng.CreateEntity(ctx, "god", godInput("Thorin", "forges"))
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if !result.SemanticSkipped {
		t.Fatal("expected the semantic check to be skipped")
	}

	pending, err := eng.PendingReview(ctx)
	if err != nil {
		t.Fatalf("PendingReview: %v", err)
	}
	if len(pending) != 1 || pending[0].EntityID != doc.ID {
		t.Fatalf("pending review = %+v, want %s", pending, doc.ID)
	}
}

func TestSemanticCriticalRejects(t *testing.T) {
	checker := &delegate.Static{Response: delegate.Response{Issues: []delegate.Issue{{
		Severity:    delegate.SeverityCritical,
		Description: "Thorin cannot forge anything, the dwarves never taught him",
	}}}}
	eng := openTestEngine(t, t.TempDir(), WithChecker(checker))
	ctx := context.Background()

	mustCreate(t, eng, "god", godInput("Kael", "storms"))

	_, result, err := eng.CreateEntity(ctx, "god", godInput("Thorin", "forges"))
	if !errors.HasCode(err, errors.CodeSemanticCritical) {
		t.Fatalf("err = %v, want SEMANTIC_CRITICAL", err)
	}
	if result.Verdict != consistency.VerdictRejected {
		t.Fatalf("verdict = %s, want rejected", result.Verdict)
	}

	docs, err := eng.ListEntities(ctx, "")
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("store holds %d entities, rejected write leaked", len(docs))
	}
}

func TestSessionLifecycle(t *testing.T) {
	eng := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	sessionID, err := eng.StartSession(ctx, "The Sundering, part one")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := eng.StartSession(ctx, "again"); !errors.HasCode(err, errors.CodeSessionAlreadyActive) {
		t.Fatalf("second start err = %v, want SESSION_ALREADY_ACTIVE", err)
	}

	doc := mustCreate(t, eng, "god", godInput("Thorin", "storms"))

	timeline, err := eng.Progression(ctx, 0, sessionID, "")
	if err != nil {
		t.Fatalf("Progression: %v", err)
	}
	if len(timeline) != 1 || timeline[0].EntityID != doc.ID {
		t.Fatalf("session timeline = %+v", timeline)
	}

	if err := eng.EndSession(ctx, "the pantheon takes shape"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := eng.EndSession(ctx, "again"); !errors.HasCode(err, errors.CodeSessionNotActive) {
		t.Fatalf("second end err = %v, want SESSION_NOT_ACTIVE", err)
	}

	sessions, err := eng.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Active() {
		t.Fatalf("sessions = %+v, want one closed session", sessions)
	}
}

func TestRecordDecision(t *testing.T) {
	eng := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	doc := mustCreate(t, eng, "god", godInput("Thorin", "storms"))

	decisionID, err := eng.RecordDecision(ctx, "Thorin is the eldest god", "anchors the creation myth", []string{doc.ID})
	if err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
	if decisionID == "" {
		t.Fatal("empty decision ID")
	}

	if _, err := eng.RecordDecision(ctx, "bad", "", []string{"god:nobody-000000"}); !errors.HasCode(err, errors.CodeRuleMissingReference) {
		t.Fatalf("err = %v, want RULE_MISSING_REFERENCE", err)
	}

	decisions, err := eng.Decisions(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Decisions: %v", err)
	}
	if len(decisions) != 1 || decisions[0].DecisionID != decisionID {
		t.Fatalf("decisions = %+v", decisions)
	}
}

func TestValidateEntityDoesNotPersist(t *testing.T) {
	eng := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	input := godInput("Thorin", "storms")
	input.Fields["ascended_at"] = "not-a-date"
	result, err := eng.ValidateEntity(ctx, "god", input)
	if err != nil {
		t.Fatalf("ValidateEntity: %v", err)
	}
	if result.Verdict != consistency.VerdictRejected {
		t.Fatalf("verdict = %s, want rejected", result.Verdict)
	}

	docs, err := eng.ListEntities(ctx, "")
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("validation persisted %d entities", len(docs))
	}
}

// Reopening over the same data directory, with the derived index deleted,
// must reconstruct the same state from the ledger alone.
func TestReopenRebuildsDerivedState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	eng, err := Open(ctx, testConfig(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	kael := mustCreate(t, eng, "god", godInput("Kael", "storms"))
	thorin := mustCreate(t, eng, "god", godInput("Thorin", "storms"))
	if err := eng.AddCrossReference(ctx, kael.ID, thorin.ID, "rival_of", true); err != nil {
		t.Fatalf("AddCrossReference: %v", err)
	}
	if _, err := eng.SetEntityStatus(ctx, kael.ID, entity.StatusCanon, ""); err != nil {
		t.Fatalf("SetEntityStatus: %v", err)
	}

	before, err := eng.ix.RegistryRows(ctx, "", "")
	if err != nil {
		t.Fatalf("RegistryRows: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, indexFileName+"*"))
	if err != nil {
		t.Fatalf("glob index files: %v", err)
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			t.Fatalf("remove %s: %v", path, err)
		}
	}

	reopened := openTestEngine(t, dir)
	after, err := reopened.ix.RegistryRows(ctx, "", "")
	if err != nil {
		t.Fatalf("RegistryRows after reopen: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("registry rows = %d, want %d", len(after), len(before))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Fatalf("row %d diverged:\n  before %+v\n  after  %+v", i, before[i], after[i])
		}
	}

	open, err := reopened.OpenContradictions(ctx)
	if err != nil {
		t.Fatalf("OpenContradictions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open contradictions after rebuild = %d, want 1", len(open))
	}
	refs, err := reopened.GetCrossReferences(ctx, thorin.ID)
	if err != nil {
		t.Fatalf("GetCrossReferences: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("xrefs after rebuild = %+v", refs)
	}
	hits, err := reopened.SearchEntities(ctx, "storms", index.SearchFilter{})
	if err != nil {
		t.Fatalf("SearchEntities: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("search hits after rebuild = %d, want 2", len(hits))
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	eng := openTestEngine(t, t.TempDir())
	ctx := context.Background()

	kael := mustCreate(t, eng, "god", godInput("Kael", "storms"))

	manifest, err := eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if manifest.BackupID == "" || len(manifest.Files) == 0 {
		t.Fatalf("manifest = %+v", manifest)
	}

	latecomer := mustCreate(t, eng, "god", godInput("Thorin", "forges"))

	if _, err := eng.Restore(ctx, manifest.BackupID); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if _, err := eng.GetEntity(ctx, kael.ID); err != nil {
		t.Fatalf("restored entity missing: %v", err)
	}
	if _, err := eng.GetEntity(ctx, latecomer.ID); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("post-snapshot entity survived restore: %v", err)
	}

	report, err := eng.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !report.Healthy {
		t.Fatalf("restored world unhealthy: %+v", report.Findings)
	}

	if _, err := eng.Restore(ctx, "backup-00000000-000000-xxxxxx"); !errors.HasCode(err, errors.CodeBackupNotFound) {
		t.Fatalf("err = %v, want BACKUP_NOT_FOUND", err)
	}
}

func TestHealthCheckAndRepairDanglingXRef(t *testing.T) {
	dir := t.TempDir()
	eng := openTestEngine(t, dir)
	ctx := context.Background()

	kael := mustCreate(t, eng, "god", godInput("Kael", "storms"))
	thorin := mustCreate(t, eng, "god", godInput("Thorin", "forges"))
	if err := eng.AddCrossReference(ctx, kael.ID, thorin.ID, "rival_of", false); err != nil {
		t.Fatalf("AddCrossReference: %v", err)
	}

	// Lose a document behind the engine's back.
	if err := os.Remove(filepath.Join(dir, "entities", thorin.ID+".json")); err != nil {
		t.Fatalf("remove document: %v", err)
	}

	report, err := eng.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if report.Healthy {
		t.Fatal("expected findings for the missing document")
	}

	dry, err := eng.Repair(ctx, true)
	if err != nil {
		t.Fatalf("Repair dry run: %v", err)
	}
	open, err := eng.OpenContradictions(ctx)
	if err != nil {
		t.Fatalf("OpenContradictions: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("dry run opened %d contradictions", len(open))
	}
	found := false
	for _, action := range dry.Actions {
		if action.Action == "flag_dangling_xref" {
			found = true
		}
	}
	if !found {
		t.Fatalf("dry run actions = %+v, want flag_dangling_xref", dry.Actions)
	}

	if _, err := eng.Repair(ctx, false); err != nil {
		t.Fatalf("Repair: %v", err)
	}
	open, err = eng.OpenContradictions(ctx)
	if err != nil {
		t.Fatalf("OpenContradictions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open contradictions after repair = %d, want 1", len(open))
	}
}

func TestRestoreBlocksConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	eng := openTestEngine(t, dir)
	ctx := context.Background()

	mustCreate(t, eng, "god", godInput("Anchor", "storms"))
	if _, err := eng.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	backups, err := eng.ListBackups()
	if err != nil || len(backups) != 1 {
		t.Fatalf("ListBackups = %v, %v", backups, err)
	}

	// Writers racing the swap must land either wholly before it, where
	// the restore wipes both their event and their document, or wholly
	// after it, appending to the restored ledger. A document without a
	// ledger event means a writer slipped inside the swap.
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			eng.CreateEntity(ctx, "god", godInput(fmt.Sprintf("Racer %d", i), fmt.Sprintf("realm-%d", i)))
		}(i)
	}
	close(start)
	if _, err := eng.Restore(ctx, backups[0]); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	wg.Wait()

	ids, err := eng.store.IDs()
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	for _, entityID := range ids {
		timeline, err := eng.Progression(ctx, 0, "", entityID)
		if err != nil {
			t.Fatalf("Progression %s: %v", entityID, err)
		}
		if len(timeline) == 0 {
			t.Fatalf("document %s exists with no ledger event", entityID)
		}
	}
	report, err := eng.HealthCheck(ctx)
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !report.Healthy {
		t.Fatalf("unhealthy after restore: %+v", report.Findings)
	}
}

func TestOpenFailsOnBrokenSessionProjection(t *testing.T) {
	dir := t.TempDir()
	eng := openTestEngine(t, dir)
	mustCreate(t, eng, "god", godInput("Solene", "storms"))
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Drop the sessions table behind the migration tracker's back so the
	// recovery query fails with a real storage error, not "no session".
	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("open index db: %v", err)
	}
	if _, err := db.Exec(`DROP TABLE sessions`); err != nil {
		t.Fatalf("drop sessions: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close index db: %v", err)
	}

	if _, err := Open(context.Background(), testConfig(dir)); err == nil {
		t.Fatal("expected open to surface the broken projection")
	}
}
