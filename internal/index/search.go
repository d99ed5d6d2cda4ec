package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aveline/canonry/internal/domain/entity"
)

// SearchHit is one ranked full-text match.
type SearchHit struct {
	EntityID   string
	EntityType string
	Status     string
	Name       string
	Rank       float64
}

// SearchFilter narrows full-text and field queries. Zero values match
// everything.
type SearchFilter struct {
	EntityType string
	Status     string
	Limit      int
}

const defaultSearchLimit = 50

// UpsertSearchDocument replaces the searchable view of one entity. The
// template drives which fields become filterable field rows.
func (ix *Index) UpsertSearchDocument(ctx context.Context, tmpl *entity.Template, e *entity.Entity) error {
	return ix.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertSearchDocument(ctx, tx, tmpl, e)
	})
}

func upsertSearchDocument(ctx context.Context, tx *sql.Tx, tmpl *entity.Template, e *entity.Entity) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO search_documents (entity_id, entity_type, status, name, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			status = excluded.status,
			name = excluded.name,
			updated_at = excluded.updated_at`,
		e.ID, e.Type, string(e.Status), e.Name, toMillis(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert search document %s: %w", e.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM search_fields WHERE entity_id = ?`, e.ID); err != nil {
		return fmt.Errorf("clear search fields %s: %w", e.ID, err)
	}
	for _, def := range tmpl.Fields {
		raw, ok := e.Fields[def.Name]
		if !ok || raw == nil {
			continue
		}
		for _, val := range searchFieldValues(def, raw) {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO search_fields (entity_id, field, kind, value_text, value_num)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(entity_id, field, value_text) DO UPDATE SET
					kind = excluded.kind,
					value_num = excluded.value_num`,
				e.ID, def.Name, string(def.Kind), val.text, val.num,
			)
			if err != nil {
				return fmt.Errorf("insert search field %s.%s: %w", e.ID, def.Name, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM search_fts WHERE entity_id = ?`, e.ID); err != nil {
		return fmt.Errorf("clear search fts %s: %w", e.ID, err)
	}
	claims := make([]string, 0, len(e.Claims))
	for _, c := range e.Claims {
		claims = append(claims, c.Text)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO search_fts (entity_id, name, tags, description, claims)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Name, strings.Join(e.Tags, " "), e.Description(), strings.Join(claims, "\n"),
	)
	if err != nil {
		return fmt.Errorf("insert search fts %s: %w", e.ID, err)
	}
	return nil
}

// DeleteSearchDocument removes an entity from the search index.
func (ix *Index) DeleteSearchDocument(ctx context.Context, entityID string) error {
	return ix.WithTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM search_documents WHERE entity_id = ?`,
			`DELETE FROM search_fields WHERE entity_id = ?`,
			`DELETE FROM search_fts WHERE entity_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, entityID); err != nil {
				return fmt.Errorf("delete search document %s: %w", entityID, err)
			}
		}
		return nil
	})
}

// RebuildSearch drops the search tables and repopulates them from the
// given documents. Called at startup so the search index never drifts
// from the store.
func (ix *Index) RebuildSearch(ctx context.Context, resolve func(templateID string) (*entity.Template, bool), docs []*entity.Entity) error {
	return ix.WithTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM search_documents`,
			`DELETE FROM search_fields`,
			`DELETE FROM search_fts`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("clear search tables: %w", err)
			}
		}
		for _, doc := range docs {
			tmpl, ok := resolve(doc.TemplateID)
			if !ok {
				continue
			}
			if err := upsertSearchDocument(ctx, tx, tmpl, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// Search runs a ranked full-text query over names, tags, descriptions,
// and canon claims. Ties break on entity ID to keep results stable.
func (ix *Index) Search(ctx context.Context, query string, filter SearchFilter) ([]SearchHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rows, err := ix.db.QueryContext(ctx, `
		SELECT d.entity_id, d.entity_type, d.status, d.name, bm25(search_fts) AS rank
		FROM search_fts f
		JOIN search_documents d ON d.entity_id = f.entity_id
		WHERE search_fts MATCH ?
			AND (? = '' OR d.entity_type = ?)
			AND (? = '' OR d.status = ?)
		ORDER BY rank, d.entity_id
		LIMIT ?`,
		match, filter.EntityType, filter.EntityType, filter.Status, filter.Status, limit)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.EntityID, &h.EntityType, &h.Status, &h.Name, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return out, nil
}

// LookupField returns entity IDs whose field equals value exactly.
func (ix *Index) LookupField(ctx context.Context, field, value string, filter SearchFilter) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT f.entity_id
		FROM search_fields f
		JOIN search_documents d ON d.entity_id = f.entity_id
		WHERE f.field = ? AND f.value_text = ?
			AND (? = '' OR d.entity_type = ?)
			AND (? = '' OR d.status = ?)
		ORDER BY f.entity_id`,
		field, value, filter.EntityType, filter.EntityType, filter.Status, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("lookup field %s=%s: %w", field, value, err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// RangeNumber returns entity IDs whose numeric field falls inside the
// inclusive [min, max] range.
func (ix *Index) RangeNumber(ctx context.Context, field string, min, max float64, filter SearchFilter) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT f.entity_id
		FROM search_fields f
		JOIN search_documents d ON d.entity_id = f.entity_id
		WHERE f.field = ? AND f.value_num IS NOT NULL AND f.value_num >= ? AND f.value_num <= ?
			AND (? = '' OR d.entity_type = ?)
			AND (? = '' OR d.status = ?)
		ORDER BY f.value_num, f.entity_id`,
		field, min, max, filter.EntityType, filter.EntityType, filter.Status, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("range number %s: %w", field, err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// RangeDate returns entity IDs whose date field falls inside the
// inclusive [from, to] range. Dates use the template date layout, which
// sorts lexically.
func (ix *Index) RangeDate(ctx context.Context, field, from, to string, filter SearchFilter) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT f.entity_id
		FROM search_fields f
		JOIN search_documents d ON d.entity_id = f.entity_id
		WHERE f.field = ? AND f.kind = 'date' AND f.value_text >= ? AND f.value_text <= ?
			AND (? = '' OR d.entity_type = ?)
			AND (? = '' OR d.status = ?)
		ORDER BY f.value_text, f.entity_id`,
		field, from, to, filter.EntityType, filter.EntityType, filter.Status, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("range date %s: %w", field, err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// CountSearchDocuments returns the number of indexed documents.
func (ix *Index) CountSearchDocuments(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM search_documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count search documents: %w", err)
	}
	return n, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity ids: %w", err)
	}
	return out, nil
}

type fieldValue struct {
	text string
	num  sql.NullFloat64
}

func searchFieldValues(def entity.FieldDef, raw any) []fieldValue {
	switch def.Kind {
	case entity.KindNumber:
		if n, ok := toFloat(raw); ok {
			return []fieldValue{{text: strings.TrimSpace(fmt.Sprintf("%v", raw)), num: sql.NullFloat64{Float64: n, Valid: true}}}
		}
		return nil
	case entity.KindList, entity.KindRefList:
		items, ok := raw.([]any)
		if !ok {
			return nil
		}
		out := make([]fieldValue, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok || strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, fieldValue{text: s})
		}
		return out
	case entity.KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil
		}
		return []fieldValue{{text: fmt.Sprintf("%t", b)}}
	default:
		s, ok := raw.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil
		}
		return []fieldValue{{text: s}}
	}
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ftsQuery turns free text into a safe FTS5 query. Each whitespace
// separated term becomes a quoted prefix token, joined with implicit
// AND.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"*`)
	}
	return strings.Join(quoted, " ")
}
