package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sandevgo/percept/internal/core"
)

type RelationshipsRepo struct {
	db *sql.DB
}

func NewRelationshipsRepo(db *sql.DB) *RelationshipsRepo {
	return &RelationshipsRepo{db: db}
}

func (r *RelationshipsRepo) LoadRelationships(ctx context.Context) ([]core.Relationship, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_id, target_id, type, weight, evidence_count, first_seen_at, last_seen_at
		FROM relationships`)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var out []core.Relationship
	for rows.Next() {
		var (
			rel         core.Relationship
			typ         string
			first, last int64
		)
		if err := rows.Scan(&rel.Source, &rel.Target, &typ, &rel.Weight, &rel.EvidenceCount, &first, &last); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rel.Type = core.RelationType(typ)
		rel.FirstSeenAt, rel.LastSeenAt = fromMillis(first), fromMillis(last)
		out = append(out, rel)
	}
	return out, rows.Err()
}

// UpsertRelationships stores absolute edge state computed by the graph.
func (r *RelationshipsRepo) UpsertRelationships(ctx context.Context, rels []core.Relationship) error {
	if len(rels) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return conflict(err)
	}
	defer tx.Rollback()

	for _, rel := range rels {
		if err := upsertRelationship(ctx, tx, rel); err != nil {
			return conflict(err)
		}
	}
	return conflict(tx.Commit())
}

// ApplyDecay writes one sweep atomically: lowered weights and pruned edges.
func (r *RelationshipsRepo) ApplyDecay(ctx context.Context, updated []core.Relationship, deleted []core.EdgeKey) error {
	if len(updated) == 0 && len(deleted) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return conflict(err)
	}
	defer tx.Rollback()

	for _, rel := range updated {
		if _, err := tx.ExecContext(ctx, `
			UPDATE relationships SET weight = ? WHERE source_id = ? AND target_id = ? AND type = ?`,
			rel.Weight, rel.Source, rel.Target, string(rel.Type)); err != nil {
			return conflict(fmt.Errorf("decay %s: %w", rel.Type, err))
		}
	}
	for _, k := range deleted {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM relationships WHERE source_id = ? AND target_id = ? AND type = ?`,
			k.Source, k.Target, string(k.Type)); err != nil {
			return conflict(fmt.Errorf("prune %s: %w", k.Type, err))
		}
	}
	return conflict(tx.Commit())
}

func upsertRelationship(ctx context.Context, tx *sql.Tx, rel core.Relationship) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO relationships (source_id, target_id, type, weight, evidence_count, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET
			weight = excluded.weight,
			evidence_count = excluded.evidence_count,
			last_seen_at = excluded.last_seen_at`,
		rel.Source, rel.Target, string(rel.Type), rel.Weight, rel.EvidenceCount,
		toMillis(rel.FirstSeenAt), toMillis(rel.LastSeenAt),
	)
	if err != nil {
		return fmt.Errorf("upsert %s %s->%s: %w", rel.Type, rel.Source, rel.Target, err)
	}
	return nil
}
