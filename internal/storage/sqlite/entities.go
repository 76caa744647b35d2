package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/sqlite"
)

type EntitiesRepo struct {
	db *sql.DB
}

func NewEntitiesRepo(db *sql.DB) *EntitiesRepo {
	return &EntitiesRepo{db: db}
}

func (r *EntitiesRepo) LoadEntities(ctx context.Context) ([]core.Entity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, display_name, needs_review, first_seen_at, last_mentioned_at
		FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []core.Entity
	for rows.Next() {
		var (
			e           core.Entity
			typ         string
			review      int
			first, last int64
		)
		if err := rows.Scan(&e.ID, &typ, &e.DisplayName, &review, &first, &last); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.Type = core.EntityType(typ)
		e.NeedsReview = review == 1
		e.FirstSeenAt, e.LastMentionedAt = fromMillis(first), fromMillis(last)
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertEntities writes the given entities in one transaction. An entity stays
// flagged for review only while every write flags it.
func (r *EntitiesRepo) UpsertEntities(ctx context.Context, entities []core.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return conflict(err)
	}
	defer tx.Rollback()

	for _, e := range entities {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, type, display_name, needs_review, first_seen_at, last_mentioned_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				needs_review = MIN(entities.needs_review, excluded.needs_review),
				last_mentioned_at = MAX(entities.last_mentioned_at, excluded.last_mentioned_at)`,
			e.ID, string(e.Type), e.DisplayName, boolToInt(e.NeedsReview), toMillis(e.FirstSeenAt), toMillis(e.LastMentionedAt),
		)
		if err != nil {
			return conflict(fmt.Errorf("upsert entity %s: %w", e.DisplayName, err))
		}
	}
	return conflict(tx.Commit())
}

func (r *EntitiesRepo) ListReview(ctx context.Context, limit int) ([]core.ReviewItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, surface_text, entity_type, candidate_id, confidence, band, created_at
		FROM review_queue
		WHERE closed_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query review queue: %w", err)
	}
	defer rows.Close()

	var out []core.ReviewItem
	for rows.Next() {
		item, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *EntitiesRepo) GetReview(ctx context.Context, id int64) (core.ReviewItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, surface_text, entity_type, candidate_id, confidence, band, created_at
		FROM review_queue WHERE id = ? AND closed_at IS NULL`, id)
	item, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ReviewItem{}, fmt.Errorf("review item %d: %w", id, core.ErrNotFound)
	}
	return item, err
}

// CloseReview marks the item done and binds its mentions to entityID.
func (r *EntitiesRepo) CloseReview(ctx context.Context, id int64, entityID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var convID, surface string
	err = tx.QueryRowContext(ctx, `SELECT conversation_id, surface_text FROM review_queue WHERE id = ?`, id).Scan(&convID, &surface)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("review item %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load review item: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE review_queue SET closed_at = ?, entity_id = ? WHERE id = ?`,
		toMillis(time.Now()), entityID, id); err != nil {
		return fmt.Errorf("close review item: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE entity_mentions SET entity_id = ?, band = ?, tier = 'review', confidence = 1.0
		WHERE conversation_id = ? AND surface_text = ?`,
		entityID, string(core.BandAuto), convID, surface); err != nil {
		return fmt.Errorf("bind mentions: %w", err)
	}
	return tx.Commit()
}

func scanReview(row interface{ Scan(...any) error }) (core.ReviewItem, error) {
	var (
		item      core.ReviewItem
		typ, band string
		candidate sql.NullString
		created   int64
	)
	if err := row.Scan(&item.ID, &item.ConversationID, &item.SurfaceText, &typ, &candidate, &item.Confidence, &band, &created); err != nil {
		return core.ReviewItem{}, err
	}
	item.EntityType = core.EntityType(typ)
	item.Band = core.Band(band)
	item.CandidateID = candidate.String
	item.CreatedAt = fromMillis(created)
	return item, nil
}

// conflict tags lock contention so callers can retry it.
func conflict(err error) error {
	if err == nil {
		return nil
	}
	if sqlite.IsBusy(err) {
		return fmt.Errorf("%w: %w", core.ErrGraphWriteConflict, err)
	}
	return err
}
