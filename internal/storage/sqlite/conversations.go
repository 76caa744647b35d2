package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sandevgo/percept/internal/core"
)

type ConversationsRepo struct {
	db *sql.DB
}

func NewConversationsRepo(db *sql.DB) *ConversationsRepo {
	return &ConversationsRepo{db: db}
}

func (r *ConversationsRepo) SaveConversation(ctx context.Context, conv *core.Conversation, resolutions []core.Resolution) error {
	speakers, err := json.Marshal(nonNil(conv.Speakers))
	if err != nil {
		return fmt.Errorf("marshal speakers: %w", err)
	}
	items, err := json.Marshal(nonNil(conv.ActionItems))
	if err != nil {
		return fmt.Errorf("marshal action items: %w", err)
	}
	topics, err := json.Marshal(nonNil(conv.KeyTopics))
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, session_id, started_at, last_activity_at, ended_at,
			full_text, summary_text, speakers, action_items, key_topics, word_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.SessionID, toMillis(conv.StartedAt), toMillis(conv.LastActivityAt), toMillis(conv.EndedAt),
		conv.FullText(), conv.SummaryText, string(speakers), string(items), string(topics), conv.WordCount,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	uStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO utterances (id, conversation_id, seq, speaker_id, text, start_ts, end_ts, confidence, is_command, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare utterance insert: %w", err)
	}
	defer uStmt.Close()

	// Arrival order is the slice order; seq is re-stamped to match it.
	for i, u := range conv.Utterances {
		if _, err := uStmt.ExecContext(ctx,
			u.ID, conv.ID, i, u.SpeakerID, u.Text, u.StartTS, u.EndTS, u.Confidence, boolToInt(u.IsCommand), toMillis(u.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert utterance %d: %w", i, err)
		}
	}

	now := time.Now()
	for _, res := range resolutions {
		var entityID any
		if res.Resolved() {
			entityID = res.EntityID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity_mentions (conversation_id, surface_text, entity_type, char_offset, source, entity_id, confidence, tier, band)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			conv.ID, res.Mention.SurfaceText, string(res.Mention.Type), res.Mention.Offset, res.Mention.Source,
			entityID, res.Confidence, res.Tier, string(res.Band),
		)
		if err != nil {
			return fmt.Errorf("insert mention %q: %w", res.Mention.SurfaceText, err)
		}

		if res.Band != core.BandNeedsHuman && res.Band != core.BandSoft {
			continue
		}
		var candidate any
		if res.EntityID != "" {
			candidate = res.EntityID
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO review_queue (conversation_id, surface_text, entity_type, candidate_id, confidence, band, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			conv.ID, res.Mention.SurfaceText, string(res.Mention.Type), candidate, res.Confidence, string(res.Band), toMillis(now),
		)
		if err != nil {
			return fmt.Errorf("enqueue review %q: %w", res.Mention.SurfaceText, err)
		}
	}

	return tx.Commit()
}

func (r *ConversationsRepo) RecentConversations(ctx context.Context, since time.Time, limit int) ([]core.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, started_at, last_activity_at, ended_at, summary_text, speakers, action_items, key_topics, word_count
		FROM conversations
		WHERE ended_at >= ?
		ORDER BY ended_at DESC
		LIMIT ?`, toMillis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []core.Conversation
	for rows.Next() {
		var (
			c                       core.Conversation
			started, last, ended    int64
			speakers, items, topics string
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &started, &last, &ended, &c.SummaryText, &speakers, &items, &topics, &c.WordCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.StartedAt, c.LastActivityAt, c.EndedAt = fromMillis(started), fromMillis(last), fromMillis(ended)
		for _, col := range []struct {
			name string
			raw  string
			dst  *[]string
		}{
			{"speakers", speakers, &c.Speakers},
			{"action_items", items, &c.ActionItems},
			{"key_topics", topics, &c.KeyTopics},
		} {
			if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
				return nil, fmt.Errorf("decode %s of conversation %s: %w", col.name, c.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchUtterances runs a full-text query. Free text is tokenized and every token
// quoted, so user input never reaches the FTS query syntax.
func (r *ConversationsRepo) SearchUtterances(ctx context.Context, query string, limit int) ([]core.UtteranceHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.conversation_id, u.seq, u.speaker_id, u.text, u.start_ts, u.end_ts, u.confidence, u.is_command, u.created_at,
			c.session_id, c.started_at,
			snippet(utterances_fts, '[', ']', '...', -1, 12)
		FROM utterances_fts
		JOIN utterances u ON u.rowid = utterances_fts.docid
		JOIN conversations c ON c.id = u.conversation_id
		WHERE utterances_fts MATCH ?
		ORDER BY c.started_at DESC, u.seq ASC
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search utterances: %w", err)
	}
	defer rows.Close()

	var hits []core.UtteranceHit
	for rows.Next() {
		var (
			h                core.UtteranceHit
			isCmd            int
			created, started int64
		)
		if err := rows.Scan(&h.ID, &h.ConversationID, &h.Seq, &h.SpeakerID, &h.Text, &h.StartTS, &h.EndTS, &h.Confidence,
			&isCmd, &created, &h.SessionID, &started, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.IsCommand = isCmd == 1
		h.CreatedAt, h.StartedAt = fromMillis(created), fromMillis(started)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// PurgeBefore deletes conversations that ended before cutoff with their utterances,
// mentions and review items.
func (r *ConversationsRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Utterances go first so the FTS delete trigger sees every row.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM utterances WHERE conversation_id IN (SELECT id FROM conversations WHERE ended_at < ?)`,
		toMillis(cutoff)); err != nil {
		return 0, fmt.Errorf("purge utterances: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE ended_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func ftsQuery(q string) string {
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, "'")
		if w == "" {
			continue
		}
		quoted = append(quoted, `"`+w+`"`)
	}
	return strings.Join(quoted, " ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
