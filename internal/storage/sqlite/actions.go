package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sandevgo/percept/internal/core"
)

type ActionsRepo struct {
	db *sql.DB
}

func NewActionsRepo(db *sql.DB) *ActionsRepo {
	return &ActionsRepo{db: db}
}

func (r *ActionsRepo) SaveAction(ctx context.Context, req core.ActionRequest) error {
	params, err := json.Marshal(req.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	packet, err := json.Marshal(req.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	var convID any
	if req.ConversationID != "" {
		convID = req.ConversationID
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO actions (id, session_id, conversation_id, intent, params, raw_text, confidence, context,
			requires_confirmation, human_required, reason, safety_level, safety_category, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.SessionID, convID, string(req.Intent), string(params), req.RawText, req.Confidence, string(packet),
		boolToInt(req.RequiresConfirmation), boolToInt(req.HumanRequired), req.Reason,
		string(req.Safety.Level), req.Safety.Category, req.Status(), toMillis(req.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// ListActions returns the newest actions first. An empty status lists all of them.
func (r *ActionsRepo) ListActions(ctx context.Context, status string, limit int) ([]core.ActionRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, conversation_id, intent, params, raw_text, confidence, context,
			requires_confirmation, human_required, reason, safety_level, safety_category, created_at
		FROM actions
		WHERE ? = '' OR status = ?
		ORDER BY created_at DESC
		LIMIT ?`, status, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []core.ActionRequest
	for rows.Next() {
		var (
			a              core.ActionRequest
			convID         sql.NullString
			intent, level  string
			params, packet string
			confirm, human int
			created        int64
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &convID, &intent, &params, &a.RawText, &a.Confidence, &packet,
			&confirm, &human, &a.Reason, &level, &a.Safety.Category, &created); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.ConversationID = convID.String
		a.Intent = core.Action(intent)
		a.Safety.Level = core.SafetyLevel(level)
		a.RequiresConfirmation, a.HumanRequired = confirm == 1, human == 1
		a.CreatedAt = fromMillis(created)
		if err := json.Unmarshal([]byte(params), &a.Params); err != nil {
			return nil, fmt.Errorf("decode params of %s: %w", a.ID, err)
		}
		if err := json.Unmarshal([]byte(packet), &a.Context); err != nil {
			return nil, fmt.Errorf("decode context of %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
