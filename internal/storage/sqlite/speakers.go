package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sandevgo/percept/internal/core"
)

type SpeakersRepo struct {
	db *sql.DB
}

func NewSpeakersRepo(db *sql.DB) *SpeakersRepo {
	return &SpeakersRepo{db: db}
}

const speakerColumns = `id, display_name, is_owner, approved, word_count, segment_count, first_seen, last_seen`

func scanSpeaker(row interface{ Scan(...any) error }) (core.Speaker, error) {
	var (
		s               core.Speaker
		name            sql.NullString
		owner, approved int
		first, last     int64
	)
	if err := row.Scan(&s.ID, &name, &owner, &approved, &s.WordCount, &s.SegmentCount, &first, &last); err != nil {
		return core.Speaker{}, err
	}
	s.DisplayName = name.String
	s.IsOwner = owner == 1
	s.Approved = approved == 1
	s.FirstSeen, s.LastSeen = fromMillis(first), fromMillis(last)
	return s, nil
}

func (r *SpeakersRepo) GetSpeaker(ctx context.Context, id string) (core.Speaker, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+speakerColumns+` FROM speakers WHERE id = ?`, id)
	s, err := scanSpeaker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Speaker{}, fmt.Errorf("speaker %s: %w", id, core.ErrNotFound)
	}
	return s, err
}

func (r *SpeakersRepo) ListSpeakers(ctx context.Context) ([]core.Speaker, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+speakerColumns+` FROM speakers ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("query speakers: %w", err)
	}
	defer rows.Close()

	var out []core.Speaker
	for rows.Next() {
		s, err := scanSpeaker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan speaker: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// EnsureSpeaker inserts the speaker when missing. Existing rows are left alone
// except for the owner flag, which follows configuration.
func (r *SpeakersRepo) EnsureSpeaker(ctx context.Context, s core.Speaker) error {
	var name any
	if s.DisplayName != "" {
		name = s.DisplayName
	}
	seen := toMillis(s.LastSeen)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO speakers (id, display_name, is_owner, approved, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET is_owner = excluded.is_owner`,
		s.ID, name, boolToInt(s.IsOwner), boolToInt(s.Approved || s.IsOwner), seen, seen,
	)
	if err != nil {
		return fmt.Errorf("ensure speaker %s: %w", s.ID, err)
	}
	return nil
}

func (r *SpeakersRepo) AddStats(ctx context.Context, id string, words, segments int, seen time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE speakers
		SET word_count = word_count + ?, segment_count = segment_count + ?, last_seen = MAX(last_seen, ?)
		WHERE id = ?`, words, segments, toMillis(seen), id)
	if err != nil {
		return fmt.Errorf("add speaker stats: %w", err)
	}
	return expectOne(res, "speaker "+id)
}

func (r *SpeakersRepo) SetDisplayName(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE speakers SET display_name = ? WHERE id = ?`, strings.TrimSpace(name), id)
	if err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	return expectOne(res, "speaker "+id)
}

func (r *SpeakersRepo) SetApproved(ctx context.Context, id string, approved bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE speakers SET approved = ? WHERE id = ?`, boolToInt(approved), id)
	if err != nil {
		return fmt.Errorf("set approved: %w", err)
	}
	return expectOne(res, "speaker "+id)
}

type ContactsRepo struct {
	db *sql.DB
}

func NewContactsRepo(db *sql.DB) *ContactsRepo {
	return &ContactsRepo{db: db}
}

func (r *ContactsRepo) ListContacts(ctx context.Context) ([]core.Contact, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, email, phone, aliases, relationship FROM contacts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var out []core.Contact
	for rows.Next() {
		var c core.Contact
		var aliases string
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &aliases, &c.Relationship); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		if err := json.Unmarshal([]byte(aliases), &c.Aliases); err != nil {
			return nil, fmt.Errorf("decode aliases for %s: %w", c.Name, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveContact inserts or replaces a contact keyed by name (case-insensitive).
func (r *ContactsRepo) SaveContact(ctx context.Context, c core.Contact) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: contact name required", core.ErrInputMalformed)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	aliases, err := json.Marshal(nonNil(c.Aliases))
	if err != nil {
		return fmt.Errorf("marshal aliases: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO contacts (id, name, email, phone, aliases, relationship)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			email = excluded.email, phone = excluded.phone,
			aliases = excluded.aliases, relationship = excluded.relationship`,
		c.ID, strings.TrimSpace(c.Name), c.Email, c.Phone, string(aliases), c.Relationship,
	)
	if err != nil {
		return fmt.Errorf("save contact %s: %w", c.Name, err)
	}
	return nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return nil
}
