package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"notekeep/models"
)

const noteColumns = "id, user_id, title, content, created_at"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// NoteStore persists notes. Every method takes the owner id from the
// authenticated session and never touches rows owned by someone else.
type NoteStore struct {
	db  *DB
	now func() time.Time
}

// NewNoteStore returns a store stamping notes with now; nil means time.Now.
func NewNoteStore(db *DB, now func() time.Time) *NoteStore {
	if now == nil {
		now = time.Now
	}
	return &NoteStore{db: db, now: now}
}

func (s *NoteStore) CreateNote(ctx context.Context, ownerID int64, title, content string) (models.Note, error) {
	if err := ValidateNoteInput(title, content); err != nil {
		return models.Note{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	n := models.Note{
		UserID:    ownerID,
		Title:     title,
		Content:   content,
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	stmt := "INSERT INTO notes (title, content, user_id, created_at) VALUES (?, ?, ?, ?) RETURNING id"
	err := s.db.QueryRowContext(ctx, s.db.Rebind(stmt), n.Title, n.Content, n.UserID, n.CreatedAt).Scan(&n.ID)
	if err != nil {
		return models.Note{}, fmt.Errorf("inserting note: %w", err)
	}
	return n, nil
}

// ListNotes returns the owner's notes, newest first.
func (s *NoteStore) ListNotes(ctx context.Context, ownerID int64) ([]models.Note, error) {
	return s.query(ctx, "SELECT "+noteColumns+" FROM notes WHERE user_id = ? ORDER BY created_at DESC, id DESC", ownerID)
}

func (s *NoteStore) GetNote(ctx context.Context, ownerID, noteID int64) (models.Note, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var n models.Note
	err := s.db.QueryRowContext(ctx, s.db.Rebind("SELECT "+noteColumns+" FROM notes WHERE id = ? AND user_id = ?"), noteID, ownerID).
		Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Note{}, ErrNotFound
		}
		return models.Note{}, fmt.Errorf("querying note: %w", err)
	}
	return n, nil
}

// UpdateNote overwrites title and content, keeping id and timestamp.
func (s *NoteStore) UpdateNote(ctx context.Context, ownerID, noteID int64, title, content string) (models.Note, error) {
	if err := ValidateNoteInput(title, content); err != nil {
		return models.Note{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var n models.Note
	stmt := "UPDATE notes SET title = ?, content = ? WHERE id = ? AND user_id = ? RETURNING " + noteColumns
	err := s.db.QueryRowContext(ctx, s.db.Rebind(stmt), title, content, noteID, ownerID).
		Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Note{}, ErrNotFound
		}
		return models.Note{}, fmt.Errorf("updating note: %w", err)
	}
	return n, nil
}

// DeleteNote is idempotent: missing or foreign notes are left alone.
func (s *NoteStore) DeleteNote(ctx context.Context, ownerID, noteID int64) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM notes WHERE id = ? AND user_id = ?"), noteID, ownerID)
	if err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}
	return nil
}

// SearchNotes matches query as a literal substring of the title. An empty
// query matches nothing.
func (s *NoteStore) SearchNotes(ctx context.Context, ownerID int64, query string) ([]models.Note, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Note{}, nil
	}
	pattern := "%" + likeEscaper.Replace(query) + "%"
	return s.query(ctx,
		"SELECT "+noteColumns+` FROM notes WHERE user_id = ? AND title LIKE ? ESCAPE '\' ORDER BY created_at DESC, id DESC`,
		ownerID, pattern)
}

func (s *NoteStore) query(ctx context.Context, query string, args ...any) ([]models.Note, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer rows.Close()

	return scanNotes(rows)
}

func scanNotes(rows *sql.Rows) ([]models.Note, error) {
	notes := []models.Note{}
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notes: %w", err)
	}
	return notes, nil
}
