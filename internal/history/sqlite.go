package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/capitalize-ai/celia/internal/model"
)

// SQLiteBackend stores records in a local SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if needed) the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err = b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS saved_conversations (
        owner TEXT NOT NULL,
        id TEXT NOT NULL,
        title TEXT NOT NULL,
        saved_at TEXT NOT NULL,
        user_key TEXT NOT NULL,
        conversation_id TEXT NOT NULL,
        messages_json TEXT NOT NULL,
        created_at INTEGER NOT NULL, -- unix millis
        PRIMARY KEY (owner, id)
    );

    CREATE INDEX IF NOT EXISTS idx_saved_conversations_owner_created
        ON saved_conversations (owner, created_at);
    `
	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLiteBackend) Put(ctx context.Context, owner string, rec model.SavedConversation) error {
	messages, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
        INSERT INTO saved_conversations
            (owner, id, title, saved_at, user_key, conversation_id, messages_json, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (owner, id) DO UPDATE SET
            title = excluded.title,
            saved_at = excluded.saved_at,
            user_key = excluded.user_key,
            conversation_id = excluded.conversation_id,
            messages_json = excluded.messages_json,
            created_at = excluded.created_at`,
		owner, rec.ID, rec.Title, rec.SavedAt, rec.UserKey, rec.ConversationID,
		string(messages), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, owner, id string) (model.SavedConversation, error) {
	row := b.db.QueryRowContext(ctx, `
        SELECT id, title, saved_at, user_key, conversation_id, messages_json, created_at
        FROM saved_conversations WHERE owner = ? AND id = ?`, owner, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SavedConversation{}, ErrNotFound
	}
	return rec, err
}

func (b *SQLiteBackend) List(ctx context.Context, owner string) ([]model.SavedConversation, error) {
	rows, err := b.db.QueryContext(ctx, `
        SELECT id, title, saved_at, user_key, conversation_id, messages_json, created_at
        FROM saved_conversations WHERE owner = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []model.SavedConversation
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Delete(ctx context.Context, owner, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM saved_conversations WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLiteBackend) DeleteOlderThan(ctx context.Context, owner string, cutoff time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM saved_conversations WHERE owner = ? AND created_at < ?`, owner, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep conversations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (model.SavedConversation, error) {
	var (
		rec       model.SavedConversation
		messages  string
		createdMs int64
	)
	if err := s.Scan(&rec.ID, &rec.Title, &rec.SavedAt, &rec.UserKey, &rec.ConversationID, &messages, &createdMs); err != nil {
		return model.SavedConversation{}, err
	}
	if err := json.Unmarshal([]byte(messages), &rec.Messages); err != nil {
		return model.SavedConversation{}, fmt.Errorf("failed to decode messages of %s: %w", rec.ID, err)
	}
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	return rec, nil
}
