// Package store persists the accumulated inbox and the polling
// checkpoint in a single sqlite database.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inboxforge/telegram-inbox/internal/poller"
)

//go:embed schema.sql
var schemaSQL string

// checkpointSource keys the single checkpoint row.
const checkpointSource = "telegram"

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("message not found")

// Store is the inbox database. It implements poller.Sink: each cycle's
// batch is prepended ahead of earlier batches and the offset is saved
// in the same transaction.
type Store struct {
	db *sql.DB
}

// StoredMessage is one persisted inbox message.
type StoredMessage struct {
	ID          int64               `json:"id"`
	MessageID   int64               `json:"message_id"`
	ChatID      int64               `json:"chat_id"`
	Date        time.Time           `json:"date"`
	Text        string              `json:"text"`
	Attachments []poller.Attachment `json:"attachments,omitempty"`
	Checked     bool                `json:"checked"`
}

// Open opens or creates the inbox database at dbPath.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Deliver implements poller.Sink: it stores the cycle's messages as one
// new batch and advances the checkpoint, atomically. Messages already
// present (same chat and message id) are ignored.
func (s *Store) Deliver(ctx context.Context, res poller.CycleResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(res.Messages) > 0 {
		var batch int64
		err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(batch_id), 0) + 1 FROM messages`).Scan(&batch)
		if err != nil {
			return fmt.Errorf("next batch id: %w", err)
		}

		now := time.Now().Unix()
		for i, m := range res.Messages {
			attachments, err := json.Marshal(m.Attachments)
			if err != nil {
				return fmt.Errorf("encode attachments: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO messages
				(message_id, chat_id, msg_date, text, attachments_json, batch_id, ordinal, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, m.ID, m.ChatID, m.Date.Unix(), m.Text, string(attachments), batch, i, now)
			if err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoint (source, last_update_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			last_update_id = excluded.last_update_id,
			updated_at = excluded.updated_at
	`, checkpointSource, res.Offset, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadOffset returns the last persisted update id, zero when no cycle
// has run yet.
func (s *Store) LoadOffset(ctx context.Context) (int64, error) {
	var offset int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_update_id FROM checkpoint WHERE source = ?
	`, checkpointSource).Scan(&offset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	return offset, nil
}

// List returns all inbox messages, newest batch first, within a batch
// in delivery order.
func (s *Store) List(ctx context.Context) ([]StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, chat_id, msg_date, text, attachments_json, checked
		FROM messages
		ORDER BY batch_id DESC, ordinal ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []StoredMessage
	for rows.Next() {
		var (
			m           StoredMessage
			date        int64
			attachments string
		)
		if err := rows.Scan(&m.ID, &m.MessageID, &m.ChatID, &date, &m.Text, &attachments, &m.Checked); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Date = time.Unix(date, 0)
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SetChecked marks or unmarks one message for the next move action.
func (s *Store) SetChecked(ctx context.Context, id int64, checked bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET checked = ? WHERE id = ?`, checked, id)
	if err != nil {
		return fmt.Errorf("update checked: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes the given messages from the inbox.
func (s *Store) Remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
