package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/comigor/assistant-go/internal/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS conversations_user_updated
    ON conversations (user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);`

// SQLiteStore persists conversations in a local SQLite file. Timestamps are
// stored as unix nanoseconds so ordering and round trips are exact.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer at a time; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	logger.L.Info("sqlite conversation store initialized", "path", path)
	return &SQLiteStore{db: db, opts: buildOptions(opts)}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, userID string) (*Conversation, error) {
	now := s.opts.now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Messages:  []Message{},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?);`,
		conv.ID, conv.UserID, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *SQLiteStore) Append(ctx context.Context, id string, msg Message) (*Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?;`, s.opts.now().UnixNano(), id)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?);`,
		id, string(msg.Role), msg.Content, msg.Timestamp.UnixNano())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var (
		conv             Conversation
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = ?;`, id).
		Scan(&conv.ID, &conv.UserID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	conv.CreatedAt = fromNanos(created)
	conv.UpdatedAt = fromNanos(updated)

	if conv.Messages, err = s.messages(ctx, conv.ID); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *SQLiteStore) messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY id ASC;`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var (
			m    Message
			role string
			ts   int64
		)
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		m.Timestamp = fromNanos(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Latest(ctx context.Context, userID string) (*Conversation, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC LIMIT 1;`, userID).
		Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations
		 WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC;`, userID)
	if err != nil {
		return nil, err
	}

	convs := make([]Conversation, 0)
	for rows.Next() {
		var (
			c                Conversation
			created, updated int64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &created, &updated); err != nil {
			rows.Close()
			return nil, err
		}
		c.CreatedAt = fromNanos(created)
		c.UpdatedAt = fromNanos(updated)
		convs = append(convs, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// rows must be closed before these queries: the pool holds one connection
	for i := range convs {
		if convs[i].Messages, err = s.messages(ctx, convs[i].ID); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?;`, id); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?;`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

func (s *SQLiteStore) Close(context.Context) error {
	return s.db.Close()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
