package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tagentic/gateway/internal/message"
)

// schema is applied on every open; CREATE TABLE IF NOT EXISTS makes it
// idempotent, so a fresh database and a restart look the same.
const schema = `
CREATE TABLE IF NOT EXISTS chat_conversation (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	application_id TEXT NOT NULL,
	title          TEXT NOT NULL,
	last_active_at TIMESTAMP NOT NULL,
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_account ON chat_conversation(account_id);

CREATE TABLE IF NOT EXISTS chat_record (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	from_role       TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	seq             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_record_conversation ON chat_record(conversation_id, seq);

CREATE TABLE IF NOT EXISTS shared_conversation (
	id                     TEXT PRIMARY KEY,
	account_id             TEXT NOT NULL,
	application_id         TEXT NOT NULL,
	parent_conversation_id TEXT NOT NULL,
	records                TEXT NOT NULL,
	created_at             TIMESTAMP NOT NULL
);
`

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (and if needed initializes) the database at path.
// Pass ":memory:" for an ephemeral store in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent chat turns.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation implements Store.
func (s *SQLiteStore) CreateConversation(ctx context.Context, accountID, applicationID, title, conversationID string) (message.Conversation, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	now := time.Now().UTC()
	conv := message.Conversation{
		ID:            conversationID,
		AccountID:     accountID,
		ApplicationID: applicationID,
		Title:         title,
		LastActiveAt:  now,
		CreatedAt:     now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_conversation (id, account_id, application_id, title, last_active_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.AccountID, conv.ApplicationID, conv.Title, conv.LastActiveAt, conv.CreatedAt,
	)
	if err != nil {
		return message.Conversation{}, fmt.Errorf("inserting conversation: %w", err)
	}
	return conv, nil
}

// GetConversation implements Store.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (message.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, application_id, title, last_active_at, created_at
		 FROM chat_conversation WHERE id = ?`, conversationID)
	return scanConversation(row)
}

// TouchConversation implements Store.
func (s *SQLiteStore) TouchConversation(ctx context.Context, conversationID string, title *string) (message.Conversation, error) {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	if title != nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE chat_conversation SET last_active_at = ?, title = ? WHERE id = ?`,
			now, *title, conversationID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE chat_conversation SET last_active_at = ? WHERE id = ?`,
			now, conversationID)
	}
	if err != nil {
		return message.Conversation{}, fmt.Errorf("updating conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return message.Conversation{}, ErrNotFound
	}
	return s.GetConversation(ctx, conversationID)
}

// ListConversations implements Store.
func (s *SQLiteStore) ListConversations(ctx context.Context, accountID string) ([]message.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, application_id, title, last_active_at, created_at
		 FROM chat_conversation WHERE account_id = ? ORDER BY last_active_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []message.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// AppendMessage implements Store.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, fromRole, content string) (StoredRecord, error) {
	rec := StoredRecord{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		FromRole:       fromRole,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	// seq gives a total order even when two records land within the clock
	// resolution of created_at.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_record (id, conversation_id, from_role, content, created_at, seq)
		 VALUES (?, ?, ?, ?, ?,
		         (SELECT COALESCE(MAX(seq), 0) + 1 FROM chat_record WHERE conversation_id = ?))`,
		rec.ID, rec.ConversationID, rec.FromRole, rec.Content, rec.CreatedAt, rec.ConversationID,
	)
	if err != nil {
		return StoredRecord{}, fmt.Errorf("inserting record: %w", err)
	}
	return rec, nil
}

// ListMessages implements Store.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, from_role, content, created_at
		 FROM chat_record WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return collectRecords(rows)
}

// ListMessagesPage implements Store.
func (s *SQLiteStore) ListMessagesPage(ctx context.Context, conversationID string, limit int, beforeRecordID string) ([]StoredRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, conversation_id, from_role, content, created_at
	          FROM chat_record WHERE conversation_id = ?`
	args := []any{conversationID}
	if beforeRecordID != "" {
		query += ` AND seq < (SELECT seq FROM chat_record WHERE id = ?)`
		args = append(args, beforeRecordID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing record page: %w", err)
	}
	return collectRecords(rows)
}

// CreateShare implements Store.
func (s *SQLiteStore) CreateShare(ctx context.Context, accountID, applicationID, conversationID, records string) (SharedConversation, error) {
	share := SharedConversation{
		ID:                   uuid.NewString(),
		AccountID:            accountID,
		ApplicationID:        applicationID,
		ParentConversationID: conversationID,
		Records:              records,
		CreatedAt:            time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shared_conversation (id, account_id, application_id, parent_conversation_id, records, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		share.ID, share.AccountID, share.ApplicationID, share.ParentConversationID, share.Records, share.CreatedAt,
	)
	if err != nil {
		return SharedConversation{}, fmt.Errorf("inserting share: %w", err)
	}
	return share, nil
}

// GetShare implements Store.
func (s *SQLiteStore) GetShare(ctx context.Context, shareID string) (SharedConversation, error) {
	var share SharedConversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, application_id, parent_conversation_id, records, created_at
		 FROM shared_conversation WHERE id = ?`, shareID).
		Scan(&share.ID, &share.AccountID, &share.ApplicationID, &share.ParentConversationID, &share.Records, &share.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SharedConversation{}, ErrNotFound
	}
	if err != nil {
		return SharedConversation{}, fmt.Errorf("querying share: %w", err)
	}
	return share, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (message.Conversation, error) {
	var conv message.Conversation
	err := row.Scan(&conv.ID, &conv.AccountID, &conv.ApplicationID, &conv.Title, &conv.LastActiveAt, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return message.Conversation{}, ErrNotFound
	}
	if err != nil {
		return message.Conversation{}, fmt.Errorf("scanning conversation: %w", err)
	}
	return conv, nil
}

func collectRecords(rows *sql.Rows) ([]StoredRecord, error) {
	defer rows.Close()
	var out []StoredRecord
	for rows.Next() {
		var rec StoredRecord
		if err := rows.Scan(&rec.ID, &rec.ConversationID, &rec.FromRole, &rec.Content, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
