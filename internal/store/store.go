// Package store is the durable-storage collaborator: conversations, the
// local chat history used by vendors without server-side sessions, and
// frozen conversation shares.
//
// The orchestrator treats these calls as fire-and-forget operations it
// awaits individually; there are no cross-call transactions. Any failure
// surfaces as a generic storage error and fails the turn.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tagentic/gateway/internal/message"
)

// ErrNotFound reports an absent conversation, record, or share. It is
// caller-input class: the HTTP layer maps it to 404.
var ErrNotFound = errors.New("store: not found")

// StoredRecord is one locally persisted chat record. Content is an opaque
// blob owned by the adapter that wrote it (the OpenAI-compatible adapter
// stores a small JSON document there).
type StoredRecord struct {
	ID             string
	ConversationID string
	FromRole       string
	Content        string
	CreatedAt      time.Time
}

// SharedConversation is a frozen, publicly addressable snapshot of a
// conversation's records at share time.
type SharedConversation struct {
	ID                   string    `json:"Id"`
	AccountID            string    `json:"AccountId"`
	ApplicationID        string    `json:"ApplicationId"`
	ParentConversationID string    `json:"ParentConversationId"`
	Records              string    `json:"Records"`
	CreatedAt            time.Time `json:"CreatedAt"`
}

// Store is the contract the gateway core needs from durable storage.
type Store interface {
	// CreateConversation persists a new conversation. conversationID may
	// be empty, in which case the store mints a UUID; vendors that assign
	// their own session id pass it through so both sides share one key.
	CreateConversation(ctx context.Context, accountID, applicationID, title, conversationID string) (message.Conversation, error)

	// GetConversation returns ErrNotFound for unknown ids.
	GetConversation(ctx context.Context, conversationID string) (message.Conversation, error)

	// TouchConversation bumps LastActiveAt and, when title is non-nil,
	// replaces the title. Returns the updated conversation.
	TouchConversation(ctx context.Context, conversationID string, title *string) (message.Conversation, error)

	// ListConversations returns the account's conversations, most
	// recently active first.
	ListConversations(ctx context.Context, accountID string) ([]message.Conversation, error)

	// AppendMessage persists one record at the end of a conversation.
	AppendMessage(ctx context.Context, conversationID, fromRole, content string) (StoredRecord, error)

	// ListMessages returns every record of a conversation in creation
	// order. Used to rebuild model context and to freeze shares.
	ListMessages(ctx context.Context, conversationID string) ([]StoredRecord, error)

	// ListMessagesPage returns up to limit records newest-first. A
	// non-empty beforeRecordID restricts the page to records older than
	// that record (backwards pagination).
	ListMessagesPage(ctx context.Context, conversationID string, limit int, beforeRecordID string) ([]StoredRecord, error)

	// CreateShare freezes records into a new share.
	CreateShare(ctx context.Context, accountID, applicationID, conversationID, records string) (SharedConversation, error)

	// GetShare returns ErrNotFound for unknown share ids.
	GetShare(ctx context.Context, shareID string) (SharedConversation, error)

	Close() error
}
