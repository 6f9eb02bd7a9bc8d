// Package message holds the unified message schema shared by every vendor
// adapter and the client-facing wire protocol.
//
// Each backend speaks its own JSON dialect; adapters translate everything
// into these types, so the orchestrator, the HTTP layer, and the store
// never need to know which vendor produced an event. The JSON keys are
// PascalCase because that is the wire format the web client consumes.
package message

import "time"

// ApplicationInfo is the display metadata for one configured application.
// Produced by a vendor adapter's Info call and published wholesale by the
// metadata cache. Snapshots are replaced, never patched in place.
type ApplicationInfo struct {
	ApplicationID    string   `json:"ApplicationId"`
	Name             string   `json:"Name"`
	Avatar           string   `json:"Avatar,omitempty"`
	Greeting         string   `json:"Greeting,omitempty"`
	OpeningQuestions []string `json:"OpeningQuestions,omitempty"`
}

// MsgRecord is the unified message record. Every vendor adapter maps its
// native event JSON into this shape; it is the only record type the rest
// of the gateway handles.
type MsgRecord struct {
	RecordID        string `json:"RecordId,omitempty"`
	RelatedRecordID string `json:"RelatedRecordId,omitempty"`
	Content         string `json:"Content,omitempty"`

	// IsFromSelf marks messages written by the caller (the account),
	// as opposed to messages generated by the application.
	IsFromSelf bool `json:"IsFromSelf,omitempty"`

	// IsFinal distinguishes a terminal full message from an in-progress
	// delta. Adapters that only ever emit deltas leave it false until the
	// stream ends.
	IsFinal bool `json:"IsFinal,omitempty"`

	// CanRating reports whether the record accepts feedback via Rate.
	CanRating bool `json:"CanRating,omitempty"`

	// Timestamp is seconds since the Unix epoch.
	Timestamp int64 `json:"Timestamp,omitempty"`

	TokenStat    *TokenStat   `json:"TokenStat,omitempty"`
	AgentThought *AgentThought `json:"AgentThought,omitempty"`
	References   []Reference  `json:"References,omitempty"`
}

// TokenStat carries per-record token usage reported by the vendor.
type TokenStat struct {
	RecordID   string      `json:"RecordId,omitempty"`
	SessionID  string      `json:"SessionId,omitempty"`
	TokenCount int         `json:"TokenCount,omitempty"`
	Elapsed    int         `json:"Elapsed,omitempty"`
	UsedCount  int         `json:"UsedCount,omitempty"`
	Procedures []Procedure `json:"Procedures,omitempty"`
}

// Procedure is one step in the vendor's processing pipeline as reported
// inside a token_stat event.
type Procedure struct {
	Name   string `json:"Name,omitempty"`
	Title  string `json:"Title,omitempty"`
	Status string `json:"Status,omitempty"`
	Count  int    `json:"Count,omitempty"`
}

// AgentThought is the reasoning/debug trace attached to thought events.
type AgentThought struct {
	RecordID   string             `json:"RecordId,omitempty"`
	SessionID  string             `json:"SessionId,omitempty"`
	Elapsed    int                `json:"Elapsed,omitempty"`
	Procedures []ThoughtProcedure `json:"Procedures,omitempty"`
}

// ThoughtProcedure is one reasoning step inside an AgentThought.
type ThoughtProcedure struct {
	Index     int              `json:"Index,omitempty"`
	Name      string           `json:"Name,omitempty"`
	Title     string           `json:"Title,omitempty"`
	Status    string           `json:"Status,omitempty"`
	Debugging *ThoughtDebugging `json:"Debugging,omitempty"`
}

// ThoughtDebugging holds the free-text body of one reasoning step.
type ThoughtDebugging struct {
	Content        string `json:"Content,omitempty"`
	DisplayContent string `json:"DisplayContent,omitempty"`
}

// Reference is one citation attached to a reply.
type Reference struct {
	ID   string `json:"Id,omitempty"`
	Name string `json:"Name,omitempty"`
	URL  string `json:"Url,omitempty"`
	Type int    `json:"Type,omitempty"`
}

// Conversation is a persisted thread between one account and one
// application. It is owned by the storage collaborator; the orchestrator
// only ever touches it through the conversation callback.
type Conversation struct {
	ID            string    `json:"Id"`
	AccountID     string    `json:"AccountId"`
	ApplicationID string    `json:"ApplicationId"`
	Title         string    `json:"Title"`
	LastActiveAt  time.Time `json:"LastActiveAt"`
	CreatedAt     time.Time `json:"CreatedAt"`
}
