package message

// EventType is the discriminator of the outbound envelope union. The
// values are part of the wire protocol the web client consumes and must
// not change.
type EventType string

const (
	// EventReply is assistant-visible answer text.
	EventReply EventType = "reply"
	// EventThought is intermediate reasoning shown in the "thinking" UI.
	EventThought EventType = "thought"
	// EventReference carries citation material for the current reply.
	EventReference EventType = "reference"
	// EventTokenStat carries token usage statistics.
	EventTokenStat EventType = "token_stat"
	// EventError terminates the stream; no content envelopes follow it.
	EventError EventType = "error"
	// EventConversation announces a created or updated conversation.
	EventConversation EventType = "conversation"
)

// Envelope is one outbound client event: a type tag plus a payload whose
// shape depends on the tag. Exactly one SSE frame is written per envelope.
type Envelope struct {
	Type    EventType `json:"Type"`
	Payload any       `json:"Payload"`
}

// RecordPayload wraps a MsgRecord for the four content event types.
// Incremental tells the client whether Content is a delta to append or a
// complete replacement of the accumulated record.
type RecordPayload struct {
	MsgRecord
	Incremental bool `json:"Incremental"`
}

// ConversationPayload wraps a Conversation for conversation events.
type ConversationPayload struct {
	Conversation
	IsNewConversation bool `json:"IsNewConversation"`
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	Error ErrorDetail `json:"Error"`
}

// ErrorDetail carries the user-facing error text.
type ErrorDetail struct {
	Message string `json:"Message"`
}

// RecordEnvelope builds a content envelope. Valid types are EventReply,
// EventThought, EventReference and EventTokenStat.
func RecordEnvelope(t EventType, rec MsgRecord, incremental bool) Envelope {
	return Envelope{
		Type:    t,
		Payload: RecordPayload{MsgRecord: rec, Incremental: incremental},
	}
}

// ConversationEnvelope builds a conversation envelope. isNew marks the
// create announcement of a new conversation, as opposed to a later update
// (touch or synthesized title).
func ConversationEnvelope(conv Conversation, isNew bool) Envelope {
	return Envelope{
		Type:    EventConversation,
		Payload: ConversationPayload{Conversation: conv, IsNewConversation: isNew},
	}
}

// ErrorEnvelope builds the terminal error envelope for a failed stream.
func ErrorEnvelope(msg string) Envelope {
	return Envelope{
		Type:    EventError,
		Payload: ErrorPayload{Error: ErrorDetail{Message: msg}},
	}
}
