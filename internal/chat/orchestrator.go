// Package chat runs one streaming chat turn end to end: resolve the
// application, validate the conversation, drive the vendor adapter, and
// relay its envelopes to the client in order.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tagentic/gateway/internal/directory"
	"github.com/tagentic/gateway/internal/message"
	"github.com/tagentic/gateway/internal/metrics"
	"github.com/tagentic/gateway/internal/store"
	"github.com/tagentic/gateway/internal/vendor"
)

// Titler synthesizes a short conversation title from the first exchange.
type Titler interface {
	Synthesize(ctx context.Context, query, reply string) (string, error)
}

// Request is one chat turn as received from the HTTP layer.
type Request struct {
	AccountID      string
	Query          string
	ConversationID string
	ApplicationID  string

	SearchNetwork   bool
	CustomVariables map[string]any
}

// Sink receives outbound envelopes in order. A Send error means the
// client connection is gone; the orchestrator cancels the turn and stops
// writing.
type Sink interface {
	Send(env message.Envelope) error
}

// Orchestrator coordinates turns across the directory, the store, the
// vendor adapters and the title synthesizer.
type Orchestrator struct {
	dir     *directory.Directory
	store   store.Store
	titler  Titler
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New constructs the orchestrator. titler may be nil, in which case new
// conversations keep an empty title until the client renames them.
func New(dir *directory.Directory, st store.Store, titler Titler, m *metrics.Metrics, log zerolog.Logger) *Orchestrator {
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &Orchestrator{
		dir:     dir,
		store:   st,
		titler:  titler,
		metrics: m,
		log:     log.With().Str("component", "orchestrator").Logger(),
	}
}

// turnCallback is the per-turn conversation lifecycle hook handed to the
// adapter. It enforces the create-once contract and remembers what was
// created so the post-stream phase can find it.
type turnCallback struct {
	store         store.Store
	accountID     string
	applicationID string

	mu      sync.Mutex
	created *message.Conversation
}

func (c *turnCallback) Create(ctx context.Context, title, vendorConversationID string) (message.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.created != nil {
		return message.Conversation{}, errors.New("chat: conversation already created this turn")
	}
	conv, err := c.store.CreateConversation(ctx, c.accountID, c.applicationID, title, vendorConversationID)
	if err != nil {
		return message.Conversation{}, err
	}
	c.created = &conv
	return conv, nil
}

func (c *turnCallback) Update(ctx context.Context, conversationID string, title *string) (message.Conversation, error) {
	return c.store.TouchConversation(ctx, conversationID, title)
}

func (c *turnCallback) conversation() (message.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.created == nil {
		return message.Conversation{}, false
	}
	return *c.created, true
}

// Stream runs one turn. Failures before the first envelope are returned
// to the caller, who can still answer with a plain HTTP status; once
// streaming has begun every failure is delivered in-band as a terminal
// error envelope and Stream returns nil.
func (o *Orchestrator) Stream(ctx context.Context, req Request, sink Sink) error {
	inst, err := o.dir.Lookup(req.ApplicationID)
	if err != nil {
		return err
	}
	log := o.log.With().
		Str("application_id", req.ApplicationID).
		Str("account_id", req.AccountID).
		Logger()

	isNew := req.ConversationID == ""
	var conv message.Conversation
	if !isNew {
		conv, err = o.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return err
		}
		// Another account's conversation id is indistinguishable from a
		// nonexistent one on purpose.
		if conv.AccountID != req.AccountID {
			return fmt.Errorf("%w: conversation %q", store.ErrNotFound, req.ConversationID)
		}
	}

	// The turn context feeds the adapter; cancelling it closes the
	// upstream connection when the client goes away mid-stream.
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cb := &turnCallback{
		store:         o.store,
		accountID:     req.AccountID,
		applicationID: req.ApplicationID,
	}
	start := time.Now()
	ch, err := inst.Vendor.Chat(turnCtx, vendor.ChatParams{
		AccountID:       req.AccountID,
		Query:           req.Query,
		ConversationID:  req.ConversationID,
		IsNew:           isNew,
		Callback:        cb,
		SearchNetwork:   req.SearchNetwork,
		CustomVariables: req.CustomVariables,
	})
	if err != nil {
		o.metrics.ChatTurns.WithLabelValues(inst.VendorName, "error").Inc()
		return err
	}

	var (
		reply           strings.Builder
		sawConversation = !isNew
		sinkDead        bool
		outcome         = "ok"
	)
	for env := range ch {
		o.metrics.Envelopes.WithLabelValues(string(env.Type)).Inc()
		if sinkDead {
			// Keep draining so the adapter goroutine can finish and
			// close the channel.
			continue
		}

		// On a new turn no content may precede the conversation
		// announcement; the client cannot attach content it has no
		// conversation for. A terminal error is exempt: upstream can
		// fail before the conversation ever comes into existence.
		if !sawConversation && env.Type != message.EventConversation && env.Type != message.EventError {
			log.Error().Str("type", string(env.Type)).Msg("content envelope before conversation announcement")
			_ = sink.Send(message.ErrorEnvelope("internal protocol error"))
			outcome = "error"
			sinkDead = true
			cancel()
			continue
		}

		switch env.Type {
		case message.EventConversation:
			sawConversation = true
			if cp, ok := env.Payload.(message.ConversationPayload); ok {
				conv = cp.Conversation
			}
		case message.EventReply:
			if rp, ok := env.Payload.(message.RecordPayload); ok {
				if !rp.Incremental {
					reply.Reset()
				}
				reply.WriteString(rp.Content)
			}
		case message.EventError:
			outcome = "error"
		}

		if err := sink.Send(env); err != nil {
			log.Warn().Err(err).Msg("client write failed, cancelling turn")
			outcome = "cancelled"
			sinkDead = true
			cancel()
		}
	}

	if ctx.Err() != nil && outcome == "ok" {
		outcome = "cancelled"
	}
	if outcome == "ok" && !sinkDead {
		o.finishTurn(ctx, log, req, cb, conv, isNew, reply.String(), sink)
	}

	o.metrics.ChatTurns.WithLabelValues(inst.VendorName, outcome).Inc()
	o.metrics.TurnDuration.WithLabelValues(inst.VendorName).Observe(time.Since(start).Seconds())
	return nil
}

// finishTurn runs the post-stream bookkeeping: bump the conversation on
// resumed turns, synthesize a title on first turns. Neither step may fail
// the turn: the content already reached the client.
func (o *Orchestrator) finishTurn(ctx context.Context, log zerolog.Logger, req Request, cb *turnCallback, conv message.Conversation, isNew bool, reply string, sink Sink) {
	if !isNew {
		touched, err := cb.Update(ctx, conv.ID, nil)
		if err != nil {
			log.Error().Err(err).Str("conversation_id", conv.ID).Msg("touching conversation")
			return
		}
		_ = sink.Send(message.ConversationEnvelope(touched, false))
		return
	}

	created, ok := cb.conversation()
	if !ok || o.titler == nil || reply == "" || created.Title != "" {
		return
	}
	title, err := o.titler.Synthesize(ctx, req.Query, reply)
	if err != nil || title == "" {
		log.Warn().Err(err).Msg("title synthesis failed")
		return
	}
	titled, err := cb.Update(ctx, created.ID, &title)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", created.ID).Msg("saving synthesized title")
		return
	}
	_ = sink.Send(message.ConversationEnvelope(titled, false))
}
