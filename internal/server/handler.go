package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/tagentic/gateway/internal/chat"
	"github.com/tagentic/gateway/internal/directory"
	"github.com/tagentic/gateway/internal/message"
	"github.com/tagentic/gateway/internal/sse"
	"github.com/tagentic/gateway/internal/store"
	"github.com/tagentic/gateway/internal/vendor"
)

type contextKey string

const accountKey contextKey = "account"

// requireAccount pulls the caller identity from the X-Account-Id header.
// Session and token auth live in a fronting layer; by the time a request
// reaches the gateway the account id is trusted.
func (s *Server) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := r.Header.Get("X-Account-Id")
		if account == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Account-Id header")
			return
		}
		ctx := context.WithValue(r.Context(), accountKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountID(r *http.Request) string {
	v, _ := r.Context().Value(accountKey).(string)
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, message.ErrorPayload{Error: message.ErrorDetail{Message: msg}})
}

// statusFor maps pre-stream operation errors onto HTTP statuses: missing
// things are the caller's problem, unsupported capabilities are 501, and
// everything else is an upstream fault.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, directory.ErrUnknownApplication):
		return http.StatusNotFound
	case errors.Is(err, vendor.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"Applications": s.cache.Apps()})
}

// --- chat ---

type chatMessageRequest struct {
	ApplicationID   string         `json:"ApplicationId"`
	ConversationID  string         `json:"ConversationId"`
	Content         string         `json:"Content"`
	SearchNetwork   *bool          `json:"SearchNetwork"`
	CustomVariables map[string]any `json:"CustomVariables"`
}

// sseSink adapts the response writer into the orchestrator's sink. The
// stream headers go out lazily on the first envelope, so failures before
// any content can still be reported as a plain HTTP status.
type sseSink struct {
	w       http.ResponseWriter
	sw      *sse.Writer
	started bool
}

func (s *sseSink) Send(env message.Envelope) error {
	if !s.started {
		sse.SetStreamHeaders(s.w.Header())
		s.w.WriteHeader(http.StatusOK)
		s.sw = sse.NewWriter(s.w)
		s.started = true
	}
	return s.sw.WriteEvent(env)
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "Content is required")
		return
	}
	if req.ApplicationID == "" {
		writeError(w, http.StatusBadRequest, "ApplicationId is required")
		return
	}

	// Internet search is on unless the client switches it off.
	searchNetwork := true
	if req.SearchNetwork != nil {
		searchNetwork = *req.SearchNetwork
	}

	sink := &sseSink{w: w}
	err := s.orch.Stream(r.Context(), chat.Request{
		AccountID:       accountID(r),
		Query:           req.Content,
		ConversationID:  req.ConversationID,
		ApplicationID:   req.ApplicationID,
		SearchNetwork:   searchNetwork,
		CustomVariables: req.CustomVariables,
	}, sink)
	if err != nil {
		s.log.Error().Err(err).Str("application_id", req.ApplicationID).Msg("chat turn failed before streaming")
		if !sink.started {
			writeError(w, statusFor(err), err.Error())
		}
	}
}

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// A share id serves the frozen snapshot; no ownership check, shares
	// are addressable by anyone holding the id.
	if shareID := q.Get("ShareId"); shareID != "" {
		share, err := s.store.GetShare(r.Context(), shareID)
		if err != nil {
			writeError(w, statusFor(err), "share not found")
			return
		}
		var records []message.MsgRecord
		if err := json.Unmarshal([]byte(share.Records), &records); err != nil {
			s.log.Error().Err(err).Str("share_id", shareID).Msg("decoding frozen share records")
			writeError(w, http.StatusInternalServerError, "corrupt share")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"Records": records})
		return
	}

	// Reading by conversation id still needs a caller identity. This
	// route sits outside requireAccount for the share branch above.
	account := r.Header.Get("X-Account-Id")
	if account == "" {
		writeError(w, http.StatusUnauthorized, "missing X-Account-Id header")
		return
	}
	conversationID := q.Get("ConversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "ConversationId or ShareId is required")
		return
	}
	inst, conv, err := s.resolveConversation(r, account, conversationID)
	if err != nil {
		writeError(w, statusFor(err), "conversation not found")
		return
	}

	limit := 20
	if raw := q.Get("Limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := inst.Vendor.Messages(r.Context(), vendor.MessagesParams{
		AccountID:      account,
		ConversationID: conv.ID,
		Limit:          limit,
		LastRecordID:   q.Get("LastRecordId"),
	})
	if err != nil {
		s.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("fetching history")
		writeError(w, statusFor(err), "failed to fetch history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Records": records})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.store.ListConversations(r.Context(), accountID(r))
	if err != nil {
		s.log.Error().Err(err).Msg("listing conversations")
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if conversations == nil {
		conversations = []message.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"Conversations": conversations})
}

type shareRequest struct {
	ConversationID string `json:"ConversationId"`
}

// handleShare freezes the conversation's current history into a new,
// independently addressable snapshot. Later turns do not change it.
func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "ConversationId is required")
		return
	}
	inst, conv, err := s.resolveConversation(r, accountID(r), req.ConversationID)
	if err != nil {
		writeError(w, statusFor(err), "conversation not found")
		return
	}

	records, err := inst.Vendor.Messages(r.Context(), vendor.MessagesParams{
		AccountID:      accountID(r),
		ConversationID: conv.ID,
		Limit:          100,
	})
	if err != nil {
		s.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("fetching history for share")
		writeError(w, statusFor(err), "failed to fetch history")
		return
	}
	frozen, err := json.Marshal(records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to freeze records")
		return
	}
	share, err := s.store.CreateShare(r.Context(), accountID(r), conv.ApplicationID, conv.ID, string(frozen))
	if err != nil {
		s.log.Error().Err(err).Msg("creating share")
		writeError(w, http.StatusInternalServerError, "failed to create share")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"Share": share})
}

type rateRequest struct {
	ConversationID string `json:"ConversationId"`
	RecordID       string `json:"RecordId"`
	Score          int    `json:"Score"`
	Comment        string `json:"Comment"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" || req.RecordID == "" {
		writeError(w, http.StatusBadRequest, "ConversationId and RecordId are required")
		return
	}
	if req.Score < 0 || req.Score > 2 {
		writeError(w, http.StatusBadRequest, "Score must be 0, 1 or 2")
		return
	}
	inst, conv, err := s.resolveConversation(r, accountID(r), req.ConversationID)
	if err != nil {
		writeError(w, statusFor(err), "conversation not found")
		return
	}
	err = inst.Vendor.Rate(r.Context(), vendor.RateParams{
		AccountID:      accountID(r),
		ConversationID: conv.ID,
		RecordID:       req.RecordID,
		Score:          req.Score,
		Comment:        req.Comment,
	})
	if err != nil {
		writeError(w, statusFor(err), "failed to record feedback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- files ---

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	applicationID := r.FormValue("ApplicationId")
	if applicationID == "" {
		writeError(w, http.StatusBadRequest, "ApplicationId is required")
		return
	}
	inst, err := s.dir.Lookup(applicationID)
	if err != nil {
		writeError(w, statusFor(err), "application not found")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	url, err := inst.Vendor.Upload(r.Context(), file, accountID(r), header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, statusFor(err), "upload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"Url": url})
}

// resolveConversation loads a conversation, enforces ownership, and
// resolves the instance serving it. Foreign conversations read as absent.
func (s *Server) resolveConversation(r *http.Request, account, conversationID string) (directory.Instance, message.Conversation, error) {
	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		return directory.Instance{}, message.Conversation{}, err
	}
	if conv.AccountID != account {
		return directory.Instance{}, message.Conversation{}, store.ErrNotFound
	}
	inst, err := s.dir.Lookup(conv.ApplicationID)
	if err != nil {
		return directory.Instance{}, message.Conversation{}, err
	}
	return inst, conv, nil
}
