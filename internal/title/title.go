// Package title synthesizes short conversation titles from the first
// exchange of a conversation, using a streaming chat-completions model.
package title

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tagentic/gateway/internal/sse"
)

// systemPrompt keeps the model on task. The title language follows the
// conversation language because the exchange itself is the prompt body.
const systemPrompt = "You title conversations. Reply with a concise title " +
	"of at most ten words in the language of the conversation. Output the " +
	"title only, without quotes or trailing punctuation."

const maxTitleRunes = 50

// Config selects the model endpoint used for synthesis. It is usually a
// small, cheap model independent of the chat vendors.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Synthesizer produces conversation titles. Failures are expected to be
// tolerated by the caller: a missing title never fails a chat turn.
type Synthesizer struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

// New constructs the synthesizer.
func New(cfg Config, client *http.Client, log zerolog.Logger) *Synthesizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Synthesizer{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "title").Logger(),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Synthesize runs one bounded streaming completion over the first
// exchange and returns the accumulated title.
func (s *Synthesizer) Synthesize(ctx context.Context, query, reply string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("User: %s\n\nAssistant: %s", query, reply)},
		},
		Stream: true,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling title request: %w", err)
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating title request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending title request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		errText, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("title endpoint error (status %d): %s", resp.StatusCode, errText)
	}

	var acc strings.Builder
	scanner := sse.NewScanner(resp.Body)
	for {
		payload, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading title stream: %w", err)
		}
		if payload == "[DONE]" {
			break
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			s.log.Warn().Err(err).Msg("skipping malformed title chunk")
			continue
		}
		if len(chunk.Choices) > 0 {
			acc.WriteString(chunk.Choices[0].Delta.Content)
		}
	}

	return clean(acc.String()), nil
}

// clean normalizes model output into something fit for a list view.
func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxTitleRunes {
		s = string(runes[:maxTitleRunes])
	}
	return strings.TrimSpace(s)
}
