// Package sse is the line-oriented Server-Sent-Events codec shared by the
// chat orchestrator and every vendor adapter.
//
// The decode side reads an upstream response body incrementally and yields
// raw "data:" payloads; the encode side writes one "data: <json>\n\n"
// frame per outbound envelope and flushes it immediately so the client
// sees events in real time.
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrSkipEvent marks a single upstream event that failed to translate and
// should be dropped without terminating the stream. Adapters return it
// (wrapped or bare) from their per-event translation so the read loop can
// tell recoverable noise from a fatal stream error.
var ErrSkipEvent = errors.New("sse: skip event")

// Scanner reads an upstream SSE body one line at a time.
//
// It uses a bufio.Reader rather than bufio.Scanner: vendor events can be
// arbitrarily large JSON documents and Scanner's default token limit would
// turn a long reply into a hard failure.
type Scanner struct {
	r *bufio.Reader
}

// NewScanner wraps an upstream response body.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Next returns the payload of the next data line.
//
// Per the SSE grammar a line is "<field>:<value>"; lines without a colon
// are keep-alives or blank separators and are discarded, as are fields
// other than "data" (comment lines start with ":" and yield an empty
// field name). The returned payload has surrounding whitespace trimmed.
// io.EOF is returned when the body ends; any other error means the
// upstream connection broke mid-stream.
func (s *Scanner) Next() (string, error) {
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) != "" {
				// Body ended without a trailing newline; still honor a
				// final data line before reporting EOF on the next call.
				if payload, ok := dataPayload(line); ok {
					return payload, nil
				}
			}
			return "", err
		}
		if payload, ok := dataPayload(line); ok {
			return payload, nil
		}
	}
}

// dataPayload extracts the value of a data line, reporting false for every
// other line shape.
func dataPayload(line string) (string, bool) {
	field, value, found := strings.Cut(line, ":")
	if !found || field != "data" {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// Writer encodes outbound envelopes as SSE frames.
//
// When the underlying writer implements http.Flusher every frame is pushed
// to the client immediately; otherwise (bytes.Buffer in tests) writes are
// plain. Construct one per response and do not share across goroutines.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps any writer, flushing per frame when supported.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// SetStreamHeaders sets the response headers that mark this response as a
// long-lived event stream. Must be called before the first frame is
// written; headers are locked in once the body starts.
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

// WriteEvent serializes v as JSON and writes exactly one SSE frame. The
// blank line after the payload is what tells the client the event is
// complete.
func (w *Writer) WriteEvent(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling sse event: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", body); err != nil {
		return fmt.Errorf("writing sse event: %w", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
