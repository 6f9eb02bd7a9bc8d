package sse

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, s *Scanner) []string {
	t.Helper()
	var out []string
	for {
		payload, err := s.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, payload)
	}
}

func TestScannerYieldsDataPayloads(t *testing.T) {
	body := "data: one\n\ndata: two\n\ndata: three\n\n"
	payloads := readAll(t, NewScanner(strings.NewReader(body)))
	assert.Equal(t, []string{"one", "two", "three"}, payloads)
}

func TestScannerSkipsNonDataLines(t *testing.T) {
	body := strings.Join([]string{
		": keep-alive comment",
		"event: message",
		"id: 42",
		"data: payload",
		"",
		"garbage line without separator",
		"data: second",
		"",
	}, "\n")
	payloads := readAll(t, NewScanner(strings.NewReader(body)))
	assert.Equal(t, []string{"payload", "second"}, payloads)
}

func TestScannerHonorsFinalLineWithoutNewline(t *testing.T) {
	body := "data: first\ndata: last"
	payloads := readAll(t, NewScanner(strings.NewReader(body)))
	assert.Equal(t, []string{"first", "last"}, payloads)
}

func TestScannerTrimsPayloadWhitespace(t *testing.T) {
	payloads := readAll(t, NewScanner(strings.NewReader("data:   padded   \n")))
	assert.Equal(t, []string{"padded"}, payloads)
}

func TestScannerHandlesLongLines(t *testing.T) {
	// Far beyond bufio.Scanner's default 64KiB token limit.
	long := strings.Repeat("x", 256*1024)
	payloads := readAll(t, NewScanner(strings.NewReader("data: "+long+"\n")))
	require.Len(t, payloads, 1)
	assert.Equal(t, long, payloads[0])
}

func TestScannerEmptyBody(t *testing.T) {
	_, err := NewScanner(strings.NewReader("")).Next()
	assert.Equal(t, io.EOF, err)
}

func TestWriterFramesAndOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteEvent(map[string]string{"Type": "reply"}))
	require.NoError(t, w.WriteEvent(map[string]string{"Type": "error"}))

	assert.Equal(t,
		"data: {\"Type\":\"reply\"}\n\ndata: {\"Type\":\"error\"}\n\n",
		buf.String())
}

func TestWriterRejectsUnmarshalableValue(t *testing.T) {
	var buf bytes.Buffer
	err := NewWriter(&buf).WriteEvent(make(chan int))
	require.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestWriterRoundTripsThroughScanner(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteEvent(map[string]any{"Type": "reply", "Payload": map[string]any{"Content": "hi"}}))

	payloads := readAll(t, NewScanner(&buf))
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0], `"Content":"hi"`)
}

func TestSetStreamHeaders(t *testing.T) {
	h := http.Header{}
	SetStreamHeaders(h)
	assert.Equal(t, "text/event-stream; charset=utf-8", h.Get("Content-Type"))
	assert.Equal(t, "no-cache", h.Get("Cache-Control"))
}
