// Package stream maps orchestrator events to the outbound record format and
// frames them for Server-Sent Events.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/courier/internal/domain"
)

// Record types.
const (
	TypeToken = "token"
	TypeDone  = "done"
	TypeError = "error"
)

// ContentType is the media type of an SSE response.
const ContentType = "text/event-stream"

// ErrNotFlushable is returned when a ResponseWriter cannot flush.
var ErrNotFlushable = errors.New("stream: response writer does not support flushing")

// ErrEncode is returned when an event cannot be rendered as a record.
// Nothing was written, so it says nothing about the caller's connection.
var ErrEncode = errors.New("stream: cannot encode event")

// Metadata accompanies every record.
type Metadata struct {
	Agent             string          `json:"agent"`
	Timestamp         string          `json:"timestamp"`
	ConversationID    string          `json:"conversationId"`
	StructuredPayload json.RawMessage `json:"structuredPayload,omitempty"`
	ErrorKind         string          `json:"errorKind,omitempty"`
}

// Record is one outbound element of a response stream.
type Record struct {
	Type     string   `json:"type"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// NewRecord converts an event. Structured payloads are only carried on
// tokens; error records carry the caller-safe message, never raw errors.
func NewRecord(conversationID string, ev domain.StreamEvent, now time.Time) (Record, error) {
	agent := string(ev.Agent)
	if agent == "" {
		agent = string(domain.AgentSystem)
	}
	rec := Record{
		Type: string(ev.Kind),
		Metadata: Metadata{
			Agent:          agent,
			Timestamp:      now.UTC().Format(time.RFC3339),
			ConversationID: conversationID,
		},
	}

	switch ev.Kind {
	case domain.EventToken:
		rec.Content = ev.Text
		if ev.Payload != nil {
			raw, err := json.Marshal(ev.Payload)
			if err != nil {
				return Record{}, fmt.Errorf("%w: structured payload: %v", ErrEncode, err)
			}
			rec.Metadata.StructuredPayload = raw
		}
	case domain.EventDone:
	case domain.EventError:
		kind := domain.ErrUpstreamUnavailable
		if ev.Failure != nil {
			kind = ev.Failure.Kind
		}
		rec.Metadata.ErrorKind = string(kind)
		rec.Content = domain.SafeMessage(kind)
		if ev.Failure != nil && ev.Failure.Message != "" {
			rec.Content = ev.Failure.Message
		}
	default:
		return Record{}, fmt.Errorf("%w: unknown event kind %q", ErrEncode, ev.Kind)
	}
	return rec, nil
}

// Terminal reports whether the record ends its stream.
func (r Record) Terminal() bool {
	return r.Type == TypeDone || r.Type == TypeError
}

// EncodeSSE renders a record as one SSE block.
func EncodeSSE(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(data)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	return buf, nil
}

// WriteSSE writes rec as a single SSE block with one Write call.
func WriteSSE(w io.Writer, rec Record) error {
	block, err := EncodeSSE(rec)
	if err != nil {
		return err
	}
	_, err = w.Write(block)
	return err
}

// SSEWriter sends events for one conversation as SSE blocks, flushing after
// each. It is safe for concurrent use.
type SSEWriter struct {
	mu             sync.Mutex
	w              io.Writer
	flusher        http.Flusher
	conversationID string
	now            func() time.Time
	started        bool
}

// NewSSEWriter wraps w. Flushing is required so tokens are not buffered.
func NewSSEWriter(w http.ResponseWriter, conversationID string) (*SSEWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNotFlushable
	}
	return &SSEWriter{w: w, flusher: f, conversationID: conversationID, now: time.Now}, nil
}

// Start writes the SSE response headers. Send calls it implicitly.
func (s *SSEWriter) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start()
}

func (s *SSEWriter) start() {
	if s.started {
		return
	}
	s.started = true
	if rw, ok := s.w.(http.ResponseWriter); ok {
		h := rw.Header()
		h.Set("Content-Type", ContentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		rw.WriteHeader(http.StatusOK)
	}
}

// Send writes one event. A write error means the client is gone.
func (s *SSEWriter) Send(ev domain.StreamEvent) error {
	rec, err := NewRecord(s.conversationID, ev, s.now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start()
	if err := WriteSSE(s.w, rec); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// ReadRecords decodes SSE blocks from r and calls fn for each record until
// r is exhausted, fn returns an error, or a terminal record was handled.
// Comment lines and non-data fields are ignored.
func ReadRecords(r io.Reader, fn func(Record) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data bytes.Buffer
	dispatch := func() (bool, error) {
		if data.Len() == 0 {
			return false, nil
		}
		var rec Record
		err := json.Unmarshal(data.Bytes(), &rec)
		data.Reset()
		if err != nil {
			return false, fmt.Errorf("decode record: %w", err)
		}
		if err := fn(rec); err != nil {
			return false, err
		}
		return rec.Terminal(), nil
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			end, err := dispatch()
			if err != nil || end {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		if data.Len() > 0 {
			data.WriteByte('\n')
		}
		data.WriteString(strings.TrimPrefix(value, " "))
	}
	if err := sc.Err(); err != nil {
		return err
	}
	_, err := dispatch()
	return err
}
