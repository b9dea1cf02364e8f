// Package persist writes conversation messages in the background so the
// streaming path never waits on storage.
package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/hooks"
	"github.com/soyeahso/courier/internal/logging"
)

// ErrClosed is reported for appends that arrive after Close.
var ErrClosed = errors.New("persist: sink closed")

// Store is the durable side the sink writes to and reads from.
type Store interface {
	Append(ctx context.Context, conversationID string, msg domain.Message) error
	RecentHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

// Options tune a Sink. Zero values select defaults.
type Options struct {
	WriteTimeout time.Duration // per write; default 10s
	QueueWarn    int           // backlog per conversation that triggers a warning; default 64
	Hooks        *hooks.Manager
}

// Sink accepts appends without blocking. Each conversation has a FIFO
// drained by at most one worker, so its messages are written in arrival
// order while different conversations write concurrently.
type Sink struct {
	store Store
	opts  Options
	log   *logging.Logger

	mu     sync.Mutex
	queues map[string][]domain.Message
	closed bool
	wg     sync.WaitGroup
}

// NewSink creates a sink over store.
func NewSink(store Store, opts Options, log *logging.Logger) *Sink {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.QueueWarn <= 0 {
		opts.QueueWarn = 64
	}
	return &Sink{
		store:  store,
		opts:   opts,
		log:    log.Sub("persist"),
		queues: make(map[string][]domain.Message),
	}
}

// Append schedules msg for writing and returns immediately.
func (s *Sink) Append(conversationID string, msg domain.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.fail(conversationID, msg, ErrClosed)
		return
	}

	q, running := s.queues[conversationID]
	q = append(q, msg)
	s.queues[conversationID] = q
	if !running {
		s.wg.Add(1)
		go s.drain(conversationID)
	}
	backlog := len(q)
	s.mu.Unlock()

	if backlog == s.opts.QueueWarn {
		s.log.Warn().
			Str("conversationId", conversationID).
			Int("backlog", backlog).
			Msg("persistence backlog growing")
	}
}

// drain writes queued messages for one conversation until its queue is
// empty, then exits. The map entry exists exactly while a worker runs.
func (s *Sink) drain(conversationID string) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		q := s.queues[conversationID]
		if len(q) == 0 {
			delete(s.queues, conversationID)
			s.mu.Unlock()
			return
		}
		msg := q[0]
		q[0] = domain.Message{}
		s.queues[conversationID] = q[1:]
		s.mu.Unlock()

		s.write(conversationID, msg)
	}
}

func (s *Sink) write(conversationID string, msg domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()

	if err := s.store.Append(ctx, conversationID, msg); err != nil {
		s.fail(conversationID, msg, err)
		return
	}
	s.log.Debug().
		Str("conversationId", conversationID).
		Str("role", string(msg.Role)).
		Str("agent", string(msg.Agent)).
		Msg("message persisted")
}

func (s *Sink) fail(conversationID string, msg domain.Message, err error) {
	s.log.Error().Err(err).
		Str("conversationId", conversationID).
		Str("role", string(msg.Role)).
		Str("agent", string(msg.Agent)).
		Msg("persist failed")

	if s.opts.Hooks != nil {
		s.opts.Hooks.EmitAsync(context.Background(), hooks.EventPersistFailed, map[string]any{
			"conversationId": conversationID,
			"role":           string(msg.Role),
			"agent":          string(msg.Agent),
			"error":          err.Error(),
		})
	}
}

// RecentHistory reads from the underlying store.
func (s *Sink) RecentHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	return s.store.RecentHistory(ctx, conversationID, limit)
}

// Close stops accepting appends and waits for queued writes or ctx.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued messages not yet picked up by a worker.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}
