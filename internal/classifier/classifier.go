// Package classifier maps a raw user message to an intent. Cheap ordered
// heuristics run first; a language model is consulted only when none fires.
package classifier

import (
	"context"
	"strings"
	"time"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/logging"
)

// Result sources other than matcher names.
const (
	SourceLLM     = "llm"
	SourceDefault = "default"
	SourceEmpty   = "empty"
)

// Result is the outcome of classification.
type Result struct {
	Intent   domain.Intent
	Source   string // matcher name, or one of the Source constants
	Degraded bool   // fallback failed and FAQ was substituted
}

// Fallback resolves messages no matcher recognized. It may perform I/O.
type Fallback interface {
	Classify(ctx context.Context, message string, history []domain.Message) (domain.Intent, error)
}

// Classifier runs matchers in priority order, then the fallback.
type Classifier struct {
	matchers []Matcher
	fallback Fallback
	timeout  time.Duration
	log      *logging.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithFallback sets the last-resort classifier and its time limit.
func WithFallback(f Fallback, timeout time.Duration) Option {
	return func(c *Classifier) {
		c.fallback = f
		c.timeout = timeout
	}
}

// WithMatchers replaces the default matcher list.
func WithMatchers(m []Matcher) Option {
	return func(c *Classifier) { c.matchers = m }
}

// New creates a classifier with DefaultMatchers.
func New(log *logging.Logger, opts ...Option) *Classifier {
	c := &Classifier{
		matchers: DefaultMatchers,
		timeout:  5 * time.Second,
		log:      log.Sub("classifier"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify never fails. Identical input yields identical output whenever a
// matcher fires.
func (c *Classifier) Classify(ctx context.Context, message string, history []domain.Message) Result {
	if strings.TrimSpace(message) == "" {
		return Result{Intent: domain.IntentFAQ, Source: SourceEmpty}
	}

	lower := strings.ToLower(message)
	for _, m := range c.matchers {
		if m.Match(message, lower) {
			return Result{Intent: m.Intent, Source: m.Name}
		}
	}

	if c.fallback == nil {
		return Result{Intent: domain.IntentFAQ, Source: SourceDefault}
	}

	fctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	intent, err := c.fallback.Classify(fctx, message, history)
	if err == nil && !intent.Valid() {
		err = errUnrecognized(string(intent))
	}
	if err != nil {
		c.log.Warn().Err(err).
			Str("kind", string(domain.ErrClassificationDegraded)).
			Msg("classification fallback failed, using FAQ")
		return Result{Intent: domain.IntentFAQ, Source: SourceLLM, Degraded: true}
	}
	return Result{Intent: intent, Source: SourceLLM}
}
