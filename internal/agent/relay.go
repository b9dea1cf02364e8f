package agent

import (
	"context"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/llm"
	"github.com/soyeahso/courier/internal/logging"
)

// relayCompletion streams a generation to em as tokens and ends the
// sequence. payload rides on the first token. When the generation cannot
// produce any text, fallback (if non-empty) is sent instead of an error.
//
// Failure mapping: nothing generated yet means UpstreamUnavailable; a
// stream that breaks after text was sent means GenerationInterrupted.
func relayCompletion(em emitter, gen Generation, req llm.CompletionRequest, payload any, fallback string, log *logging.Logger) {
	unavailable := func(reason string) {
		log.Warn().Str("agent", string(em.tag)).Str("reason", reason).Msg("generation unavailable")
		if fallback != "" {
			em.reply(fallback, payload)
			return
		}
		em.fail(domain.ErrUpstreamUnavailable)
	}

	if gen.Client == nil {
		unavailable("no generation client")
		return
	}

	ctx := em.ctx
	if gen.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, gen.Timeout)
		defer cancel()
	}

	ch, err := gen.Client.Stream(ctx, req)
	if err != nil {
		unavailable(err.Error())
		return
	}

	sent := false
	emitText := func(text string) bool {
		var p any
		if !sent {
			p = payload
		}
		sent = true
		return em.token(text, p)
	}

	for {
		select {
		case <-em.ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				switch {
				case em.ctx.Err() != nil:
				case ctx.Err() != nil && sent:
					log.Warn().Str("agent", string(em.tag)).Msg("generation timed out mid-stream")
					em.fail(domain.ErrGenerationInterrupted)
				case ctx.Err() != nil || !sent:
					unavailable("stream closed without output")
				default:
					em.done()
				}
				return
			}

			switch ev.Type {
			case llm.EventDelta:
				if ev.Content == "" {
					continue
				}
				if !emitText(ev.Content) {
					return
				}
			case llm.EventDone:
				// Providers that do not stream deliver the whole text here.
				if !sent && ev.Response != nil && ev.Response.Content != "" {
					if !emitText(ev.Response.Content) {
						return
					}
				}
				if !sent {
					unavailable("empty generation")
					return
				}
				em.done()
				return
			case llm.EventError:
				if !sent {
					unavailable(ev.Error)
					return
				}
				log.Warn().Str("agent", string(em.tag)).Str("error", ev.Error).Msg("generation interrupted")
				em.fail(domain.ErrGenerationInterrupted)
				return
			}
		}
	}
}
