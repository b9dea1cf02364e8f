package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/logging"
	"github.com/soyeahso/courier/internal/store"
)

const (
	faqGuidance     = "How can I help? You can ask about shipping policies, customs, prohibited items, pickups and more."
	faqHistoryTurns = 5
	referenceChars  = 500
)

// KnowledgeSearcher retrieves passages relevant to a question.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]store.KnowledgeChunk, error)
}

// FAQAgent answers general questions from the knowledge base.
type FAQAgent struct {
	knowledge KnowledgeSearcher
	maxChunks int
	gen       Generation
	log       *logging.Logger
}

// NewFAQAgent creates the FAQ agent. knowledge may be nil.
func NewFAQAgent(knowledge KnowledgeSearcher, maxChunks int, gen Generation, log *logging.Logger) *FAQAgent {
	if maxChunks <= 0 {
		maxChunks = 3
	}
	return &FAQAgent{
		knowledge: knowledge,
		maxChunks: maxChunks,
		gen:       gen,
		log:       log.Sub("agent").With("agent", string(domain.AgentFAQ)),
	}
}

func (a *FAQAgent) Name() domain.AgentTag { return domain.AgentFAQ }

func (a *FAQAgent) Stream(ctx context.Context, rc *domain.RequestContext) <-chan domain.StreamEvent {
	return run(ctx, a.Name(), func(em emitter) { a.answer(em, rc) })
}

func (a *FAQAgent) answer(em emitter, rc *domain.RequestContext) {
	if strings.TrimSpace(rc.RawMessage) == "" {
		em.reply(faqGuidance, nil)
		return
	}

	var refs []store.KnowledgeChunk
	if a.knowledge != nil {
		var err error
		refs, err = a.knowledge.Search(em.ctx, rc.RawMessage, a.maxChunks)
		if err != nil {
			a.log.Warn().Err(err).Msg("knowledge search failed, answering without references")
			refs = nil
		}
	}
	if em.ctx.Err() != nil {
		return
	}
	a.log.Debug().Int("references", len(refs)).Str("conversationId", rc.ConversationID).Msg("faq context")

	system := BuildSystemPrompt(PromptConfig{
		Role: "customer support",
		Guidelines: []string{
			"Answer using the references when they are relevant and cite them as [Reference n].",
			"If the references do not cover the question, say you are not sure and suggest contacting customer service.",
			"Keep answers short.",
		},
		References:  FormatReferences(refs),
		ExtraPrompt: a.gen.SystemPrompt,
	})

	req := a.gen.request(system, conversationTurns(rc, faqHistoryTurns))
	relayCompletion(em, a.gen, req, nil, "", a.log)
}

// FormatReferences renders knowledge chunks for a prompt. Content is
// truncated to keep the prompt bounded.
func FormatReferences(chunks []store.KnowledgeChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n")
		}
		content := c.Content
		if r := []rune(content); len(r) > referenceChars {
			content = string(r[:referenceChars]) + "..."
		}
		fmt.Fprintf(&b, "[Reference %d]\nTitle: %s\n", i+1, c.Title)
		if c.URL != "" {
			fmt.Fprintf(&b, "Source: %s\n", c.URL)
		}
		fmt.Fprintf(&b, "Content: %s\n", content)
	}
	return b.String()
}
