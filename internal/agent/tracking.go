package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/courier/internal/backend"
	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/llm"
	"github.com/soyeahso/courier/internal/logging"
)

const (
	trackingGuidance = "Please provide a valid AWB number to track your shipment. You can type it or upload an image of your waybill."
	maxAWBsPerTurn   = 10
)

// TrackingAgent answers shipment status questions.
type TrackingAgent struct {
	tracker       backend.Tracker
	gen           Generation
	lookupTimeout time.Duration
	log           *logging.Logger
}

// NewTrackingAgent creates the tracking agent. lookupTimeout bounds one
// Track call; zero means no extra bound.
func NewTrackingAgent(tracker backend.Tracker, gen Generation, lookupTimeout time.Duration, log *logging.Logger) *TrackingAgent {
	return &TrackingAgent{
		tracker:       tracker,
		gen:           gen,
		lookupTimeout: lookupTimeout,
		log:           log.Sub("agent").With("agent", string(domain.AgentTracking)),
	}
}

func (a *TrackingAgent) Name() domain.AgentTag { return domain.AgentTracking }

func (a *TrackingAgent) Stream(ctx context.Context, rc *domain.RequestContext) <-chan domain.StreamEvent {
	return run(ctx, a.Name(), func(em emitter) { a.answer(em, rc) })
}

func (a *TrackingAgent) answer(em emitter, rc *domain.RequestContext) {
	awbs := collectAWBs(rc)
	if len(awbs) == 0 {
		a.log.Info().Str("conversationId", rc.ConversationID).Msg("no AWB found")
		em.reply(trackingGuidance, nil)
		return
	}
	if len(awbs) > maxAWBsPerTurn {
		awbs = awbs[:maxAWBsPerTurn]
	}

	lookupCtx := em.ctx
	if a.lookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(em.ctx, a.lookupTimeout)
		defer cancel()
	}

	a.log.Info().Str("conversationId", rc.ConversationID).Strs("awbs", awbs).Msg("tracking request")
	results, err := a.tracker.Track(lookupCtx, awbs)
	if em.ctx.Err() != nil {
		return
	}
	if err != nil {
		a.log.Error().Err(err).Strs("awbs", awbs).Msg("tracking backend failed")
		em.fail(domain.ErrUpstreamUnavailable)
		return
	}
	if allFailed(results) {
		a.log.Error().Str("error", results[0].ErrorMessage).Strs("awbs", awbs).Msg("tracking unavailable for every AWB")
		em.fail(domain.ErrUpstreamUnavailable)
		return
	}

	summaries := make([]string, len(results))
	for i, r := range results {
		summaries[i] = r.Summary()
	}
	fallback := strings.Join(summaries, "\n\n")

	data, _ := json.MarshalIndent(promptView(results), "", "  ")
	user := fmt.Sprintf("User asked: %s\n\nTracking data:\n%s\n\nGenerate a helpful response about the shipment status.", rc.RawMessage, data)
	system := BuildSystemPrompt(PromptConfig{
		Role: "shipment tracking",
		Guidelines: []string{
			"Answer the user's question using the tracking data provided.",
			"Include the current status, location and the most recent events.",
			"If an AWB has no events, say so and suggest checking the number.",
		},
		ExtraPrompt: a.gen.SystemPrompt,
	})

	payload := map[string]any{"shipments": results}
	req := a.gen.request(system, []llm.Message{{Role: llm.RoleUser, Content: user}})
	relayCompletion(em, a.gen, req, payload, fallback, a.log)
}

// collectAWBs gathers waybill numbers from the message, the attachment's
// extracted data, and, failing both, the previous user message.
func collectAWBs(rc *domain.RequestContext) []string {
	awbs := domain.ExtractAWBs(rc.RawMessage)
	if awb := strings.TrimSpace(rc.Attachment.Extracted("awb")); awb != "" {
		found := false
		for _, x := range awbs {
			if x == awb {
				found = true
				break
			}
		}
		if !found {
			awbs = append(awbs, awb)
		}
	}
	if len(awbs) == 0 {
		awbs = domain.ExtractAWBs(priorUserMessage(rc))
	}
	return awbs
}

func allFailed(results []backend.TrackingResult) bool {
	if len(results) == 0 {
		return true
	}
	for _, r := range results {
		if !r.Failed() {
			return false
		}
	}
	return true
}

type trackingPromptEntry struct {
	AWB          string               `json:"awb"`
	Status       string               `json:"status"`
	Location     string               `json:"location,omitempty"`
	LastUpdate   string               `json:"last_update,omitempty"`
	Error        string               `json:"error,omitempty"`
	RecentEvents []backend.Checkpoint `json:"recent_events,omitempty"`
}

// promptView trims results to what the model needs.
func promptView(results []backend.TrackingResult) []trackingPromptEntry {
	out := make([]trackingPromptEntry, 0, len(results))
	for _, r := range results {
		e := trackingPromptEntry{AWB: r.AWB, Status: r.StatusText, Location: r.CurrentLocation}
		if e.Status == "" {
			e.Status = string(r.Status)
		}
		if !r.LastUpdate.IsZero() {
			e.LastUpdate = r.LastUpdate.Format(time.DateTime)
		}
		if r.ErrorCode != "" {
			e.Error = r.ErrorMessage
		}
		e.RecentEvents = r.Checkpoints[:min(len(r.Checkpoints), 5)]
		out = append(out, e)
	}
	return out
}
