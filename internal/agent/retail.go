package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/courier/internal/backend"
	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/llm"
	"github.com/soyeahso/courier/internal/logging"
)

const retailGuidance = "Which city are you in? Tell me the city, for example \"branches in Riyadh\", and I'll list the nearest service centers."

var cityRe = regexp.MustCompile(`(?i)\b(?:in|near|at|around)\s+([a-z][a-z .'-]{1,40}?)\s*(?:$|[?.!,;]|\b(?:city|area|please|today|now)\b)`)

// knownCities are recognized without a preposition.
var knownCities = compileCities(
	"riyadh", "jeddah", "dammam", "khobar", "al khobar", "dhahran", "mecca", "makkah",
	"medina", "madinah", "taif", "tabuk", "abha", "buraidah", "hail", "jazan", "najran",
	"yanbu", "jubail", "hofuf", "khamis mushait", "qatif",
)

type cityPattern struct {
	name string
	re   *regexp.Regexp
}

func compileCities(names ...string) []cityPattern {
	out := make([]cityPattern, len(names))
	for i, n := range names {
		out[i] = cityPattern{name: n, re: regexp.MustCompile(`\b` + regexp.QuoteMeta(n) + `\b`)}
	}
	return out
}

// RetailAgent lists service centers in a city.
type RetailAgent struct {
	finder        backend.CenterFinder
	gen           Generation
	lookupTimeout time.Duration
	log           *logging.Logger
}

// NewRetailAgent creates the retail centers agent.
func NewRetailAgent(finder backend.CenterFinder, gen Generation, lookupTimeout time.Duration, log *logging.Logger) *RetailAgent {
	return &RetailAgent{
		finder:        finder,
		gen:           gen,
		lookupTimeout: lookupTimeout,
		log:           log.Sub("agent").With("agent", string(domain.AgentRetail)),
	}
}

func (a *RetailAgent) Name() domain.AgentTag { return domain.AgentRetail }

func (a *RetailAgent) Stream(ctx context.Context, rc *domain.RequestContext) <-chan domain.StreamEvent {
	return run(ctx, a.Name(), func(em emitter) { a.answer(em, rc) })
}

func (a *RetailAgent) answer(em emitter, rc *domain.RequestContext) {
	city := extractCity(rc.RawMessage)
	if city == "" {
		city = titleCity(rc.Attachment.Extracted("city"))
	}
	if city == "" {
		city = extractCity(priorUserMessage(rc))
	}
	if city == "" {
		em.reply(retailGuidance, nil)
		return
	}

	lookupCtx := em.ctx
	if a.lookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(em.ctx, a.lookupTimeout)
		defer cancel()
	}

	centers, err := a.finder.Centers(lookupCtx, city)
	if em.ctx.Err() != nil {
		return
	}
	if err != nil {
		a.log.Error().Err(err).Str("city", city).Msg("retail backend failed")
		em.fail(domain.ErrUpstreamUnavailable)
		return
	}

	fallback := formatCenters(city, centers)
	data, _ := json.MarshalIndent(centers, "", "  ")
	user := fmt.Sprintf("User asked: %s\n\nService centers in %s:\n%s\n\nHelp the user find a suitable center.", rc.RawMessage, city, data)
	system := BuildSystemPrompt(PromptConfig{
		Role: "service center locator",
		Guidelines: []string{
			"List centers with address and working hours.",
			"If no centers are listed, say so and suggest a nearby major city.",
		},
		ExtraPrompt: a.gen.SystemPrompt,
	})

	payload := map[string]any{"city": city, "centers": centers}
	req := a.gen.request(system, []llm.Message{{Role: llm.RoleUser, Content: user}})
	relayCompletion(em, a.gen, req, payload, fallback, a.log)
}

// extractCity finds a city name, preferring well-known cities.
func extractCity(text string) string {
	lower := strings.ToLower(text)
	best, bestPos := "", -1
	for _, c := range knownCities {
		loc := c.re.FindStringIndex(lower)
		if loc == nil {
			continue
		}
		if bestPos < 0 || loc[0] < bestPos || (loc[0] == bestPos && len(c.name) > len(best)) {
			best, bestPos = c.name, loc[0]
		}
	}
	if best != "" {
		return titleCity(best)
	}
	if m := cityRe.FindStringSubmatch(text); m != nil {
		return titleCity(m[1])
	}
	return ""
}

func formatCenters(city string, centers []backend.Center) string {
	if len(centers) == 0 {
		return fmt.Sprintf("I couldn't find any service centers in %s.", city)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Service centers in %s:", city)
	for _, c := range centers {
		fmt.Fprintf(&b, "\n- %s: %s", c.Name, c.Address)
		if c.WorkingHours != "" {
			fmt.Fprintf(&b, " (%s)", c.WorkingHours)
		}
		if c.Phone != "" {
			fmt.Fprintf(&b, ", tel %s", c.Phone)
		}
	}
	return b.String()
}
