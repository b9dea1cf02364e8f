package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/courier/internal/backend"
	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/llm"
	"github.com/soyeahso/courier/internal/logging"
)

var (
	routeRe  = regexp.MustCompile(`(?i)\bfrom\s+([a-z][a-z .'-]*?)\s+to\s+([a-z][a-z .'-]*?)\s*(?:$|[0-9,.?!;]|\b(?:for|with|weighing|of|at|by|please)\b)`)
	weightRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(kg|kgs|kilo|kilos|kilogram|kilograms|g|grams|lb|lbs)\b`)
)

// cityCountry maps well-known non-default cities to ISO country codes.
var cityCountry = map[string]string{
	"dubai": "AE", "abu dhabi": "AE", "sharjah": "AE", "ajman": "AE",
	"kuwait": "KW", "kuwait city": "KW",
	"doha":   "QA",
	"manama": "BH",
	"muscat": "OM",
	"cairo":  "EG", "alexandria": "EG",
	"amman": "JO",
}

const ratesGuidance = "To get a shipping rate I need the origin city, destination city and weight, for example: \"rate from Riyadh to Jeddah for 5 kg\"."

// RateInquiryView is the inquiry as shown to callers, without credentials.
type RateInquiryView struct {
	FromCountry string  `json:"fromCountry"`
	FromCity    string  `json:"fromCity"`
	ToCountry   string  `json:"toCountry"`
	ToCity      string  `json:"toCity"`
	WeightKg    float64 `json:"weightKg"`
}

// RatesAgent answers shipping price questions.
type RatesAgent struct {
	quoter         backend.RateQuoter
	gen            Generation
	defaultCountry string
	lookupTimeout  time.Duration
	log            *logging.Logger
}

// NewRatesAgent creates the rates agent. defaultCountry applies to cities
// not in the known list.
func NewRatesAgent(quoter backend.RateQuoter, gen Generation, defaultCountry string, lookupTimeout time.Duration, log *logging.Logger) *RatesAgent {
	if defaultCountry == "" {
		defaultCountry = "SA"
	}
	return &RatesAgent{
		quoter:         quoter,
		gen:            gen,
		defaultCountry: defaultCountry,
		lookupTimeout:  lookupTimeout,
		log:            log.Sub("agent").With("agent", string(domain.AgentRates)),
	}
}

func (a *RatesAgent) Name() domain.AgentTag { return domain.AgentRates }

func (a *RatesAgent) Stream(ctx context.Context, rc *domain.RequestContext) <-chan domain.StreamEvent {
	return run(ctx, a.Name(), func(em emitter) { a.answer(em, rc) })
}

func (a *RatesAgent) answer(em emitter, rc *domain.RequestContext) {
	inq, ok := a.parseInquiry(rc.RawMessage)
	if !ok {
		// Follow-ups like "and for 3 kg?" reuse the previous question.
		prev, _ := a.parseInquiry(priorUserMessage(rc))
		inq = mergeInquiry(inq, prev)
	}
	if inq.FromCity == "" || inq.ToCity == "" || inq.WeightKg <= 0 {
		em.reply(ratesGuidance, nil)
		return
	}

	lookupCtx := em.ctx
	if a.lookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(em.ctx, a.lookupTimeout)
		defer cancel()
	}

	options, err := a.quoter.Quote(lookupCtx, backend.RateInquiry{
		FromCountry: inq.FromCountry,
		FromCity:    inq.FromCity,
		ToCountry:   inq.ToCountry,
		ToCity:      inq.ToCity,
		Weight:      strconv.FormatFloat(inq.WeightKg, 'f', -1, 64),
	})
	if em.ctx.Err() != nil {
		return
	}
	if err != nil {
		a.log.Error().Err(err).Str("from", inq.FromCity).Str("to", inq.ToCity).Msg("rates backend failed")
		em.fail(domain.ErrUpstreamUnavailable)
		return
	}

	fallback := formatRates(inq, options)
	data, _ := json.MarshalIndent(map[string]any{"inquiry": inq, "options": options}, "", "  ")
	user := fmt.Sprintf("User asked: %s\n\nRate data:\n%s\n\nSummarize the available shipping options and prices.", rc.RawMessage, data)
	system := BuildSystemPrompt(PromptConfig{
		Role: "shipping rates",
		Guidelines: []string{
			"List each service with its total price including VAT and currency.",
			"Point out the cheapest option.",
			"If no options are available, say so and suggest contacting customer service.",
		},
		ExtraPrompt: a.gen.SystemPrompt,
	})

	payload := map[string]any{"inquiry": inq, "options": options}
	req := a.gen.request(system, []llm.Message{{Role: llm.RoleUser, Content: user}})
	relayCompletion(em, a.gen, req, payload, fallback, a.log)
}

// parseInquiry extracts route and weight. ok is true when all are present.
func (a *RatesAgent) parseInquiry(text string) (RateInquiryView, bool) {
	var inq RateInquiryView
	if m := routeRe.FindStringSubmatch(text); m != nil {
		inq.FromCity = titleCity(m[1])
		inq.ToCity = titleCity(m[2])
		inq.FromCountry = a.countryOf(inq.FromCity)
		inq.ToCountry = a.countryOf(inq.ToCity)
	}
	if m := weightRe.FindStringSubmatch(text); m != nil {
		inq.WeightKg = toKg(m[1], m[2])
	}
	return inq, inq.FromCity != "" && inq.ToCity != "" && inq.WeightKg > 0
}

func (a *RatesAgent) countryOf(city string) string {
	if c, ok := cityCountry[strings.ToLower(city)]; ok {
		return c
	}
	return a.defaultCountry
}

func mergeInquiry(cur, prev RateInquiryView) RateInquiryView {
	if cur.FromCity == "" {
		cur.FromCity, cur.FromCountry = prev.FromCity, prev.FromCountry
	}
	if cur.ToCity == "" {
		cur.ToCity, cur.ToCountry = prev.ToCity, prev.ToCountry
	}
	if cur.WeightKg <= 0 {
		cur.WeightKg = prev.WeightKg
	}
	return cur
}

// maxWeightKg bounds a parsed weight; anything heavier is not a parcel.
const maxWeightKg = 10000

// toKg converts a parsed weight to kilograms rounded to the gram. It
// returns 0 for weights that are not positive and finite or exceed
// maxWeightKg, which leaves the inquiry incomplete.
func toKg(amount, unit string) float64 {
	v, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(unit) {
	case "g", "grams":
		v /= 1000
	case "lb", "lbs":
		v *= 0.45359237
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 || v > maxWeightKg {
		return 0
	}
	return math.Round(v*1000) / 1000
}

func titleCity(s string) string {
	words := strings.Fields(strings.TrimSpace(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func formatRates(inq RateInquiryView, options []backend.RateOption) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rates from %s to %s (%s kg):", inq.FromCity, inq.ToCity, strconv.FormatFloat(inq.WeightKg, 'f', -1, 64))
	if len(options) == 0 {
		b.WriteString("\nNo services are available for this route.")
		return b.String()
	}
	for _, o := range options {
		fmt.Fprintf(&b, "\n- %s (%s): %.2f %s incl. VAT %s", o.Product, o.ProductCode, o.TotalAmount, o.Currency, o.VatPercentage)
	}
	return b.String()
}
