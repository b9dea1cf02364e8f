package classifier

import (
	"regexp"

	"github.com/soyeahso/courier/internal/domain"
)

// Matcher is a pure heuristic. Match receives the original message and
// its lowercase form.
type Matcher struct {
	Name   string
	Intent domain.Intent
	Match  func(message, lower string) bool
}

var (
	trackingWords = regexp.MustCompile(`\b(track|tracking|tracked|awb|awbs|waybill|shipment|shipments)\b|parcel status|package status|where is my`)

	weightPattern = regexp.MustCompile(`\b\d+(\.\d+)?\s*(kg|kgs|kilo|kilos|kilogram|kilograms|g|grams|lb|lbs)\b`)
	routePattern  = regexp.MustCompile(`\bfrom\s+[a-z]+.*\bto\s+[a-z]+`)
	rateWords     = regexp.MustCompile(`\b(rate|rates|price|prices|pricing|cost|costs|quote|fee|fees)\b|how much`)

	locationWords = regexp.MustCompile(`\b(branch|branches|center|centers|centre|centres|office|offices|nearest|location|locations)\b|near me|drop off|drop-off|opening hours|working hours`)

	faqWords = regexp.MustCompile(`\b(policy|policies|customs|prohibited|refund|refunds|return|returns|insurance|claim|claims)\b|how do i|what is|can i`)
)

// DefaultMatchers in priority order; the first that fires wins.
var DefaultMatchers = []Matcher{
	{
		Name:   "tracking_number",
		Intent: domain.IntentTracking,
		Match:  func(msg, _ string) bool { return domain.ContainsAWB(msg) },
	},
	{
		Name:   "tracking_keywords",
		Intent: domain.IntentTracking,
		Match:  func(_, lower string) bool { return trackingWords.MatchString(lower) },
	},
	{
		Name:   "rates",
		Intent: domain.IntentRates,
		Match: func(_, lower string) bool {
			return weightPattern.MatchString(lower) || routePattern.MatchString(lower) || rateWords.MatchString(lower)
		},
	},
	{
		Name:   "locations",
		Intent: domain.IntentLocations,
		Match:  func(_, lower string) bool { return locationWords.MatchString(lower) },
	},
	{
		Name:   "faq_keywords",
		Intent: domain.IntentFAQ,
		Match:  func(_, lower string) bool { return faqWords.MatchString(lower) },
	},
}
