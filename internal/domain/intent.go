package domain

import (
	"fmt"
	"strings"
)

// Intent is the classified purpose of a user message.
type Intent string

const (
	IntentTracking  Intent = "TRACKING"
	IntentRates     Intent = "RATES"
	IntentLocations Intent = "LOCATIONS"
	IntentFAQ       Intent = "FAQ"

	// IntentAmbiguous is internal to classification and never leaves it.
	IntentAmbiguous Intent = "AMBIGUOUS"
)

// Intents lists the public intents in routing order.
var Intents = []Intent{IntentTracking, IntentRates, IntentLocations, IntentFAQ}

// Valid reports whether i is one of the public intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentTracking, IntentRates, IntentLocations, IntentFAQ:
		return true
	}
	return false
}

// Agent returns the agent tag that serves this intent.
// Anything unrecognized is served by the FAQ agent.
func (i Intent) Agent() AgentTag {
	switch i {
	case IntentTracking:
		return AgentTracking
	case IntentRates:
		return AgentRates
	case IntentLocations:
		return AgentRetail
	default:
		return AgentFAQ
	}
}

// ParseIntent parses a public intent name, case-insensitively.
func ParseIntent(s string) (Intent, error) {
	i := Intent(strings.ToUpper(strings.TrimSpace(s)))
	if !i.Valid() {
		return "", fmt.Errorf("unknown intent %q", s)
	}
	return i, nil
}

// AgentTag names the agent that produced an event or message.
type AgentTag string

const (
	AgentTracking AgentTag = "tracking"
	AgentRates    AgentTag = "rates"
	AgentRetail   AgentTag = "retail"
	AgentFAQ      AgentTag = "faq"
	AgentSystem   AgentTag = "system"
)

// IntentForAgent maps a caller-selected agent name to the intent it serves.
func IntentForAgent(tag string) (Intent, error) {
	switch AgentTag(strings.ToLower(strings.TrimSpace(tag))) {
	case AgentTracking:
		return IntentTracking, nil
	case AgentRates:
		return IntentRates, nil
	case AgentRetail:
		return IntentLocations, nil
	case AgentFAQ:
		return IntentFAQ, nil
	}
	return "", fmt.Errorf("unknown agent %q", tag)
}
