// Package personalize adjusts the surface form of a response to the user's
// declared communication preferences.
package personalize

import (
	"regexp"
	"strings"

	"github.com/talbotapp/talbot/internal/profile"
)

// DefaultNameProbability is how often the preferred name is worked in.
const DefaultNameProbability = 0.3

const (
	gentleSuffix   = ", if that feels okay to explore?"
	encouragingEnd = " You're doing really well by talking about this."
)

var (
	terminalQuestion = regexp.MustCompile(`\?$`)
	hedges           = regexp.MustCompile(`(?i)\b(?:might be|could be|perhaps)\b`)
	firstSentence    = regexp.MustCompile(`^(.*?[.!?])`)
)

// Rand draws probabilities in [0, 1).
type Rand interface {
	Float64() float64
}

// Personalizer rewrites responses for a profile. Apply is meant to run once
// per response: a second pass can insert the name again or stack suffixes.
type Personalizer struct {
	rand            Rand
	nameProbability float64
}

// New creates a Personalizer inserting the preferred name with probability
// nameProbability (clamped to [0, 1]).
func New(rnd Rand, nameProbability float64) *Personalizer {
	return &Personalizer{rand: rnd, nameProbability: min(max(nameProbability, 0), 1)}
}

// Apply returns response adjusted for p. Without a profile the response is
// returned unchanged. Styles are applied cumulatively.
func (pz *Personalizer) Apply(response string, p *profile.Profile) string {
	if p == nil {
		return response
	}

	if name := p.PreferredName; name != "" && !strings.Contains(response, name) {
		if pz.rand.Float64() < pz.nameProbability {
			response = insertName(response, name)
		}
	}

	styles := p.CommunicationStyle
	if styles.Has(profile.StyleGentle) {
		response = terminalQuestion.ReplaceAllLiteralString(response, gentleSuffix)
	}
	if styles.Has(profile.StyleDirect) {
		response = hedges.ReplaceAllStringFunc(response, direct)
	}
	if styles.Has(profile.StyleEncouraging) {
		response += encouragingEnd
	}
	return response
}

// direct replaces a hedge with "is", capitalized when the hedge was.
func direct(hedge string) string {
	if hedge[0] >= 'A' && hedge[0] <= 'Z' {
		return "Is"
	}
	return "is"
}

// insertName puts "name," after the first sentence terminator. A response
// without a terminator is left alone.
func insertName(response, name string) string {
	loc := firstSentence.FindStringIndex(response)
	if loc == nil {
		return response
	}
	return response[:loc[1]] + " " + name + "," + response[loc[1]:]
}
