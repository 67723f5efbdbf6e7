package responder

import "strings"

// Urgency grades how pressing a message is.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyHigh   Urgency = "high"
	UrgencyCrisis Urgency = "crisis"
)

// Analysis is a coarse keyword reading of a message's emotional content.
type Analysis struct {
	Urgency        Urgency `json:"urgency"`
	Intensity      int     `json:"intensity"` // 0-10
	PrimaryEmotion string  `json:"primaryEmotion,omitempty"`
}

var intensityWords = []string{"extremely", "unbearable", "overwhelming", "intense", "severe", "terrible"}

// primaryEmotions is ordered; the first matching emotion is reported.
var primaryEmotions = []struct {
	name     string
	keywords []string
}{
	{"anxiety", []string{"anxious", "worried", "panic", "fear", "nervous"}},
	{"sadness", []string{"sad", "depressed", "hopeless", "empty", "down"}},
	{"anger", []string{"angry", "frustrated", "mad", "rage", "furious"}},
	{"loneliness", []string{"alone", "lonely", "isolated", "abandoned"}},
}

// Analyze grades message urgency and intensity and names its primary
// emotion. Crisis phrases come from the active rule set.
func (s *Selector) Analyze(message string) Analysis {
	lower := strings.ToLower(message)
	a := Analysis{Urgency: UrgencyLow}

	if containsAny(lower, s.Rules().Crisis.Phrases) {
		a.Urgency = UrgencyCrisis
		a.Intensity = 10
	}
	if containsAny(lower, intensityWords) {
		a.Intensity = max(a.Intensity, 8)
		if a.Urgency != UrgencyCrisis {
			a.Urgency = UrgencyHigh
		}
	}

	for _, e := range primaryEmotions {
		if containsAny(lower, e.keywords) {
			a.PrimaryEmotion = e.name
			break
		}
	}
	return a
}
