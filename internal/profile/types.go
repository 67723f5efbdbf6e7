package profile

import (
	"encoding/json"
	"sort"
	"strings"
)

// Style is a declared communication-style preference.
type Style string

const (
	StyleGentle      Style = "gentle"
	StyleDirect      Style = "direct"
	StyleEncouraging Style = "encouraging"
)

// Styles is a set of communication styles. It marshals as a JSON array;
// order carries no meaning and duplicates are dropped on decode.
type Styles []Style

// Has reports whether s is in the set.
func (ss Styles) Has(s Style) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Normalize returns the set sorted, trimmed and without duplicates or blanks.
func (ss Styles) Normalize() Styles {
	if len(ss) == 0 {
		return nil
	}
	seen := make(map[Style]bool, len(ss))
	out := make(Styles, 0, len(ss))
	for _, s := range ss {
		s = Style(strings.ToLower(strings.TrimSpace(string(s))))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) == 0 {
		return nil
	}
	return out
}

func (ss *Styles) UnmarshalJSON(data []byte) error {
	var raw []Style
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*ss = Styles(raw).Normalize()
	return nil
}

// Strings returns the styles as plain strings.
func (ss Styles) Strings() []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// Profile is the user's self-reported context used to personalize responses.
// Every text field is optional; an empty string means "not provided".
type Profile struct {
	PreferredName       string `json:"preferredName,omitempty"`
	AgeRange            string `json:"ageRange,omitempty"`
	Pronouns            string `json:"pronouns,omitempty"`
	Diagnoses           string `json:"diagnoses,omitempty"`
	Medications         string `json:"medications,omitempty"`
	TreatmentHistory    string `json:"treatmentHistory,omitempty"`
	Triggers            string `json:"triggers,omitempty"`
	TherapyGoals        string `json:"therapyGoals,omitempty"`
	CopingStrategies    string `json:"copingStrategies,omitempty"`
	CurrentStressors    string `json:"currentStressors,omitempty"`
	TherapistInfo       string `json:"therapistInfo,omitempty"`
	CustomCommunication string `json:"customCommunication,omitempty"`
	CommunicationStyle  Styles `json:"communicationStyle,omitempty"`

	// Documents are persisted separately from the profile fields but travel
	// with the profile on the wire.
	Documents []Document `json:"documents,omitempty"`
}

// Document is an uploaded clinical document and its extracted text.
type Document struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SizeBytes   int64  `json:"size"`
	MIMEType    string `json:"type"`
	TextContent string `json:"content"`
}

// textFields maps field names, as accepted by SetField, to their storage.
func (p *Profile) textFields() map[string]*string {
	return map[string]*string{
		"preferredName":       &p.PreferredName,
		"ageRange":            &p.AgeRange,
		"pronouns":            &p.Pronouns,
		"diagnoses":           &p.Diagnoses,
		"medications":         &p.Medications,
		"treatmentHistory":    &p.TreatmentHistory,
		"triggers":            &p.Triggers,
		"therapyGoals":        &p.TherapyGoals,
		"copingStrategies":    &p.CopingStrategies,
		"currentStressors":    &p.CurrentStressors,
		"therapistInfo":       &p.TherapistInfo,
		"customCommunication": &p.CustomCommunication,
	}
}

// normalized trims every text field and normalizes the style set.
func (p Profile) normalized() Profile {
	for _, f := range p.textFields() {
		*f = strings.TrimSpace(*f)
	}
	p.CommunicationStyle = p.CommunicationStyle.Normalize()
	return p
}

// IsEmpty reports whether no field carries any information.
func (p Profile) IsEmpty() bool {
	for _, f := range p.textFields() {
		if *f != "" {
			return false
		}
	}
	return len(p.CommunicationStyle) == 0 && len(p.Documents) == 0
}

// HasCondition reports whether the declared diagnoses mention token,
// case-insensitively.
func (p *Profile) HasCondition(token string) bool {
	if p == nil || token == "" {
		return false
	}
	return strings.Contains(strings.ToLower(p.Diagnoses), strings.ToLower(token))
}

func cloneProfile(p *Profile) *Profile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.CommunicationStyle != nil {
		cp.CommunicationStyle = append(Styles(nil), p.CommunicationStyle...)
	}
	if p.Documents != nil {
		cp.Documents = append([]Document(nil), p.Documents...)
	}
	return &cp
}
