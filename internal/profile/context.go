package profile

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ContextHeader opens every rendered profile context block.
const ContextHeader = "User Profile Context:"

// BuildContext renders the profile as a "User Profile Context" block followed
// by the user's message. Without a profile the message is returned unchanged.
func BuildContext(p *Profile, message string) string {
	if p == nil {
		return message
	}

	var sb strings.Builder
	sb.WriteString(ContextHeader + "\n")

	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", label, value)
		}
	}

	line("Call me", p.PreferredName)
	line("Pronouns", p.Pronouns)
	line("Mental health conditions", p.Diagnoses)
	if len(p.Documents) > 0 {
		sb.WriteString("- Clinical Documentation:\n")
		for _, d := range p.Documents {
			fmt.Fprintf(&sb, "  * %s:\n%s\n\n", d.Name, d.TextContent)
		}
	}
	line("Current medications", p.Medications)
	line("Treatment background", p.TreatmentHistory)
	line("Communication preferences", strings.Join(p.CommunicationStyle.Strings(), ", "))
	line("Custom communication instructions", p.CustomCommunication)
	line("Sensitive topics", p.Triggers)
	line("Current therapy goals", p.TherapyGoals)
	line("Effective coping strategies", p.CopingStrategies)
	line("Current stressors", p.CurrentStressors)
	line("Therapist information", p.TherapistInfo)

	sb.WriteString("\nUser message: ")
	sb.WriteString(message)
	return sb.String()
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

// Summary returns a compact one-paragraph description of the profile.
func Summary(p *Profile) string {
	if p == nil || p.IsEmpty() {
		return "User profile: not yet configured."
	}

	var parts []string
	if p.PreferredName != "" {
		who := p.PreferredName
		if p.Pronouns != "" {
			who += " (" + p.Pronouns + ")"
		}
		parts = append(parts, fmt.Sprintf("User: %s.", who))
	}
	if p.Diagnoses != "" {
		parts = append(parts, fmt.Sprintf("Conditions: %s.", p.Diagnoses))
	}
	if len(p.CommunicationStyle) > 0 {
		parts = append(parts, fmt.Sprintf("Prefers: %s.", strings.Join(p.CommunicationStyle.Strings(), ", ")))
	}
	if p.TherapyGoals != "" {
		parts = append(parts, fmt.Sprintf("Goals: %s.", p.TherapyGoals))
	}
	if p.Triggers != "" {
		parts = append(parts, fmt.Sprintf("Sensitive topics: %s.", p.Triggers))
	}
	if n := len(p.Documents); n > 0 {
		parts = append(parts, fmt.Sprintf("%d document(s) on file.", n))
	}

	if len(parts) == 0 {
		return "User profile: saved, no summary fields set."
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}
