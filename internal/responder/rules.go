package responder

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rule maps a set of keywords to candidate responses. Rules are evaluated
// in declaration order and the first match wins.
type Rule struct {
	Name      string   `yaml:"name"`
	Keywords  []string `yaml:"keywords"`
	Responses []string `yaml:"responses"`
}

// ConditionRule is a Rule that only applies when the profile declares the
// named condition among its diagnoses.
type ConditionRule struct {
	Condition string `yaml:"condition"`
	Rule      `yaml:",inline"`
}

// CrisisRule is the safety override checked before every other rule.
type CrisisRule struct {
	Phrases  []string `yaml:"phrases"`
	Response string   `yaml:"response"`
}

// RuleSet is the complete, ordered rule configuration of a Selector.
type RuleSet struct {
	Crisis     CrisisRule      `yaml:"crisis"`
	Conditions []ConditionRule `yaml:"conditions"`
	Emotions   []Rule          `yaml:"emotions"`
	Topics     []Rule          `yaml:"topics"`
	Defaults   []string        `yaml:"defaults"`
	Fallbacks  []string        `yaml:"fallbacks"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *RuleSet {
	rs, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("responder: built-in rules are invalid: %v", err))
	}
	return rs
}

// ParseRules decodes and validates a YAML rule set.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	rs.normalize()
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// LoadRules returns the built-in rules overlaid with the file at path.
// Sections present in the file replace the built-in ones, except crisis
// phrases, which are added to the built-in list and can never be removed.
// An empty path returns the built-in rules.
func LoadRules(path string) (*RuleSet, error) {
	base := DefaultRules()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	var over RuleSet
	if err := yaml.Unmarshal(data, &over); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	over.normalize()

	base.Crisis.Phrases = appendUnique(base.Crisis.Phrases, over.Crisis.Phrases...)
	if over.Crisis.Response != "" {
		base.Crisis.Response = over.Crisis.Response
	}
	if over.Conditions != nil {
		base.Conditions = over.Conditions
	}
	if over.Emotions != nil {
		base.Emotions = over.Emotions
	}
	if over.Topics != nil {
		base.Topics = over.Topics
	}
	if over.Defaults != nil {
		base.Defaults = over.Defaults
	}
	if over.Fallbacks != nil {
		base.Fallbacks = over.Fallbacks
	}

	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return base, nil
}

// Validate checks that every rule can produce a response.
func (rs *RuleSet) Validate() error {
	var errs []error
	if len(rs.Crisis.Phrases) == 0 {
		errs = append(errs, errors.New("crisis: no phrases"))
	}
	if strings.TrimSpace(rs.Crisis.Response) == "" {
		errs = append(errs, errors.New("crisis: empty response"))
	}
	for i, c := range rs.Conditions {
		if c.Condition == "" {
			errs = append(errs, fmt.Errorf("conditions[%d]: empty condition", i))
		}
		if err := c.Rule.validate(); err != nil {
			errs = append(errs, fmt.Errorf("conditions[%d]: %w", i, err))
		}
	}
	for i, r := range rs.Emotions {
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Errorf("emotions[%d]: %w", i, err))
		}
	}
	for i, r := range rs.Topics {
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Errorf("topics[%d]: %w", i, err))
		}
	}
	if !hasText(rs.Defaults) {
		errs = append(errs, errors.New("defaults: no responses"))
	}
	if !hasText(rs.Fallbacks) {
		errs = append(errs, errors.New("fallbacks: no responses"))
	}
	return errors.Join(errs...)
}

func (r Rule) validate() error {
	if len(r.Keywords) == 0 {
		return fmt.Errorf("rule %q: no keywords", r.Name)
	}
	for _, k := range r.Keywords {
		if k == "" {
			return fmt.Errorf("rule %q: empty keyword", r.Name)
		}
	}
	if !hasText(r.Responses) {
		return fmt.Errorf("rule %q: no responses", r.Name)
	}
	return nil
}

// matches reports whether the lowercased message contains any keyword.
func (r Rule) matches(lower string) bool {
	return containsAny(lower, r.Keywords)
}

// normalize lowercases keywords so matching only folds the message.
func (rs *RuleSet) normalize() {
	rs.Crisis.Phrases = lowerAll(rs.Crisis.Phrases)
	for i := range rs.Conditions {
		rs.Conditions[i].Condition = strings.ToLower(strings.TrimSpace(rs.Conditions[i].Condition))
		rs.Conditions[i].Keywords = lowerAll(rs.Conditions[i].Keywords)
	}
	for i := range rs.Emotions {
		rs.Emotions[i].Keywords = lowerAll(rs.Emotions[i].Keywords)
	}
	for i := range rs.Topics {
		rs.Topics[i].Keywords = lowerAll(rs.Topics[i].Keywords)
	}
}

func lowerAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, more ...string) []string {
	for _, s := range more {
		dup := false
		for _, d := range dst {
			if d == s {
				dup = true
				break
			}
		}
		if !dup && s != "" {
			dst = append(dst, s)
		}
	}
	return dst
}

func hasText(ss []string) bool {
	if len(ss) == 0 {
		return false
	}
	for _, s := range ss {
		if strings.TrimSpace(s) == "" {
			return false
		}
	}
	return true
}
