package config

import (
	"fmt"
	"slices"
)

// KeyInfo is one row of `talbot config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

func lookupSpec(key string) (keySpec, bool) {
	i := slices.IndexFunc(specs, func(s keySpec) bool { return s.key == key })
	if i < 0 {
		return keySpec{}, false
	}
	return specs[i], true
}

// ShowAll lists every non-secret key with its effective value in cfg.
func ShowAll(cfg Config) []KeyInfo {
	rows := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		rows = append(rows, KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(s.extract(cfg))})
	}
	return rows
}

// ValidKeys returns the keys accepted by SetKey.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// SetKey validates value against the key's type and persists it in the
// platform backend. Secrets are refused.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	switch {
	case !ok:
		return fmt.Errorf("unknown config key: %q", key)
	case s.secret:
		return fmt.Errorf("cannot set secret %q via config; %s", key, APIKeyHint())
	}
	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if n, isInt := v.(int); isInt {
		return b.SetInt(key, n)
	}
	return b.SetString(key, fmt.Sprint(v))
}
