//go:build darwin

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultsDomain = "app.talbot"
	toolTimeout    = 5 * time.Second
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "talbot-data"
	}
	return filepath.Join(home, "Library", "Application Support", "talbot")
}

func apiKeyHint() string {
	return " or store it in the macOS Keychain (service: talbot, account: upstream_api_key)"
}

// runTool runs a macOS command line tool and returns its trimmed output.
func runTool(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), toolTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// keychainExec prints the password of a generic Keychain item.
func keychainExec(service, account string) ([]byte, error) {
	out, err := runTool("security", "find-generic-password", "-s", service, "-a", account, "-w")
	if err != nil {
		return nil, fmt.Errorf("keychain lookup %s/%s: %w", service, account, err)
	}
	return []byte(out), nil
}

// defaultsBackend keeps settings in the app's defaults domain.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

func (b defaultsBackend) GetString(key string) (string, bool, error) {
	out, err := runTool("defaults", "read", b.domain, key)
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out, true, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		// defaults exits 1 for a missing key.
		return "", false, nil
	default:
		return "", false, fmt.Errorf("defaults read %s: %w (%s)", key, err, out)
	}
}

func (b defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %q is not an integer", key, s)
	}
	return n, true, nil
}

func (b defaultsBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b defaultsBackend) write(key, typ, val string) error {
	if out, err := runTool("defaults", "write", b.domain, key, typ, val); err != nil {
		return fmt.Errorf("defaults write %s: %w (%s)", key, err, out)
	}
	return nil
}

func (b defaultsBackend) Delete(key string) error {
	if out, err := runTool("defaults", "delete", b.domain, key); err != nil {
		return fmt.Errorf("defaults delete %s: %w (%s)", key, err, out)
	}
	return nil
}
