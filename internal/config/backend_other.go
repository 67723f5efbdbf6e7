//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// xdgPath joins elem onto the XDG base directory named by env, or onto
// fallback under the home directory when env is unset.
func xdgPath(env, fallback string, elem ...string) (string, bool) {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		base = filepath.Join(home, fallback)
	}
	return filepath.Join(append([]string{base}, elem...)...), true
}

func defaultDataDir() string {
	if p, ok := xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), "talbot"); ok {
		return p
	}
	return "talbot-data"
}

func configFilePath() string {
	if p, ok := xdgPath("XDG_CONFIG_HOME", ".config", "talbot", "config.json"); ok {
		return p
	}
	return filepath.Join("talbot", "config.json")
}

func secretsFilePath() string {
	if p, ok := xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), "talbot", "secrets.json"); ok {
		return p
	}
	return filepath.Join("talbot-data", "secrets.json")
}

func apiKeyHint() string {
	return " or add it to " + secretsFilePath() + ` as {"talbot":{"upstream_api_key":"..."}}`
}

// keychainExec reads a secret from the secrets file, a JSON object of
// service to account to value.
func keychainExec(service, account string) ([]byte, error) {
	data, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return nil, fmt.Errorf("secrets file: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret for %s/%s", service, account)
	}
	return []byte(val), nil
}

// fileBackend keeps settings in a flat JSON object. Every write replaces
// the file atomically.
type fileBackend struct {
	path string

	mu     sync.Mutex
	values map[string]json.RawMessage
}

func newPlatformBackend() ConfigBackend {
	b := &fileBackend{path: configFilePath()}
	if err := b.load(); err != nil {
		slog.Warn("ignoring unreadable config file", "path", b.path, "error", err)
	}
	if b.values == nil {
		b.values = make(map[string]json.RawMessage)
	}
	return b
}

func (b *fileBackend) load() error {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &b.values)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, ok := b.values[key]
	if !ok {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Hand-edited numbers and booleans come back as their JSON text.
		return string(raw), true, nil
	}
	return s, true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, ok := b.values[key]
	if !ok {
		return 0, false, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true, nil
		}
	}
	return 0, true, fmt.Errorf("%s: %s is not an integer", key, raw)
}

func (b *fileBackend) SetString(key, val string) error { return b.set(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.set(key, val) }

func (b *fileBackend) set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = raw
	return b.flush()
}

func (b *fileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	return b.flush()
}

func (b *fileBackend) flush() error {
	data, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(b.path, append(data, '\n'), 0o600)
}

// writeFileAtomic writes data to a temp file beside path and renames it
// into place, so readers never see a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
