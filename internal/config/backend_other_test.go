//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	b := newPlatformBackend()
	if err := setKey(b, "server.port", "4300"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "personalize.name_probability", "0.1"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "talbot", "config.json")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	clearEnv(t)
	cfg, err := loadWith(newPlatformBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4300 || cfg.Personalize.NameProbability != 0.1 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestFileBackend_HandEditedValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "talbot", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	body := `{"server.port": "4301", "conversation.window": 25, "remote.enabled": true, "upstream.max_tokens": 1.5}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	b := newPlatformBackend()
	if n, ok, err := b.GetInt("server.port"); err != nil || !ok || n != 4301 {
		t.Errorf("server.port = %d, %v, %v", n, ok, err)
	}
	if n, ok, err := b.GetInt("conversation.window"); err != nil || !ok || n != 25 {
		t.Errorf("conversation.window = %d, %v, %v", n, ok, err)
	}
	if s, ok, _ := b.GetString("remote.enabled"); !ok || s != "true" {
		t.Errorf("remote.enabled = %q, %v", s, ok)
	}
	if _, _, err := b.GetInt("upstream.max_tokens"); err == nil {
		t.Error("expected error for fractional integer")
	}
	if _, ok, _ := b.GetString("rules.path"); ok {
		t.Error("unset key reported as present")
	}
}

func TestFileBackend_CorruptFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "talbot", "config.json")
	os.MkdirAll(filepath.Dir(path), 0o700)
	os.WriteFile(path, []byte("{not json"), 0o600)

	b := newPlatformBackend()
	if _, ok, _ := b.GetString("server.port"); ok {
		t.Error("value read from corrupt file")
	}
	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), `"log.level": "debug"`) {
		t.Errorf("rewritten file = %s, %v", data, err)
	}
}

func TestFileBackend_DeleteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	b := newPlatformBackend()
	if err := b.SetInt("server.port", 4302); err != nil {
		t.Fatal(err)
	}
	if err := b.Delete("server.port"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := newPlatformBackend().GetInt("server.port"); ok {
		t.Error("deleted key still present after reload")
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "talbot"))
	for _, e := range entries {
		if e.Name() != "config.json" {
			t.Errorf("stray file %s", e.Name())
		}
	}
	info, err := os.Stat(filepath.Join(dir, "talbot", "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestKeychainExec_SecretsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	if _, err := keychainExec(keychainService, keychainAccount); err == nil {
		t.Error("expected error without secrets file")
	}

	os.MkdirAll(filepath.Join(dir, "talbot"), 0o700)
	os.WriteFile(filepath.Join(dir, "talbot", "secrets.json"), []byte(`{"talbot":{"upstream_api_key":" sk-test \n"}}`), 0o600)

	got, err := keychainReader{}.Get(keychainService, keychainAccount)
	if err != nil || got != "sk-test" {
		t.Errorf("Get = %q, %v", got, err)
	}
	if !strings.Contains(APIKeyHint(), filepath.Join(dir, "talbot", "secrets.json")) {
		t.Errorf("hint = %q", APIKeyHint())
	}
}
