package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, content string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadSettingsPrecedence(t *testing.T) {
	// Arrange a temporary HOME and project tree with layered settings.
	tempDir := t.TempDir()
	homeDir := filepath.Join(tempDir, "home")
	writeFile(t, filepath.Join(homeDir, ".jobstream", "settings.json"), `{"output_format":"stream-json","markdown":false}`, 0o600)

	repoDir := filepath.Join(tempDir, "repo")
	if err := os.MkdirAll(filepath.Join(repoDir, ".git"), 0o755); err != nil {
		t.Fatalf("create repo dir: %v", err)
	}
	writeFile(t, filepath.Join(repoDir, ".jobstream", "settings.json"), `{"output_format":"text"}`, 0o600)

	localDir := filepath.Join(repoDir, "sub")
	writeFile(t, filepath.Join(localDir, ".jobstream", "settings.json"), `{"record":false}`, 0o600)

	t.Setenv("HOME", homeDir)

	// Act.
	settings, err := LoadSettings(localDir, []string{"user", "project", "local"}, "")
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}

	// Assert: project overrides user, local adds record, user markdown survives.
	if settings.OutputFormat != OutputText {
		t.Fatalf("expected text output, got %s", settings.OutputFormat)
	}
	if settings.MarkdownEnabled() {
		t.Fatalf("expected markdown disabled by user settings")
	}
	if settings.RecordEnabled() {
		t.Fatalf("expected record disabled by local settings")
	}

	// Inline overrides win over every file.
	settings, err = LoadSettings(localDir, nil, `{"record":true}`)
	if err != nil {
		t.Fatalf("load settings with override: %v", err)
	}
	if !settings.RecordEnabled() {
		t.Fatalf("expected inline override to enable record")
	}

	// Restricting sources skips the others.
	settings, err = LoadSettings(localDir, []string{"user"}, "")
	if err != nil {
		t.Fatalf("load user settings: %v", err)
	}
	if settings.OutputFormat != OutputStreamJSON {
		t.Fatalf("expected stream-json from user settings, got %s", settings.OutputFormat)
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	settings, err := LoadSettings(t.TempDir(), nil, "")
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if !settings.MarkdownEnabled() || !settings.RecordEnabled() || settings.OutputFormat != "" {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
}

func TestLoadSettingsRejectsUnknownFormat(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := LoadSettings(t.TempDir(), nil, `{"output_format":"yaml"}`); err == nil {
		t.Fatalf("expected error for unknown output format")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}

	invalid := filepath.Join(dir, "invalid.json")
	writeFile(t, invalid, `{"api_key":"k"}`, 0o600)
	if _, err := Load(invalid); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}

	badPath := filepath.Join(dir, "bad-path.json")
	writeFile(t, badPath, `{"api_base_url":"http://jobs.local","job_stream_path":"/jobs/stream"}`, 0o600)
	if _, err := Load(badPath); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for job path without {id}, got %v", err)
	}

	valid := filepath.Join(dir, "config.json")
	writeFile(t, valid, `{"api_base_url":"https://jobs.example.com","idle_timeout_ms":-5}`, 0o600)
	cfg, err := Load(valid)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.TimeoutMS != DefaultTimeoutMS || cfg.IdleTimeoutMS != 0 {
		t.Fatalf("unexpected timeouts: %+v", cfg)
	}
	if cfg.ChatPath != DefaultChatPath || cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if got := cfg.JobPath("build 7"); got != "/api/jobs/build%207/stream" {
		t.Fatalf("unexpected job path %s", got)
	}
}

func TestCheckPermissions(t *testing.T) {
	dir := t.TempDir()
	private := filepath.Join(dir, "private.json")
	writeFile(t, private, `{}`, 0o600)
	if err := CheckPermissions(private); err != nil {
		t.Fatalf("expected private config to pass: %v", err)
	}

	shared := filepath.Join(dir, "shared.json")
	writeFile(t, shared, `{}`, 0o600)
	if err := os.Chmod(shared, 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if err := CheckPermissions(shared); err == nil {
		t.Fatalf("expected world-readable config to fail")
	}

	if err := CheckPermissions(filepath.Join(dir, "none.json")); !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
}
