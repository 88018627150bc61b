package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if v, ok := m.values[service+"/"+account]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

// mapBackend is an in-memory ConfigBackend.
type mapBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strings: map[string]string{}, ints: map[string]int{}}
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strings[key]
	return v, ok, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *mapBackend) SetString(key, val string) error { b.strings[key] = val; return nil }
func (b *mapBackend) SetInt(key string, val int) error { b.ints[key] = val; return nil }
func (b *mapBackend) Delete(key string) error {
	delete(b.strings, key)
	delete(b.ints, key)
	return nil
}

// clearEnv blanks every variable the loader consults so the host
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		for _, a := range s.aliases {
			t.Setenv(a, "")
		}
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6001 {
		t.Errorf("Server.Port = %d, want 6001", cfg.Server.Port)
	}
	if cfg.Agno.BaseURL != "http://localhost:7777" {
		t.Errorf("Agno.BaseURL = %q, want %q", cfg.Agno.BaseURL, "http://localhost:7777")
	}
	if cfg.Agno.SummaryAgent != "summary-agent" {
		t.Errorf("Agno.SummaryAgent = %q, want %q", cfg.Agno.SummaryAgent, "summary-agent")
	}
	if cfg.Agno.CounselAgent != "counselor-agent" {
		t.Errorf("Agno.CounselAgent = %q, want %q", cfg.Agno.CounselAgent, "counselor-agent")
	}
	if cfg.Agno.KnowledgeDB != "meeting_kb" {
		t.Errorf("Agno.KnowledgeDB = %q, want %q", cfg.Agno.KnowledgeDB, "meeting_kb")
	}
	if cfg.Knowledge.UploadTimeout != 10 {
		t.Errorf("Knowledge.UploadTimeout = %d, want 10", cfg.Knowledge.UploadTimeout)
	}
	if got := cfg.PollInterval(); got != 500*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 500ms", got)
	}
	if cfg.Summary.Backend != BackendAgent {
		t.Errorf("Summary.Backend = %q, want %q", cfg.Summary.Backend, BackendAgent)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestBackendValuesApplied(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.ints["server.port"] = 7000
	b.strings["agno.base_url"] = "http://agno.internal:7777"
	b.strings["metrics.enabled"] = "false"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Agno.BaseURL != "http://agno.internal:7777" {
		t.Errorf("Agno.BaseURL = %q", cfg.Agno.BaseURL)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false")
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)

	b := newMapBackend()
	b.ints["server.port"] = 7000
	t.Setenv("MINUTES_SERVER_PORT", "7100")

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("Server.Port = %d, want 7100", cfg.Server.Port)
	}
}

func TestEnvAliases(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantURL string
	}{
		{
			name:    "legacy AGNO_URL",
			env:     map[string]string{"AGNO_URL": "http://legacy:7777"},
			wantURL: "http://legacy:7777",
		},
		{
			name: "primary wins over alias",
			env: map[string]string{
				"AGNO_URL":              "http://legacy:7777",
				"MINUTES_AGNO_BASE_URL": "http://primary:7777",
			},
			wantURL: "http://primary:7777",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := loadWith(newMapBackend(), mockKeychain{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Agno.BaseURL != tt.wantURL {
				t.Errorf("Agno.BaseURL = %q, want %q", cfg.Agno.BaseURL, tt.wantURL)
			}
		})
	}
}

func TestInvalidEnvIntKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("MINUTES_TASKS_WORKERS", "many")

	cfg, err := loadWith(newMapBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Tasks.Workers != 4 {
		t.Errorf("Tasks.Workers = %d, want 4", cfg.Tasks.Workers)
	}
}

func TestOpenAIBackendRequiresKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("MINUTES_SUMMARY_BACKEND", "openai")

	_, err := loadWith(newMapBackend(), mockKeychain{})
	if err == nil {
		t.Fatal("expected error for openai backend without API key")
	}
	if !strings.Contains(err.Error(), "summary.openai_api_key") {
		t.Errorf("error = %q, want it to mention summary.openai_api_key", err.Error())
	}
}

func TestSecretFromKeychain(t *testing.T) {
	clearEnv(t)
	t.Setenv("MINUTES_SUMMARY_BACKEND", "openai")

	kc := mockKeychain{values: map[string]string{
		"minutes/summary_openai_api_key": "kc-key",
		"minutes/agno_security_key":      "agno-key",
	}}
	cfg, err := loadWith(newMapBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Summary.OpenAIAPIKey != "kc-key" {
		t.Errorf("OpenAIAPIKey = %q, want %q", cfg.Summary.OpenAIAPIKey, "kc-key")
	}
	if cfg.Agno.SecurityKey != "agno-key" {
		t.Errorf("SecurityKey = %q, want %q", cfg.Agno.SecurityKey, "agno-key")
	}
}

func TestEnvSecretWinsOverKeychain(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "env-key")

	kc := mockKeychain{values: map[string]string{"minutes/summary_openai_api_key": "kc-key"}}
	cfg, err := loadWith(newMapBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Summary.OpenAIAPIKey != "env-key" {
		t.Errorf("OpenAIAPIKey = %q, want %q", cfg.Summary.OpenAIAPIKey, "env-key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"unknown backend", func(c *Config) { c.Summary.Backend = "local" }, "summary.backend"},
		{"empty base url", func(c *Config) { c.Agno.BaseURL = "" }, "agno.base_url"},
		{"non-positive upload timeout", func(c *Config) { c.Knowledge.UploadTimeout = 0 }, "upload_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := defaults()
	cfg.Knowledge.PollInterval = "soon"
	cfg.Agno.RequestTimeout = "-1s"

	if got := cfg.PollInterval(); got != 500*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 500ms", got)
	}
	if got := cfg.RequestTimeout(); got != 120*time.Second {
		t.Errorf("RequestTimeout() = %v, want 120s", got)
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend()

	if err := setKeyIn(b, "server.port", "7200"); err != nil {
		t.Fatalf("setKeyIn: %v", err)
	}
	if b.ints["server.port"] != 7200 {
		t.Errorf("server.port = %d, want 7200", b.ints["server.port"])
	}

	if err := setKeyIn(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyIn(b, "metrics.enabled", "maybe"); err == nil {
		t.Error("expected error for non-boolean metrics.enabled")
	}
	if err := setKeyIn(b, "agno.security_key", "x"); err == nil {
		t.Error("expected error when setting a secret via config")
	}
	if err := setKeyIn(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Agno.SecurityKey = "super-secret"

	for _, info := range ShowAll(cfg) {
		if strings.Contains(info.Value, "super-secret") {
			t.Fatalf("secret leaked in ShowAll for key %s", info.Key)
		}
		if info.Key == "agno.security_key" && info.Value != "********" {
			t.Errorf("agno.security_key value = %q, want masked", info.Value)
		}
		if info.Key == "summary.openai_api_key" && info.Value != "(unset)" {
			t.Errorf("summary.openai_api_key value = %q, want (unset)", info.Value)
		}
	}
}
