package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Agno      AgnoConfig
	Knowledge KnowledgeConfig
	Tasks     TasksConfig
	Summary   SummaryConfig
	Storage   StorageConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// AgnoConfig points at the remote agent-serving backend.
type AgnoConfig struct {
	BaseURL        string
	SummaryAgent   string
	CounselAgent   string
	KnowledgeDB    string
	RequestTimeout string
	SecurityKey    string
}

type KnowledgeConfig struct {
	PollInterval  string
	UploadTimeout int // seconds
}

type TasksConfig struct {
	Workers int
}

type SummaryConfig struct {
	Backend       string // "agent" or "openai"
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIAPIKey  string
	PromptDir     string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type MetricsConfig struct {
	Enabled bool
}

const (
	BackendAgent  = "agent"
	BackendOpenAI = "openai"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 6001,
		},
		Agno: AgnoConfig{
			BaseURL:        "http://localhost:7777",
			SummaryAgent:   "summary-agent",
			CounselAgent:   "counselor-agent",
			KnowledgeDB:    "meeting_kb",
			RequestTimeout: "120s",
		},
		Knowledge: KnowledgeConfig{
			PollInterval:  "500ms",
			UploadTimeout: 10,
		},
		Tasks: TasksConfig{
			Workers: 4,
		},
		Summary: SummaryConfig{
			Backend:       BackendAgent,
			OpenAIBaseURL: "https://api.openai.com/v1",
			OpenAIModel:   "qwen3-30b-a3b-thinking-2507",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.minutes.app).
// On Linux the backend is a YAML file at $XDG_CONFIG_HOME/minutes/config.yaml.
//
// Environment variables (MINUTES_*) override backend values on all platforms.
// Variables already present in the process environment win over .env entries.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		warnf("could not read .env: %v", err)
	}
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if current, _ := s.extract(*cfg).(string); current != "" {
			continue
		}
		if v, err := kc.Get(secretService, secretAccount(s.key)); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

// Validate reports configuration combinations that cannot work.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d: must be between 1 and 65535", c.Server.Port)
	}
	if c.Agno.BaseURL == "" {
		return fmt.Errorf("missing required config: agno.base_url")
	}
	switch c.Summary.Backend {
	case BackendAgent:
	case BackendOpenAI:
		if c.Summary.OpenAIAPIKey == "" {
			return fmt.Errorf("%s", "missing required config: summary.openai_api_key. "+
				"Set it via environment variable MINUTES_OPENAI_API_KEY or OPENAI_API_KEY" + secretHint())
		}
	default:
		return fmt.Errorf("invalid summary.backend %q: want %q or %q", c.Summary.Backend, BackendAgent, BackendOpenAI)
	}
	if c.Knowledge.UploadTimeout <= 0 {
		return fmt.Errorf("invalid knowledge.upload_timeout %d: must be positive", c.Knowledge.UploadTimeout)
	}
	return nil
}

// PollInterval parses knowledge.poll_interval, falling back to 500ms.
func (c Config) PollInterval() time.Duration {
	return parseDurationOr(c.Knowledge.PollInterval, 500*time.Millisecond)
}

// RequestTimeout parses agno.request_timeout, falling back to 120s.
func (c Config) RequestTimeout() time.Duration {
	return parseDurationOr(c.Agno.RequestTimeout, 120*time.Second)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// keychainReader reads secrets from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
