package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string // legacy variable names, consulted when env is unset
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "MINUTES_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "MINUTES_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "agno.base_url", typ: kString, env: "MINUTES_AGNO_BASE_URL", aliases: []string{"AGNO_URL"},
		apply:   func(cfg *Config, v any) { cfg.Agno.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Agno.BaseURL },
	},
	{
		key: "agno.summary_agent", typ: kString, env: "MINUTES_AGNO_SUMMARY_AGENT",
		apply:   func(cfg *Config, v any) { cfg.Agno.SummaryAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.Agno.SummaryAgent },
	},
	{
		key: "agno.counsel_agent", typ: kString, env: "MINUTES_AGNO_COUNSEL_AGENT",
		apply:   func(cfg *Config, v any) { cfg.Agno.CounselAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.Agno.CounselAgent },
	},
	{
		key: "agno.knowledge_db", typ: kString, env: "MINUTES_AGNO_KNOWLEDGE_DB",
		apply:   func(cfg *Config, v any) { cfg.Agno.KnowledgeDB = v.(string) },
		extract: func(cfg Config) any { return cfg.Agno.KnowledgeDB },
	},
	{
		key: "agno.request_timeout", typ: kString, env: "MINUTES_AGNO_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agno.RequestTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Agno.RequestTimeout },
	},
	{
		key: "agno.security_key", typ: kString, env: "MINUTES_AGNO_SECURITY_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Agno.SecurityKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Agno.SecurityKey },
	},
	{
		key: "knowledge.poll_interval", typ: kString, env: "MINUTES_KNOWLEDGE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Knowledge.PollInterval },
	},
	{
		key: "knowledge.upload_timeout", typ: kInt, env: "MINUTES_KNOWLEDGE_UPLOAD_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.UploadTimeout = v.(int) },
		extract: func(cfg Config) any { return cfg.Knowledge.UploadTimeout },
	},
	{
		key: "tasks.workers", typ: kInt, env: "MINUTES_TASKS_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Tasks.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Tasks.Workers },
	},
	{
		key: "summary.backend", typ: kString, env: "MINUTES_SUMMARY_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Summary.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Summary.Backend },
	},
	{
		key: "summary.openai_base_url", typ: kString, env: "MINUTES_OPENAI_BASE_URL", aliases: []string{"OPENAI_BASE_URL"},
		apply:   func(cfg *Config, v any) { cfg.Summary.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Summary.OpenAIBaseURL },
	},
	{
		key: "summary.openai_model", typ: kString, env: "MINUTES_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Summary.OpenAIModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Summary.OpenAIModel },
	},
	{
		key: "summary.openai_api_key", typ: kString, env: "MINUTES_OPENAI_API_KEY", aliases: []string{"OPENAI_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Summary.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Summary.OpenAIAPIKey },
	},
	{
		key: "summary.prompt_dir", typ: kString, env: "MINUTES_SUMMARY_PROMPT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Summary.PromptDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Summary.PromptDir },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MINUTES_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "MINUTES_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "metrics.enabled", typ: kBool, env: "MINUTES_METRICS_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Metrics.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Metrics.Enabled },
	},
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "boolean"
	default:
		return "string"
	}
}

// parse converts raw text into the Go type the key's apply func expects.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}

// readFrom fetches the key from b. Booleans are stored as strings.
func (s keySpec) readFrom(b ConfigBackend) (any, bool, error) {
	if s.typ == kInt {
		return b.GetInt(s.key)
	}
	raw, ok, err := b.GetString(s.key)
	if err != nil || !ok {
		return nil, ok, err
	}
	if s.typ == kString {
		return raw, true, nil
	}
	if raw == "" {
		return nil, false, nil
	}
	v, err := s.parse(raw)
	if err != nil {
		warnf("could not parse %s from config key %s=%q: %v. Using default value.", s.typ, s.key, raw, err)
		return nil, false, nil
	}
	return v, true, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		v, ok, err := s.readFrom(b)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

// lookupEnv returns the first non-empty value among the key's primary
// variable and its aliases.
func (s keySpec) lookupEnv() (name, raw string) {
	for _, n := range append([]string{s.env}, s.aliases...) {
		if v := os.Getenv(n); v != "" {
			return n, v
		}
	}
	return "", ""
}

// applyEnvOverrides lets environment variables win over stored values. A
// value that does not parse is reported and ignored.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		name, raw := s.lookupEnv()
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			warnf("could not parse %s from env var %s=%q: %v. Using default value.", s.typ, name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[WARN] "+format+"\n", args...)
}
