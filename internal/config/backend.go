package config

import (
	"fmt"
	"strings"
)

// ConfigBackend is the persistent store behind `minutes config set`.
// macOS keeps values in UserDefaults; other platforms in a YAML file under
// XDG_CONFIG_HOME.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// secretService is the secret store service name all secrets live under.
const secretService = "minutes"

// secretAccount maps a dotted secret key to its secret store account,
// e.g. agno.security_key -> agno_security_key.
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// flatten turns nested mappings into dotted keys so that
//
//	server:
//	  port: 6001
//
// and `server.port: 6001` are read the same way. Flat keys win when both
// spellings are present.
func flatten(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if nested, ok := v.(map[string]any); ok {
				walk(key, nested)
				continue
			}
			if _, exists := out[key]; exists && prefix != "" {
				continue
			}
			out[key] = v
		}
	}
	walk("", in)
	return out
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
