//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.minutes.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "minutes")
	}
	return "minutes-data"
}

func secretHint() string {
	return fmt.Sprintf(" or macOS Keychain (service: %s, account: %s)", secretService, secretAccount("summary.openai_api_key"))
}

// darwinBackend reads and writes UserDefaults through the `defaults` tool.
// Reads are cached per key for the life of the backend; writes update the
// cache.
type darwinBackend struct {
	domain string
	cache  map[string]defaultsValue
}

type defaultsValue struct {
	val string
	ok  bool
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: defaultsDomain, cache: make(map[string]defaultsValue)}
}

func (b *darwinBackend) read(key string) (string, bool, error) {
	if v, hit := b.cache[key]; hit {
		return v.val, v.ok, nil
	}
	out, err := exec.Command("defaults", "read", b.domain, key).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		// Exit status 1 means the domain or key does not exist.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			b.cache[key] = defaultsValue{}
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading default %s: %w, output: %s", key, err, s)
	}
	b.cache[key] = defaultsValue{val: s, ok: true}
	return s, true, nil
}

func (b *darwinBackend) write(key, typeFlag, val string) error {
	out, err := exec.Command("defaults", "write", b.domain, key, typeFlag, val).CombinedOutput()
	if err != nil {
		return fmt.Errorf("writing default %s: %w, output: %s", key, err, strings.TrimSpace(string(out)))
	}
	b.cache[key] = defaultsValue{val: val, ok: true}
	return nil
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	return b.read(key)
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.read(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *darwinBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *darwinBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *darwinBackend) Delete(key string) error {
	if _, ok, err := b.read(key); err != nil || !ok {
		return err
	}
	if out, err := exec.Command("defaults", "delete", b.domain, key).CombinedOutput(); err != nil {
		return fmt.Errorf("deleting default %s: %w, output: %s", key, err, strings.TrimSpace(string(out)))
	}
	b.cache[key] = defaultsValue{}
	return nil
}
