package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// KeyRing holds the credential used for billable provider calls. It implements imaging.KeyGate: a key counts
// as selected when one was set through the UI, read from the key file, configured, or found in the
// environment, in that order of precedence.
type KeyRing struct {
	configured string
	envVars    []string
	keyFile    string

	mu       sync.RWMutex
	selected string

	logger *slog.Logger
}

// ErrNoKeySelector is returned by OpenSelectKey when no key file is configured, so the host has no way to
// select a key.
var ErrNoKeySelector = errors.New("no key selector configured")

var errNoKey = errors.New("no API key available")

// DefaultKeyEnvVars are consulted, in order, when no key is selected or configured.
var DefaultKeyEnvVars = []string{"GEMINI_API_KEY", "API_KEY"}

// NewKeyRing creates a KeyRing. configured is the key from the config file and may be empty. keyFile, if not
// empty, is re-read by OpenSelectKey. envVars defaults to DefaultKeyEnvVars when nil.
func NewKeyRing(configured, keyFile string, envVars []string, logger *slog.Logger) *KeyRing {
	if envVars == nil {
		envVars = DefaultKeyEnvVars
	}
	return &KeyRing{
		configured: strings.TrimSpace(configured),
		envVars:    envVars,
		keyFile:    keyFile,
		logger:     logger.With(slog.String("module", "keyring")),
	}
}

// Key returns the key to use for the next provider call, or an empty string if there is none.
func (k *KeyRing) Key() string {
	k.mu.RLock()
	selected := k.selected
	k.mu.RUnlock()

	if selected != "" {
		return selected
	}
	if k.configured != "" {
		return k.configured
	}
	for _, name := range k.envVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// SetKey selects key for subsequent provider calls. An empty key clears the selection.
func (k *KeyRing) SetKey(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.selected = strings.TrimSpace(key)
	k.logger.Info("API key selection changed", slog.Bool("selected", k.selected != ""))
}

// HasSelectedKey implements imaging.KeyGate.
func (k *KeyRing) HasSelectedKey(context.Context) (bool, error) {
	return k.Key() != "", nil
}

// OpenSelectKey implements imaging.KeyGate by reading the key file.
func (k *KeyRing) OpenSelectKey(context.Context) error {
	if k.keyFile == "" {
		return ErrNoKeySelector
	}

	raw, err := os.ReadFile(k.keyFile)
	if err != nil {
		k.logger.Error("Failed to select API key",
			slog.String("keyFile", k.keyFile),
			slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("failed to read key file: %w", err)
	}

	key := strings.TrimSpace(string(raw))
	if key == "" {
		return fmt.Errorf("key file %s is empty", k.keyFile)
	}
	k.SetKey(key)
	return nil
}
