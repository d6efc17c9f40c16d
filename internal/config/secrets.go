// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

const (
	envPrefix      = "env:"
	keychainPrefix = "keychain:"

	// KeychainService is the service name used for keychain entries.
	KeychainService = "n8n-agent"
)

// ErrSecretNotFound is returned when a reference points at nothing.
var ErrSecretNotFound = errors.New("secret not found")

// IsSecretReference reports whether value is an env: or keychain:
// reference rather than a literal.
func IsSecretReference(value string) bool {
	return strings.HasPrefix(value, envPrefix) || strings.HasPrefix(value, keychainPrefix)
}

// ResolveSecretReference resolves an env:NAME or keychain:NAME reference to
// its value. Any other value is returned as-is.
func ResolveSecretReference(ctx context.Context, value string) (string, error) {
	switch {
	case strings.HasPrefix(value, envPrefix):
		name := strings.TrimPrefix(value, envPrefix)
		if name == "" {
			return "", fmt.Errorf("empty environment variable name in %q", value)
		}
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("%w: environment variable %s", ErrSecretNotFound, name)
		}
		return v, nil

	case strings.HasPrefix(value, keychainPrefix):
		key := strings.TrimPrefix(value, keychainPrefix)
		if key == "" {
			return "", fmt.Errorf("empty keychain key in %q", value)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		v, err := keyring.Get(KeychainService, key)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", fmt.Errorf("%w: keychain %s/%s", ErrSecretNotFound, KeychainService, key)
			}
			return "", fmt.Errorf("keychain error: %w", err)
		}
		return v, nil
	}
	return value, nil
}

// LoadWithSecrets loads configuration and resolves all secret references.
// It returns the config and any warnings about plaintext API keys.
func LoadWithSecrets(ctx context.Context, configPath string) (*Config, []string, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ResolveSecrets(ctx); err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Warnings(), nil
}

// ResolveSecrets replaces secret references in api_key fields with their
// values.
func (c *Config) ResolveSecrets(ctx context.Context) error {
	fields := []struct {
		key   string
		value *string
	}{
		{"inference.api_key", &c.Inference.APIKey},
		{"platform.api_key", &c.Platform.APIKey},
	}
	for _, f := range fields {
		resolved, err := ResolveSecretReference(ctx, *f.value)
		if err != nil {
			return &agenterrors.ConfigError{
				Key:    f.key,
				Reason: "failed to resolve secret reference",
				Cause:  err,
			}
		}
		*f.value = resolved
	}
	return nil
}

// Warnings lists configuration that works but should be changed.
func (c *Config) Warnings() []string {
	var warnings []string
	for _, key := range c.plaintext {
		warnings = append(warnings, fmt.Sprintf(
			"%s is stored as plaintext in the config file; use env:NAME or keychain:NAME instead", key))
	}
	if c.Platform.BaseURL == "" {
		warnings = append(warnings, "platform.base_url is not set; only previews are available")
	}
	return warnings
}
