// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads provider API keys from a directory of plain-text files.
// Each file in the directory holds one secret: the filename is the key name and the
// file contents (trimmed) are the value. Provider keys are named "<profile>-api-key".
package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// KeySuffix is appended to a provider profile name to form its key file name.
const KeySuffix = "-api-key"

// KeyFor returns the secret name holding the API key of a provider profile.
func KeyFor(profile string) string {
	return profile + KeySuffix
}

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged and skipped. A nil logger uses slog.Default().
func Load(dir string, logger *slog.Logger) (map[string]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("secrets.unreadable", "name", name, "error", err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Providers returns the profile names that have a key in secrets, sorted.
func Providers(secrets map[string]string) []string {
	var out []string
	for name := range secrets {
		if p, ok := strings.CutSuffix(name, KeySuffix); ok && p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}
