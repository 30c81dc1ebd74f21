// Package prefs handles client preferences persistence.
// Preferences are stored in ~/.config/smarthome/prefs.toml.
package prefs

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Prefs holds user preferences for the terminal client.
type Prefs struct {
	ServerURL string `toml:"server_url"`
}

const (
	defaultPrefsPath = "~/.config/smarthome/prefs.toml"

	// DefaultServerURL is used when nothing else names a server.
	DefaultServerURL = "http://localhost:3000"

	// EnvServerURL overrides the prefs file.
	EnvServerURL = "SMARTHOME_URL"
)

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

// Load reads preferences from the given path, falling back to defaults if
// the file is missing or unreadable.
func Load(path string) (Prefs, error) {
	prefs := Prefs{ServerURL: DefaultServerURL}

	resolved, err := resolvePath(path)
	if err != nil {
		return prefs, nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prefs, nil
		}
		return prefs, nil // Graceful degradation
	}
	defer func() { _ = file.Close() }()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return prefs, nil // Graceful degradation
	}

	if err := toml.Unmarshal(bytes, &prefs); err != nil {
		return Prefs{ServerURL: DefaultServerURL}, nil // Graceful degradation
	}

	prefs.ServerURL = strings.TrimSpace(prefs.ServerURL)
	if prefs.ServerURL == "" {
		prefs.ServerURL = DefaultServerURL
	}

	return prefs, nil
}

// Save writes preferences to the given path, creating directories as needed.
func Save(path string, p Prefs) error {
	if p.ServerURL != "" {
		normalized, err := NormalizeURL(p.ServerURL)
		if err != nil {
			return err
		}
		p.ServerURL = normalized
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	bytes, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}

	if err := os.WriteFile(resolved, bytes, 0o644); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}

	return nil
}

// ResolveServerURL picks the server address: the flag wins, then the
// environment, then the prefs file, then DefaultServerURL.
func ResolveServerURL(flagValue string, getenv func(string) string, p Prefs) (string, error) {
	candidates := []string{flagValue}
	if getenv != nil {
		candidates = append(candidates, getenv(EnvServerURL))
	}
	candidates = append(candidates, p.ServerURL, DefaultServerURL)

	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return NormalizeURL(c)
		}
	}
	return DefaultServerURL, nil
}

// NormalizeURL accepts "host:port" or a full http(s) URL and returns a URL
// with a scheme and no trailing slash.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("server URL is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid server URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultPrefsPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
