// Package token stores the backend bearer token per backend origin.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

const EnvToken = "VARDASH_TOKEN"

var (
	ErrNotFound      = errors.New("no token stored")
	ErrTokenRequired = errors.New("bearer token required: run 'vardash token set' or set " + EnvToken)
)

type Store struct {
	configDir string
}

type Entry struct {
	Token string `json:"token"`
}

// Tokens is the tokens.json structure, keyed by backend origin.
type Tokens map[string]Entry

func NewStore() (*Store, error) {
	configDir, err := configDir()
	if err != nil {
		return nil, err
	}
	return &Store{configDir: configDir}, nil
}

func NewStoreAt(dir string) *Store {
	return &Store{configDir: dir}
}

func configDir() (string, error) {
	if dir := os.Getenv("VARDASH_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "vardash"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "vardash"), nil
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "vardash"), nil
	}
}

func (s *Store) Path() string {
	return filepath.Join(s.configDir, "tokens.json")
}

func (s *Store) load() (Tokens, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(Tokens), nil
		}
		return nil, err
	}

	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse tokens.json: %w", err)
	}
	if tokens == nil {
		tokens = make(Tokens)
	}
	return tokens, nil
}

func (s *Store) save(tokens Tokens) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write tokens.json: %w", err)
	}
	return nil
}

func (s *Store) Set(origin, token string) error {
	tokens, err := s.load()
	if err != nil {
		return err
	}
	tokens[normalizeOrigin(origin)] = Entry{Token: token}
	return s.save(tokens)
}

// Get returns "" without error when nothing is stored for origin.
func (s *Store) Get(origin string) (string, error) {
	tokens, err := s.load()
	if err != nil {
		return "", err
	}
	return tokens[normalizeOrigin(origin)].Token, nil
}

func (s *Store) Delete(origin string) error {
	tokens, err := s.load()
	if err != nil {
		return err
	}

	key := normalizeOrigin(origin)
	if _, ok := tokens[key]; !ok {
		return fmt.Errorf("%w for %s", ErrNotFound, origin)
	}
	delete(tokens, key)
	return s.save(tokens)
}

// Origins returns the stored backend origins, sorted.
func (s *Store) Origins() ([]string, error) {
	tokens, err := s.load()
	if err != nil {
		return nil, err
	}

	origins := make([]string, 0, len(tokens))
	for origin := range tokens {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins, nil
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// Mask returns token with all but its first and last four characters hidden.
func Mask(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

// Resolve picks the bearer token for origin in priority order: explicit flag value,
// stored token, then the VARDASH_TOKEN environment variable. It also reports where
// the token came from.
func Resolve(explicit, origin string, store *Store, getenv func(string) string) (string, string, error) {
	if explicit != "" {
		return explicit, "command-line flag", nil
	}

	if store != nil {
		if stored, err := store.Get(origin); err == nil && stored != "" {
			return stored, "stored token (" + store.Path() + ")", nil
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	if env := getenv(EnvToken); env != "" {
		return env, "environment variable (" + EnvToken + ")", nil
	}

	return "", "", ErrTokenRequired
}
