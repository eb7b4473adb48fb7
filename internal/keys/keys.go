package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/manash/memegen/pkg/models"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrKeyNotFound     = errors.New("no key stored")
	ErrNoKey           = errors.New("API key required")
)

// Store keeps provider API keys in keys.json under the user config
// directory, readable only by the owner.
type Store struct {
	configDir string
}

type KeyEntry struct {
	Key       string    `json:"key"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Keys is the keys.json document, indexed by provider name.
type Keys map[string]KeyEntry

func NewStore() (*Store, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return &Store{configDir: configDir}, nil
}

// NewStoreAt returns a store rooted at dir.
func NewStoreAt(dir string) *Store {
	return &Store{configDir: dir}
}

// ConfigDir returns the platform config directory for memegen.
// MEMEGEN_CONFIG_DIR overrides it.
func ConfigDir() (string, error) {
	if dir := os.Getenv("MEMEGEN_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "memegen"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "memegen"), nil
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "memegen"), nil
	}
}

func (s *Store) Path() string {
	return filepath.Join(s.configDir, "keys.json")
}

func (s *Store) load() (Keys, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(Keys), nil
		}
		return nil, err
	}

	var keys Keys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse keys.json: %w", err)
	}
	if keys == nil {
		keys = make(Keys)
	}
	return keys, nil
}

func (s *Store) save(keys Keys) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write keys.json: %w", err)
	}
	return nil
}

// ValidateProvider accepts the providers memegen can talk to.
func ValidateProvider(name string) (models.ProviderType, error) {
	pt := models.ProviderType(strings.ToLower(strings.TrimSpace(name)))
	if pt.IsValid() {
		return pt, nil
	}
	return "", fmt.Errorf("%w: %q (want one of %v)", ErrUnknownProvider, name, models.ValidProviders())
}

func (s *Store) Set(provider models.ProviderType, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrNoKey)
	}
	keys, err := s.load()
	if err != nil {
		return err
	}

	keys[string(provider)] = KeyEntry{Key: key, UpdatedAt: time.Now()}
	return s.save(keys)
}

// Get returns the stored key, or "" when none is stored.
func (s *Store) Get(provider models.ProviderType) (string, error) {
	entry, ok, err := s.Entry(provider)
	if err != nil || !ok {
		return "", err
	}
	return entry.Key, nil
}

func (s *Store) Entry(provider models.ProviderType) (KeyEntry, bool, error) {
	keys, err := s.load()
	if err != nil {
		return KeyEntry{}, false, err
	}
	entry, ok := keys[string(provider)]
	return entry, ok, nil
}

func (s *Store) Delete(provider models.ProviderType) error {
	keys, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := keys[string(provider)]; !ok {
		return fmt.Errorf("%w for %s", ErrKeyNotFound, provider)
	}

	delete(keys, string(provider))
	return s.save(keys)
}

// List returns the providers with stored keys, sorted.
func (s *Store) List() ([]models.ProviderType, error) {
	keys, err := s.load()
	if err != nil {
		return nil, err
	}

	providers := make([]models.ProviderType, 0, len(keys))
	for name := range keys {
		providers = append(providers, models.ProviderType(name))
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers, nil
}

// MaskKey returns a masked version of the key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Resolve finds the API key for a provider, in order: explicit value, the
// key store, then each environment variable. It also reports where the
// key came from.
func Resolve(explicit string, store *Store, provider models.ProviderType, envVars ...string) (string, string, error) {
	if explicit != "" {
		return explicit, "command-line flag", nil
	}

	if store != nil {
		if key, err := store.Get(provider); err == nil && key != "" {
			return key, fmt.Sprintf("stored key (%s)", store.Path()), nil
		}
	}

	for _, env := range envVars {
		if key := os.Getenv(env); key != "" {
			return key, fmt.Sprintf("environment variable (%s)", env), nil
		}
	}

	hint := "an environment variable"
	if len(envVars) > 0 {
		hint = envVars[0]
	}
	return "", "", fmt.Errorf("%w: run 'memegen keys set %s' or set %s", ErrNoKey, provider, hint)
}
