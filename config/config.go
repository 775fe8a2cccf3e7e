// Package config builds chunk store configuration from a flat key map.
//
// Keys use dotted names ("storage.backend", "index.path"). They come from an
// optional YAML file, whose nested sections are flattened into dotted keys,
// and from command-line overrides applied on top. Unknown keys and missing
// required keys are rejected at load time with interfaces.ErrConfiguration.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ruteri/chunkstore/interfaces"
	"gopkg.in/yaml.v3"
)

// Recognized configuration keys.
const (
	KeyStorageBackend      = "storage.backend"
	KeyStorageTarget       = "storage.target"
	KeyStorageCompress     = "storage.compress"
	KeyStorageVaultToken   = "storage.vault.token"
	KeyStorageVaultMount   = "storage.vault.mount"
	KeyStorageMirrorTarget = "storage.mirror.targets"
	KeyIndexPath           = "index.path"
	KeyIndexCompress       = "index.compress"
)

var knownKeys = map[string]struct{}{
	KeyStorageBackend:      {},
	KeyStorageTarget:       {},
	KeyStorageCompress:     {},
	KeyStorageVaultToken:   {},
	KeyStorageVaultMount:   {},
	KeyStorageMirrorTarget: {},
	KeyIndexPath:           {},
	KeyIndexCompress:       {},
}

// DefaultVaultMount is the KV v2 mount used when none is configured.
const DefaultVaultMount = "secret"

// StorageConfig selects and configures the chunk backend.
type StorageConfig struct {
	// Backend is the backend kind: file, badger, blob, ipfs, vault or mirror.
	Backend string

	// Target is the directory, database path or connection string of the backend.
	Target string

	// Compress enables block compression for the embedded backend.
	Compress bool

	VaultToken string
	VaultMount string

	// MirrorTargets lists "kind=target" child backends of a mirror.
	MirrorTargets []string
}

// IndexConfig configures the metadata index.
type IndexConfig struct {
	// Path is the index database directory. Empty selects an in-memory index.
	Path     string
	Compress bool
}

// Config is the complete store configuration.
type Config struct {
	Storage StorageConfig
	Index   IndexConfig
}

// Load reads the YAML file at path (if not empty), applies overrides on top
// and validates the result.
func Load(path string, overrides map[string]any) (*Config, error) {
	values := make(map[string]any)
	if path != "" {
		fileValues, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		values = fileValues
	}
	for k, v := range overrides {
		values[k] = v
	}

	cfg, err := FromMap(values)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile parses a YAML config file into a flat key map.
func ReadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file: %w", interfaces.ErrConfiguration, err)
	}
	return Parse(data)
}

// Parse parses YAML into a flat key map.
func Parse(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing config: %w", interfaces.ErrConfiguration, err)
	}
	out := make(map[string]any)
	flatten("", doc, out)
	return out, nil
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// FromMap converts a flat key map into a Config without validating it.
func FromMap(values map[string]any) (*Config, error) {
	var unknown []string
	for k := range values {
		if _, ok := knownKeys[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown keys %s", interfaces.ErrConfiguration, strings.Join(unknown, ", "))
	}

	cfg := &Config{}
	var errs []error
	cfg.Storage.Backend, errs = getString(values, KeyStorageBackend, errs)
	cfg.Storage.Target, errs = getString(values, KeyStorageTarget, errs)
	cfg.Storage.Compress, errs = getBool(values, KeyStorageCompress, errs)
	cfg.Storage.VaultToken, errs = getString(values, KeyStorageVaultToken, errs)
	cfg.Storage.VaultMount, errs = getString(values, KeyStorageVaultMount, errs)
	cfg.Storage.MirrorTargets, errs = getStrings(values, KeyStorageMirrorTarget, errs)
	cfg.Index.Path, errs = getString(values, KeyIndexPath, errs)
	cfg.Index.Compress, errs = getBool(values, KeyIndexCompress, errs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrConfiguration, errors.Join(errs...))
	}

	if cfg.Storage.VaultMount == "" {
		cfg.Storage.VaultMount = DefaultVaultMount
	}
	return cfg, nil
}

// Validate checks that every key required by the selected backend is set.
func (c *Config) Validate() error {
	return c.Storage.Validate()
}

// Validate checks the storage section on its own, as used for mirror children.
func (s StorageConfig) Validate() error {
	if s.Backend == "" {
		return fmt.Errorf("%w: %s is required", interfaces.ErrConfiguration, KeyStorageBackend)
	}

	switch s.Backend {
	case "mirror":
		if len(s.MirrorTargets) == 0 {
			return fmt.Errorf("%w: %s is required for the mirror backend", interfaces.ErrConfiguration, KeyStorageMirrorTarget)
		}
		for _, t := range s.MirrorTargets {
			if _, err := interfaces.ParseBackendLocation(t); err != nil {
				return err
			}
		}
		return nil
	case "vault":
		if s.VaultToken == "" {
			return fmt.Errorf("%w: %s is required for the vault backend", interfaces.ErrConfiguration, KeyStorageVaultToken)
		}
	}

	if s.Target == "" {
		return fmt.Errorf("%w: %s is required", interfaces.ErrConfiguration, KeyStorageTarget)
	}
	return nil
}

// Child returns the storage config of one mirror target. Credentials and
// compression are inherited from the parent.
func (s StorageConfig) Child(loc interfaces.BackendLocation) StorageConfig {
	return StorageConfig{
		Backend:    loc.Kind,
		Target:     loc.Target,
		Compress:   s.Compress,
		VaultToken: s.VaultToken,
		VaultMount: s.VaultMount,
	}
}

func getString(values map[string]any, key string, errs []error) (string, []error) {
	v, ok := values[key]
	if !ok || v == nil {
		return "", errs
	}
	switch t := v.(type) {
	case string:
		return t, errs
	case int, int64, float64, bool:
		return fmt.Sprint(t), errs
	default:
		return "", append(errs, fmt.Errorf("%s: expected a string, got %T", key, v))
	}
}

func getBool(values map[string]any, key string, errs []error) (bool, []error) {
	v, ok := values[key]
	if !ok || v == nil {
		return false, errs
	}
	switch t := v.(type) {
	case bool:
		return t, errs
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return b, errs
	default:
		return false, append(errs, fmt.Errorf("%s: expected a bool, got %T", key, v))
	}
}

func getStrings(values map[string]any, key string, errs []error) ([]string, []error) {
	v, ok := values[key]
	if !ok || v == nil {
		return nil, errs
	}
	switch t := v.(type) {
	case []string:
		return t, errs
	case string:
		var out []string
		for _, s := range strings.Split(t, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, errs
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, append(errs, fmt.Errorf("%s: expected a list of strings, got %T item", key, item))
			}
			out = append(out, s)
		}
		return out, errs
	default:
		return nil, append(errs, fmt.Errorf("%s: expected a list of strings, got %T", key, v))
	}
}
