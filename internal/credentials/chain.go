package credentials

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Source yields credential values by key. Lookup returns false when the
// source has no value for the key; errors are treated the same way so a
// broken source never blocks the chain.
type Source interface {
	Name() string
	Lookup(ctx context.Context, key string) (string, bool)
}

// Chain resolves a credential set by asking each source in order. The first
// source that yields every requested key wins; partial hits from a source are
// discarded so a credential set is never stitched together across sources.
type Chain struct {
	sources []Source
	logger  *zap.Logger
}

func NewChain(logger *zap.Logger, sources ...Source) *Chain {
	return &Chain{sources: sources, logger: logger}
}

// Resolve returns the credential set for the given keys, or false when no
// single source can satisfy all of them.
func (c *Chain) Resolve(ctx context.Context, keys ...string) (map[string]string, bool) {
	for _, src := range c.sources {
		set := make(map[string]string, len(keys))
		complete := true
		for _, key := range keys {
			val, ok := src.Lookup(ctx, key)
			if !ok || val == "" {
				complete = false
				break
			}
			set[key] = val
		}
		if complete {
			c.logger.Debug("Resolved credentials",
				zap.String("source", src.Name()),
				zap.Int("keys", len(keys)),
			)
			return set, true
		}
	}
	return nil, false
}

// EnvSource reads credentials from environment variables.
type EnvSource struct{}

func (EnvSource) Name() string { return "env" }

func (EnvSource) Lookup(_ context.Context, key string) (string, bool) {
	val := os.Getenv(key)
	return val, val != ""
}

// FileSource reads credentials from a flat JSON file, typically
// config/credentials.json. The file is loaded once on first use.
type FileSource struct {
	path   string
	loaded bool
	values map[string]string
}

func NewFileSource(path string) *FileSource {
	if path == "" {
		path = filepath.Join("config", "credentials.json")
	}
	return &FileSource{path: path}
}

func (f *FileSource) Name() string { return "file" }

func (f *FileSource) Lookup(_ context.Context, key string) (string, bool) {
	if !f.loaded {
		f.loaded = true
		data, err := os.ReadFile(f.path)
		if err != nil {
			return "", false
		}
		if err := json.Unmarshal(data, &f.values); err != nil {
			f.values = nil
			return "", false
		}
	}
	val, ok := f.values[key]
	return val, ok && val != ""
}

// SecretManager is the remote secrets backend contract. It exists so runs in
// environments with a managed secret store can plug one in; tests supply
// fakes.
type SecretManager interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// SecretManagerSource adapts a SecretManager into a chain Source.
type SecretManagerSource struct {
	manager SecretManager
}

func NewSecretManagerSource(manager SecretManager) *SecretManagerSource {
	return &SecretManagerSource{manager: manager}
}

func (s *SecretManagerSource) Name() string { return "secret-manager" }

func (s *SecretManagerSource) Lookup(ctx context.Context, key string) (string, bool) {
	if s.manager == nil {
		return "", false
	}
	val, err := s.manager.GetSecret(ctx, key)
	if err != nil {
		return "", false
	}
	return val, val != ""
}

// Default builds the standard precedence chain: environment variables, then
// the local credentials file, then the secret manager when one is wired.
func Default(logger *zap.Logger, filePath string, manager SecretManager) *Chain {
	sources := []Source{EnvSource{}, NewFileSource(filePath)}
	if manager != nil {
		sources = append(sources, NewSecretManagerSource(manager))
	}
	return NewChain(logger, sources...)
}
