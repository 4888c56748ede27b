// Package env reads secrets from process environment variables.
package env

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/arena-relay/internal/ports"
)

const DefaultPrefix = "ARENA_SECRET_"

// Store maps a key such as "solver/api_key" to ARENA_SECRET_SOLVER_API_KEY. It never writes.
type Store struct {
	prefix string
	lookup func(string) (string, bool)
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{prefix: prefix, lookup: os.LookupEnv}
}

// VariableName returns the environment variable consulted for key.
func (s *Store) VariableName(key string) string {
	replacer := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return s.prefix + strings.ToUpper(replacer.Replace(strings.TrimSpace(key)))
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := s.VariableName(key)
	value, ok := s.lookup(name)
	if !ok || value == "" {
		return "", fmt.Errorf("env secret %s: %w", name, ports.ErrSecretNotFound)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	return fmt.Errorf("env secret %s: %w", s.VariableName(key), ports.ErrSecretReadOnly)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("env secret %s: %w", s.VariableName(key), ports.ErrSecretReadOnly)
}
