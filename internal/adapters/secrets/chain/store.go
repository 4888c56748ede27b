// Package chain layers secret backends, consulting them in order.
package chain

import (
	"context"
	"errors"
	"fmt"

	envstore "github.com/bnema/arena-relay/internal/adapters/secrets/env"
	filestore "github.com/bnema/arena-relay/internal/adapters/secrets/file"
	"github.com/bnema/arena-relay/internal/ports"
)

type Store struct {
	backends []ports.SecretStore
}

var _ ports.SecretStore = (*Store)(nil)

var errNoBackends = errors.New("secret chain needs at least one backend")

func NewStore(backends ...ports.SecretStore) (*Store, error) {
	if len(backends) == 0 {
		return nil, errNoBackends
	}
	for i, b := range backends {
		if b == nil {
			return nil, fmt.Errorf("secret backend %d is nil", i)
		}
	}
	return &Store{backends: backends}, nil
}

// NewEnvFirstWithFileFallback reads ARENA_SECRET_* variables first and keeps writes in fileRoot.
func NewEnvFirstWithFileFallback(fileRoot string) (*Store, error) {
	return NewStore(envstore.NewStore(""), filestore.NewStore(fileRoot))
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var errs []error
	for _, b := range s.backends {
		value, err := b.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if shouldStop(err) {
			return "", err
		}
		errs = append(errs, err)
	}
	return "", combine("get", errs)
}

// Put writes to the first backend that accepts writes.
func (s *Store) Put(ctx context.Context, key string, value string) error {
	var errs []error
	for _, b := range s.backends {
		err := b.Put(ctx, key, value)
		if err == nil {
			return nil
		}
		if shouldStop(err) {
			return err
		}
		if errors.Is(err, ports.ErrSecretReadOnly) {
			continue
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return fmt.Errorf("put secret %q: %w", key, ports.ErrSecretReadOnly)
	}
	return combine("put", errs)
}

// Delete removes key from every writable backend.
func (s *Store) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, b := range s.backends {
		err := b.Delete(ctx, key)
		if err == nil || errors.Is(err, ports.ErrSecretReadOnly) {
			continue
		}
		if shouldStop(err) {
			return err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return combine("delete", errs)
}

func combine(op string, errs []error) error {
	notFound := true
	for _, err := range errs {
		if !errors.Is(err, ports.ErrSecretNotFound) {
			notFound = false
			break
		}
	}
	joined := errors.Join(errs...)
	if notFound {
		return fmt.Errorf("%s secret in %d backends: %w", op, len(errs), joined)
	}
	return fmt.Errorf("all secret backends failed to %s: %w", op, joined)
}

func shouldStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
