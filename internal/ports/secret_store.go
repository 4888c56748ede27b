package ports

import (
	"context"
	"errors"
)

// SecretKeySolverAPIKey is the secret holding the challenge solver credential.
const SecretKeySolverAPIKey = "solver/api_key"

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrSecretReadOnly = errors.New("secret backend is read-only")
)

type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
