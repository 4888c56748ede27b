package ports

import (
	"context"

	"github.com/bnema/arena-relay/internal/domain"
)

type ProfileRepository interface {
	List(ctx context.Context) ([]domain.IdentityProfile, error)
}
