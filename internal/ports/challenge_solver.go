package ports

import (
	"context"

	"github.com/bnema/arena-relay/internal/domain"
)

type ChallengeSolver interface {
	Solve(ctx context.Context, params domain.ChallengeParams) (domain.ChallengeSolution, error)
}
