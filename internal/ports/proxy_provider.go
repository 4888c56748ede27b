package ports

import (
	"context"

	"github.com/bnema/arena-relay/internal/domain"
)

// ProxyProvider returns nil without error when no proxy is available.
type ProxyProvider interface {
	GetProxy(ctx context.Context, requireTargetCompatible bool) (*domain.ProxyDescriptor, error)
}

type ProxyRepository interface {
	List(ctx context.Context) ([]domain.ProxyDescriptor, error)
}
