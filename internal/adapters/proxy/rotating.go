// Package proxy selects upstream proxies for the automation host.
package proxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/bnema/arena-relay/internal/domain"
	arenalog "github.com/bnema/arena-relay/internal/log"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/rs/zerolog"
)

// RotatingProvider hands out configured proxies round-robin.
type RotatingProvider struct {
	repo   ports.ProxyRepository
	logger zerolog.Logger

	mu   sync.Mutex
	next int
}

var _ ports.ProxyProvider = (*RotatingProvider)(nil)

func NewRotatingProvider(repo ports.ProxyRepository) *RotatingProvider {
	return &RotatingProvider{repo: repo, logger: arenalog.WithComponent("proxy")}
}

func (p *RotatingProvider) GetProxy(ctx context.Context, requireTargetCompatible bool) (*domain.ProxyDescriptor, error) {
	all, err := p.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	candidates := make([]domain.ProxyDescriptor, 0, len(all))
	for _, proxy := range all {
		if requireTargetCompatible && !proxy.TargetCompatible {
			continue
		}
		if err := proxy.Validate(); err != nil {
			p.logger.Warn().Err(err).Str(arenalog.FieldProxy, proxy.Redacted()).Msg("skipping invalid proxy")
			continue
		}
		candidates = append(candidates, proxy)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%d proxies configured, none usable: %w", len(all), domain.ErrProxyUnavailable)
	}

	p.mu.Lock()
	chosen := candidates[p.next%len(candidates)]
	p.next++
	p.mu.Unlock()

	return &chosen, nil
}
