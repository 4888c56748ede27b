package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/arena-relay/internal/ports"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

const pingTimeout = 2 * time.Second

type Browser struct {
	rod      *rod.Browser
	launcher *launcher.Launcher
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      Config
	logger   zerolog.Logger

	mu    sync.Mutex
	pages map[proto.TargetTargetID]*Page

	closeOnce sync.Once
	done      chan struct{}
}

var _ ports.Browser = (*Browser)(nil)

func newBrowser(ctx context.Context, cancel context.CancelFunc, rb *rod.Browser, l *launcher.Launcher, cfg Config, logger zerolog.Logger) *Browser {
	return &Browser{
		rod:      rb,
		launcher: l,
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		logger:   logger,
		pages:    make(map[proto.TargetTargetID]*Page),
		done:     make(chan struct{}),
	}
}

// watch closes page channels when their target goes away and every page when the connection ends.
func (b *Browser) watch() error {
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b.rod); err != nil {
		return fmt.Errorf("discover targets: %w", err)
	}

	wait := b.rod.EachEvent(
		func(e *proto.TargetTargetDestroyed) { b.forget(e.TargetID) },
		func(e *proto.TargetTargetCrashed) { b.forget(e.TargetID) },
	)
	go func() {
		wait()
		b.markClosed()
	}()
	return nil
}

func (b *Browser) NewPage(ctx context.Context, cfg ports.PageConfig) (ports.Page, error) {
	if b.isClosed() {
		return nil, errBrowserClosed
	}

	rp, err := b.rod.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	p := newPage(b.ctx, rp.Context(b.ctx), b.cfg, b.logger)
	b.mu.Lock()
	b.pages[rp.TargetID] = p
	b.mu.Unlock()

	if err := p.Configure(ctx, cfg); err != nil {
		_ = p.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return p, nil
}

func (b *Browser) Connected() bool {
	if b.isClosed() {
		return false
	}
	ctx, cancel := context.WithTimeout(b.ctx, pingTimeout)
	defer cancel()
	_, err := proto.BrowserGetVersion{}.Call(b.rod.Context(ctx))
	return err == nil
}

func (b *Browser) Close(ctx context.Context) error {
	var closeErr error
	b.closeOnce.Do(func() {
		err := b.rod.Context(ctx).Close()
		b.cancel()
		if b.launcher != nil {
			// The process may already be exiting, so only a remote context disposal failure counts.
			b.launcher.Kill()
			b.launcher.Cleanup()
			err = nil
		}
		b.markClosed()
		if err != nil && !errors.Is(err, context.Canceled) {
			closeErr = fmt.Errorf("close browser: %w", err)
		}
	})
	return closeErr
}

func (b *Browser) forget(id proto.TargetTargetID) {
	b.mu.Lock()
	p, ok := b.pages[id]
	delete(b.pages, id)
	b.mu.Unlock()
	if ok {
		p.markClosed()
	}
}

func (b *Browser) markClosed() {
	b.mu.Lock()
	select {
	case <-b.done:
	default:
		close(b.done)
	}
	pages := b.pages
	b.pages = make(map[proto.TargetTargetID]*Page)
	b.mu.Unlock()

	for _, p := range pages {
		p.markClosed()
	}
}

func (b *Browser) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

var errBrowserClosed = errors.New("browser closed")
