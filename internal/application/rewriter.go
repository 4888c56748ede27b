package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/bnema/arena-relay/internal/arena"
	"github.com/bnema/arena-relay/internal/domain"
	arenalog "github.com/bnema/arena-relay/internal/log"
	"github.com/bnema/arena-relay/internal/metrics"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/rs/zerolog"
)

var ErrAuthRejected = errors.New("credentials rejected by target")

type RewriterConfig struct {
	APIPattern    string
	CredentialKey string
	Mode          string
	Modality      string
}

// Rewriter attaches request rewriting and response decoding to a page for one interaction.
type Rewriter struct {
	cfg   RewriterConfig
	newID func() string
}

func NewRewriter(cfg RewriterConfig) *Rewriter {
	return &Rewriter{cfg: cfg}
}

// Binding is the per-interaction attachment returned by Arm. Close detaches it.
type Binding struct {
	req    domain.InteractionRequest
	sink   ports.EventSink
	logger zerolog.Logger
	sub    ports.Subscription

	interceptOnce sync.Once
	intercepted   chan struct{}

	doneOnce sync.Once
	done     chan struct{}
	err      error

	authRejected atomic.Bool
	closed       atomic.Bool

	mu         sync.Mutex
	transcript *arena.Transcript
}

// Arm installs interception on page. Events decoded from the response are emitted to sink until
// the binding is closed.
func (r *Rewriter) Arm(ctx context.Context, page ports.Page, req domain.InteractionRequest, sink ports.EventSink) (*Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := arenalog.WithContext(ctx, arenalog.WithComponent("rewriter")).With().Str(arenalog.FieldSessionID, page.ID()).Logger()

	credential := ""
	stored, err := page.StoredCredentials(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("read stored credentials")
	} else {
		credential = arena.ExtractCredential(stored, r.cfg.CredentialKey)
	}
	if credential == "" {
		logger.Debug().Msg("no stored credential, sending anonymously")
	}

	b := &Binding{
		req:         req,
		sink:        sink,
		logger:      logger,
		intercepted: make(chan struct{}),
		done:        make(chan struct{}),
	}

	onRequest := func(ctx context.Context, in ports.InterceptedRequest) (ports.InterceptedRequest, error) {
		if in.Method != "" && in.Method != http.MethodPost {
			return in, nil
		}
		if !arena.MatchesEndpoint(in.URL, r.cfg.APIPattern) {
			return in, nil
		}

		out, err := arena.Rewrite(in.Body, req, arena.RewriteOptions{Mode: r.cfg.Mode, Modality: r.cfg.Modality, NewID: r.newID})
		if err != nil {
			return in, fmt.Errorf("rewrite payload: %w", err)
		}
		if out.TemplateDiscarded {
			logger.Warn().Msg("intercepted payload was not a JSON object, rebuilt from scratch")
		}

		b.mu.Lock()
		b.transcript = &out.Transcript
		b.mu.Unlock()
		b.markIntercepted()

		logger.Debug().
			Str("user_message_id", out.Transcript.UserMessageID).
			Int("messages", len(out.Transcript.Messages)).
			Msg("payload rewritten")

		return ports.InterceptedRequest{
			URL:     in.URL,
			Method:  http.MethodPost,
			Headers: arena.RewriteHeaders(in.Headers, credential),
			Body:    out.Body,
		}, nil
	}

	sub, err := page.Intercept(ctx, r.cfg.APIPattern, onRequest, b.handleResponse)
	if err != nil {
		return nil, fmt.Errorf("install interception: %w", err)
	}
	b.sub = sub

	return b, nil
}

func (b *Binding) handleResponse(resp ports.InterceptedResponse) {
	defer func() {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}()

	b.markIntercepted()
	logger := b.logger.With().Int(arenalog.FieldStatus, resp.Status).Logger()

	if arena.IsAuthRejection(resp.Status) {
		b.authRejected.Store(true)
		logger.Warn().Msg("target rejected credentials")
		b.finish(ErrAuthRejected)
		return
	}
	if resp.Status >= http.StatusBadRequest {
		logger.Warn().Msg("target returned an error status")
		b.emit(domain.StatusEvent{Message: fmt.Sprintf("target responded with status %d", resp.Status)})
		b.finish(fmt.Errorf("target responded with status %d", resp.Status))
		return
	}
	if resp.Body == nil {
		b.finish(nil)
		return
	}

	dec := arena.NewDecoder(resp.Body)
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			b.finish(nil)
			return
		}
		if arena.IsMalformed(err) {
			metrics.DecodedChunkTotal.WithLabelValues("unknown", "malformed").Inc()
			logger.Warn().Err(err).Msg("skipping malformed record")
			continue
		}
		if err != nil {
			if b.closed.Load() {
				b.finish(nil)
				return
			}
			logger.Error().Err(err).Msg("response stream failed")
			b.finish(err)
			return
		}

		metrics.DecodedChunkTotal.WithLabelValues(string(rec.Slot), "ok").Inc()
		b.emit(rec.Event(b.req.ModelFor(rec.Slot)))
	}
}

func (b *Binding) emit(event domain.StreamEvent) {
	if b.closed.Load() {
		return
	}
	b.sink.Emit(event)
}

func (b *Binding) markIntercepted() {
	b.interceptOnce.Do(func() { close(b.intercepted) })
}

func (b *Binding) finish(err error) {
	b.doneOnce.Do(func() {
		b.err = err
		close(b.done)
	})
}

// Intercepted is closed once the page's outbound call has been observed.
func (b *Binding) Intercepted() <-chan struct{} { return b.intercepted }

// Done is closed when the response stream has ended.
func (b *Binding) Done() <-chan struct{} { return b.done }

// Err is the terminal stream error. Only meaningful after Done is closed.
func (b *Binding) Err() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}

func (b *Binding) AuthRejected() bool { return b.authRejected.Load() }

func (b *Binding) Transcript() (arena.Transcript, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transcript == nil {
		return arena.Transcript{}, false
	}
	return *b.transcript, true
}

// Close detaches interception and stops event delivery. Safe to call more than once.
func (b *Binding) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if b.sub == nil {
		return nil
	}
	if err := b.sub.Close(); err != nil {
		return fmt.Errorf("remove interception: %w", err)
	}
	return nil
}
