package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bnema/arena-relay/internal/backoff"
	"github.com/bnema/arena-relay/internal/domain"
	arenalog "github.com/bnema/arena-relay/internal/log"
	"github.com/bnema/arena-relay/internal/metrics"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/rs/zerolog"
)

type State string

const (
	StateStart               State = "start"
	StateNavigating          State = "navigating"
	StateSubmitting          State = "submitting"
	StateAwaitingModels      State = "awaiting_models"
	StateChallengeDetected   State = "challenge_detected"
	StateAwaitingHumanResume State = "awaiting_human_resume"
	StateCompleted           State = "completed"
	StateFailed              State = "failed"
)

// IdentityHost is the part of the host lifecycle an interaction drives.
type IdentityHost interface {
	Reconfigure(ctx context.Context, page ports.Page) error
	RecordFailure()
	RecordSuccess()
}

type OrchestratorConfig struct {
	TargetURL         string
	MaxAttempts       int
	InterceptTimeout  time.Duration
	SettleMin         time.Duration
	SettleMax         time.Duration
	CompletionTimeout time.Duration
	LeaseInterval     time.Duration
	ChallengeMarkers  []string
	ChallengeURLParts []string
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		TargetURL:         "https://lmarena.ai/",
		MaxAttempts:       2,
		InterceptTimeout:  15 * time.Second,
		SettleMin:         5 * time.Second,
		SettleMax:         7 * time.Second,
		CompletionTimeout: 180 * time.Second,
		LeaseInterval:     10 * time.Second,
		ChallengeMarkers:  []string{"cf-turnstile", "challenge-platform", "Verify you are human"},
		ChallengeURLParts: []string{"__cf_chl", "/cdn-cgi/challenge"},
	}
}

type attemptResult int

const (
	attemptCompleted attemptResult = iota
	attemptSoftTimeout
	attemptChallenged
)

// Orchestrator runs interactions end to end on pooled sessions.
type Orchestrator struct {
	cfg      OrchestratorConfig
	pool     *SessionPool
	host     IdentityHost
	rewriter *Rewriter
	registry *RetryRegistry
	solver   ports.ChallengeSolver
	logger   zerolog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewOrchestrator wires an orchestrator. solver may be nil, in which case every challenge goes
// to a human.
func NewOrchestrator(cfg OrchestratorConfig, pool *SessionPool, host IdentityHost, rewriter *Rewriter, registry *RetryRegistry, solver ports.ChallengeSolver) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	return &Orchestrator{
		cfg:      cfg,
		pool:     pool,
		host:     host,
		rewriter: rewriter,
		registry: registry,
		solver:   solver,
		logger:   arenalog.WithComponent("orchestrator"),
		active:   make(map[string]context.CancelFunc),
	}
}

// Run drives req to completion, emitting events to sink. The stream ends with exactly one
// terminal event: STREAM_END on completion or ERROR on failure.
func (o *Orchestrator) Run(ctx context.Context, req domain.InteractionRequest, sink ports.EventSink) error {
	out := newSerialSink(sink)

	if err := req.Validate(); err != nil {
		out.Emit(domain.ErrorEvent{Message: err.Error()})
		return err
	}

	ctx, cancel := context.WithCancel(arenalog.ContextWithRequestID(ctx, req.RequestID))
	defer cancel()
	if err := o.track(req.RequestID, cancel); err != nil {
		out.Emit(domain.ErrorEvent{Message: err.Error()})
		return err
	}
	defer o.untrack(req.RequestID)
	defer o.registry.Remove(req.RequestID)

	logger := arenalog.WithContext(ctx, o.logger)
	outcome := "error"
	defer func() {
		metrics.InteractionTotal.WithLabelValues(outcome).Inc()
		logger.Info().Str("outcome", outcome).Msg("interaction finished")
	}()

	out.Emit(domain.StatusEvent{Message: "waiting for a browser session"})
	session, err := o.pool.Acquire(ctx, req.RequestID, AcquireOptions{Priority: req.Priority})
	if err != nil {
		err = o.classify(ctx, err)
		if errors.Is(err, domain.ErrCancelled) {
			outcome = "cancelled"
		}
		out.Emit(domain.ErrorEvent{Message: err.Error()})
		return err
	}
	logger = logger.With().Str(arenalog.FieldSessionID, string(session.ID())).Logger()

	healthy := false
	defer func() {
		if healthy {
			o.pool.Release(session, req.RequestID)
		} else {
			o.pool.ForceClose(session)
		}
	}()
	stopLease := o.keepLease(session, req.RequestID)
	defer stopLease()

	page := session.Page()
	for attempt := 1; ; attempt++ {
		attemptLogger := logger.With().Int(arenalog.FieldAttempt, attempt).Logger()
		attemptReq := req
		attemptReq.Attempt = attempt

		result, err := o.attempt(ctx, page, attemptReq, out, attemptLogger)
		if err != nil && !domain.IsTimeout(err) {
			err = o.classify(ctx, err)
			if errors.Is(err, domain.ErrCancelled) {
				outcome = "cancelled"
			}
			attemptLogger.Error().Err(err).Str(arenalog.FieldState, string(StateFailed)).Msg("attempt failed")
			out.Emit(domain.ErrorEvent{Message: err.Error()})
			return err
		}
		if err != nil {
			attemptLogger.Warn().Err(err).Msg("attempt timed out, treating as challenge")
			result = attemptChallenged
		}

		switch result {
		case attemptCompleted:
			healthy = true
			outcome = "completed"
			o.host.RecordSuccess()
			attemptLogger.Info().Str(arenalog.FieldState, string(StateCompleted)).Msg("interaction completed")
			out.Emit(domain.StreamEndEvent{})
			return nil
		case attemptSoftTimeout:
			outcome = "soft_timeout"
			attemptLogger.Warn().Dur("bound", o.cfg.CompletionTimeout).Msg("completion bound reached")
			out.Emit(domain.StatusEvent{Message: "model responses did not finish in time, ending stream"})
			out.Emit(domain.StreamEndEvent{})
			return nil
		}

		attemptLogger.Warn().Str(arenalog.FieldState, string(StateChallengeDetected)).Msg("challenge detected")
		o.host.RecordFailure()

		if attempt >= o.cfg.MaxAttempts {
			outcome = "exhausted"
			metrics.ChallengeTotal.WithLabelValues("exhausted").Inc()
			err := fmt.Errorf("verification not passed after %d attempts: %w", attempt, domain.ErrAttemptsExhausted)
			out.Emit(domain.ErrorEvent{Message: err.Error()})
			return err
		}

		if o.solve(ctx, page, attemptLogger) {
			metrics.ChallengeTotal.WithLabelValues("solver").Inc()
			out.Emit(domain.StatusEvent{Message: "verification solved automatically, retrying"})
			continue
		}

		if err := o.awaitHuman(ctx, page, req.RequestID, out, attemptLogger); err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				outcome = "cancelled"
			}
			out.Emit(domain.ErrorEvent{Message: err.Error()})
			return err
		}
		metrics.ChallengeTotal.WithLabelValues("human").Inc()

		if err := o.host.Reconfigure(ctx, page); err != nil {
			attemptLogger.Warn().Err(err).Msg("reconfigure session identity")
		}
		out.Emit(domain.StatusEvent{Message: "resuming after verification"})
	}
}

func (o *Orchestrator) attempt(ctx context.Context, page ports.Page, req domain.InteractionRequest, out ports.EventSink, logger zerolog.Logger) (attemptResult, error) {
	logger.Debug().Str(arenalog.FieldState, string(StateNavigating)).Msg("loading target")
	if err := page.Navigate(ctx, o.cfg.TargetURL); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrNavigation, err)
	}
	o.dismissDialogs(ctx, page, logger)

	logger.Debug().Str(arenalog.FieldState, string(StateSubmitting)).Msg("submitting prompt")
	binding, err := o.rewriter.Arm(ctx, page, req, out)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := binding.Close(); err != nil {
			logger.Debug().Err(err).Msg("close rewriter binding")
		}
	}()

	if err := o.submit(ctx, page, req.Prompt); err != nil {
		return 0, err
	}
	out.Emit(domain.StatusEvent{Message: "prompt submitted"})

	intercept := time.NewTimer(o.cfg.InterceptTimeout)
	select {
	case <-binding.Intercepted():
	case <-intercept.C:
		logger.Warn().Dur("waited", o.cfg.InterceptTimeout).Msg("outbound call not observed")
	case <-ctx.Done():
		intercept.Stop()
		return 0, ctx.Err()
	}
	intercept.Stop()

	if err := backoff.Sleep(ctx, backoff.Between(o.cfg.SettleMin, o.cfg.SettleMax)); err != nil {
		return 0, err
	}

	if reason, found := o.detectChallenge(ctx, page, binding); found {
		logger.Info().Str("signal", reason).Msg("challenge detected")
		return attemptChallenged, nil
	}

	logger.Debug().Str(arenalog.FieldState, string(StateAwaitingModels)).Msg("awaiting model output")
	bound := time.NewTimer(o.cfg.CompletionTimeout)
	defer bound.Stop()

	select {
	case <-binding.Done():
		if binding.AuthRejected() {
			return attemptChallenged, nil
		}
		if err := binding.Err(); err != nil {
			return 0, fmt.Errorf("model stream: %w", err)
		}
		return attemptCompleted, nil
	case <-bound.C:
		return attemptSoftTimeout, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (o *Orchestrator) submit(ctx context.Context, page ports.Page, prompt string) error {
	input, err := page.Locate(ctx, ports.RolePromptInput)
	if err != nil {
		return fmt.Errorf("locate prompt input: %w", err)
	}
	if err := input.Fill(ctx, prompt); err != nil {
		return fmt.Errorf("fill prompt: %w", err)
	}
	button, err := page.Locate(ctx, ports.RoleSubmit)
	if err != nil {
		return fmt.Errorf("locate submit: %w", err)
	}
	if err := button.Click(ctx); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	return nil
}

func (o *Orchestrator) dismissDialogs(ctx context.Context, page ports.Page, logger zerolog.Logger) {
	el, err := page.Locate(ctx, ports.RoleDismissDialog)
	if err != nil {
		return
	}
	if visible, err := el.Visible(ctx); err != nil || !visible {
		return
	}
	if err := el.Click(ctx); err != nil {
		logger.Debug().Err(err).Msg("dismiss dialog")
	}
}

// detectChallenge looks for a verification wall. It reports the first signal that matched.
func (o *Orchestrator) detectChallenge(ctx context.Context, page ports.Page, binding *Binding) (string, bool) {
	if binding.AuthRejected() {
		return "auth_rejected", true
	}

	url := page.URL()
	for _, part := range o.cfg.ChallengeURLParts {
		if part != "" && strings.Contains(url, part) {
			return "url", true
		}
	}

	if content, err := page.Content(ctx); err == nil {
		for _, marker := range o.cfg.ChallengeMarkers {
			if marker != "" && strings.Contains(content, marker) {
				return "content", true
			}
		}
	}

	if el, err := page.Locate(ctx, ports.RoleChallengeIndicator); err == nil {
		if visible, err := el.Visible(ctx); err == nil && visible {
			return "indicator", true
		}
	}

	return "", false
}

func (o *Orchestrator) solve(ctx context.Context, page ports.Page, logger zerolog.Logger) bool {
	if o.solver == nil {
		return false
	}

	var params domain.ChallengeParams
	if err := page.Evaluate(ctx, ChallengeParamsExpr, &params); err != nil {
		logger.Debug().Err(err).Msg("read challenge parameters")
		return false
	}
	if params.Empty() {
		logger.Debug().Msg("no challenge parameters captured")
		return false
	}
	if params.URL == "" {
		params.URL = page.URL()
	}

	solution, err := o.solver.Solve(ctx, params)
	if err != nil || !solution.Success {
		logger.Warn().Err(err).Msg("challenge solver did not succeed")
		return false
	}
	if err := page.Evaluate(ctx, tokenInjectionScript(solution.Token), nil); err != nil {
		logger.Warn().Err(err).Msg("inject challenge token")
		return false
	}
	logger.Info().Msg("challenge solved")
	return true
}

func tokenInjectionScript(token string) string {
	return fmt.Sprintf(`((token) => {
  document.querySelectorAll('[name="cf-turnstile-response"]').forEach((el) => { el.value = token; });
  const cb = window.__arenaChallengeCallback;
  if (typeof cb === "function") cb(token);
  return true;
})(%q)`, token)
}

// awaitHuman parks until an operator resumes or cancels requestID. It gives up when the page goes
// away, since a host restart leaves nothing to resume on.
func (o *Orchestrator) awaitHuman(ctx context.Context, page ports.Page, requestID string, out ports.EventSink, logger zerolog.Logger) error {
	waiter, err := o.registry.Register(requestID)
	if err != nil {
		return err
	}
	defer o.registry.Remove(requestID)

	logger.Info().Str(arenalog.FieldState, string(StateAwaitingHumanResume)).Msg("waiting for operator")
	out.Emit(domain.UserActionRequiredEvent{
		RequestID: requestID,
		Message:   "verification required: complete it in the browser, then resume this request",
	})

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-page.Closed():
			stop()
		case <-waitCtx.Done():
		}
	}()

	outcome, err := waiter.Wait(waitCtx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn().Msg("session closed while waiting for operator")
			return fmt.Errorf("interaction %s: session reclaimed while awaiting verification: %w", requestID, domain.ErrSessionClosed)
		}
		return o.classify(ctx, err)
	}
	if outcome == OutcomeCancelled {
		return fmt.Errorf("interaction %s: %w", requestID, domain.ErrCancelled)
	}
	return nil
}

// keepLease renews the session lease until the returned stop function is called.
func (o *Orchestrator) keepLease(session *Session, requestID string) func() {
	interval := o.cfg.LeaseInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.pool.Renew(session, requestID)
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
	}
}

func (o *Orchestrator) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled)) {
		return fmt.Errorf("interaction cancelled: %w", domain.ErrCancelled)
	}
	return err
}

// Cancel aborts a running interaction. It reports false when requestID is not running.
func (o *Orchestrator) Cancel(requestID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[requestID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	o.registry.Cancel(requestID)
	cancel()
	o.logger.Info().Str(arenalog.FieldRequestID, requestID).Msg("interaction cancelled")
	return true
}

// Resume releases an interaction parked on a verification wall.
func (o *Orchestrator) Resume(requestID string) bool {
	return o.registry.Resume(requestID)
}

// Active lists running request ids.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) track(requestID string, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[requestID]; ok {
		return fmt.Errorf("%w: request %s is already running", domain.ErrInvalidRequest, requestID)
	}
	o.active[requestID] = cancel
	return nil
}

func (o *Orchestrator) untrack(requestID string) {
	o.mu.Lock()
	delete(o.active, requestID)
	o.mu.Unlock()
}

// serialSink delivers events one at a time and drops everything after the first terminal event.
type serialSink struct {
	mu    sync.Mutex
	next  ports.EventSink
	ended bool
}

func newSerialSink(next ports.EventSink) *serialSink {
	return &serialSink{next: next}
}

func (s *serialSink) Emit(event domain.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = domain.IsTerminal(event)
	s.next.Emit(event)
}
