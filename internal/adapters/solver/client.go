// Package solver submits verification challenges to a remote solving service.
//
// The service speaks a task protocol: createTask returns a task id, getTaskResult is polled
// until the task reports ready.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/arena-relay/internal/backoff"
	"github.com/bnema/arena-relay/internal/domain"
	arenalog "github.com/bnema/arena-relay/internal/log"
	"github.com/bnema/arena-relay/internal/ports"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	taskType      = "TurnstileTaskProxyless"
	statusReady   = "ready"
	maxReplyBytes = 1 << 20
)

var (
	ErrNoAPIKey   = errors.New("challenge solver api key not configured")
	ErrTaskFailed = errors.New("challenge solver task failed")
)

type Config struct {
	URL          string
	Rate         float64
	Burst        int
	Timeout      time.Duration
	PollInterval time.Duration
	Retry        backoff.Policy
}

type Client struct {
	cfg     Config
	http    *http.Client
	secrets ports.SecretStore
	limiter *rate.Limiter
	logger  zerolog.Logger
}

var _ ports.ChallengeSolver = (*Client)(nil)

func NewClient(cfg Config, secrets ports.SecretStore, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("solver url is required")
	}
	if secrets == nil {
		return nil, errors.New("solver needs a secret store")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = backoff.DefaultPolicy()
	}
	cfg.Retry.Retryable = isTransient

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		secrets: secrets,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  arenalog.WithComponent("solver"),
	}, nil
}

type turnstileTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
	Action     string `json:"action,omitempty"`
	CData      string `json:"cData,omitempty"`
	PageData   string `json:"chlPageData,omitempty"`
}

type createTaskRequest struct {
	ClientKey string        `json:"clientKey"`
	Task      turnstileTask `json:"task"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type apiReply struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           string `json:"taskId"`
	Status           string `json:"status"`
	Solution         struct {
		Token string `json:"token"`
	} `json:"solution"`
}

func (r apiReply) err() error {
	if r.ErrorID == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s %s", ErrTaskFailed, r.ErrorCode, r.ErrorDescription)
}

// Solve submits params and polls until a token is available or Timeout elapses.
func (c *Client) Solve(ctx context.Context, params domain.ChallengeParams) (domain.ChallengeSolution, error) {
	if err := ctx.Err(); err != nil {
		return domain.ChallengeSolution{}, err
	}
	if params.Empty() {
		return domain.ChallengeSolution{}, fmt.Errorf("solve challenge: missing site key")
	}

	key, err := c.secrets.Get(ctx, ports.SecretKeySolverAPIKey)
	if err != nil {
		if errors.Is(err, ports.ErrSecretNotFound) {
			return domain.ChallengeSolution{}, ErrNoAPIKey
		}
		return domain.ChallengeSolution{}, fmt.Errorf("read solver api key: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ChallengeSolution{}, fmt.Errorf("wait for solver rate limit: %w", err)
	}

	created, err := c.post(ctx, "/createTask", createTaskRequest{
		ClientKey: key,
		Task: turnstileTask{
			Type:       taskType,
			WebsiteURL: params.URL,
			WebsiteKey: params.SiteKey,
			Action:     params.Action,
			CData:      params.CData,
			PageData:   params.PageData,
		},
	})
	if err != nil {
		return domain.ChallengeSolution{}, fmt.Errorf("create solver task: %w", err)
	}
	if created.TaskID == "" {
		return domain.ChallengeSolution{}, fmt.Errorf("create solver task: %w: empty task id", ErrTaskFailed)
	}

	logger := arenalog.WithContext(ctx, c.logger).With().Str("task_id", created.TaskID).Logger()
	logger.Debug().Msg("solver task created")

	for {
		if err := backoff.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return domain.ChallengeSolution{}, fmt.Errorf("poll solver task: %w", err)
		}
		result, err := c.post(ctx, "/getTaskResult", taskResultRequest{ClientKey: key, TaskID: created.TaskID})
		if err != nil {
			return domain.ChallengeSolution{}, fmt.Errorf("poll solver task: %w", err)
		}
		if result.Status != statusReady {
			continue
		}
		if result.Solution.Token == "" {
			return domain.ChallengeSolution{}, fmt.Errorf("poll solver task: %w: empty token", ErrTaskFailed)
		}
		logger.Debug().Msg("solver task ready")
		return domain.ChallengeSolution{Success: true, Token: result.Solution.Token}, nil
	}
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("solver responded with status %d", e.status)
}

func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= http.StatusInternalServerError || se.status == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrTaskFailed)
}

func (c *Client) post(ctx context.Context, path string, body any) (apiReply, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return apiReply{}, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.URL, "/") + path

	return backoff.Retry(ctx, c.cfg.Retry, func(ctx context.Context) (apiReply, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return apiReply{}, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return apiReply{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
		if err != nil {
			return apiReply{}, fmt.Errorf("read reply: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return apiReply{}, &statusError{status: resp.StatusCode}
		}

		var reply apiReply
		if err := json.Unmarshal(data, &reply); err != nil {
			return apiReply{}, backoff.Permanent(fmt.Errorf("decode reply: %w", err))
		}
		if err := reply.err(); err != nil {
			return apiReply{}, err
		}
		return reply, nil
	})
}
