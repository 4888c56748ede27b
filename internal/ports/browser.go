package ports

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bnema/arena-relay/internal/domain"
)

// ElementRole names the page elements the core needs; adapters map roles to concrete locators.
type ElementRole string

const (
	RolePromptInput        ElementRole = "prompt_input"
	RoleSubmit             ElementRole = "submit"
	RoleChallengeIndicator ElementRole = "challenge_indicator"
	RoleDismissDialog      ElementRole = "dismiss_dialog"
)

type LaunchOptions struct {
	Proxy    *domain.ProxyDescriptor
	Profile  domain.IdentityProfile
	Headless bool
}

type PageConfig struct {
	Viewport          domain.Viewport
	UserAgent         string
	Locale            string
	Timezone          string
	ClientHints       map[string]string
	InitScripts       []string
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
}

// Engine boots the shared automation host.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

type Browser interface {
	NewPage(ctx context.Context, cfg PageConfig) (Page, error)
	Connected() bool
	Close(ctx context.Context) error
}

type Element interface {
	Fill(ctx context.Context, text string) error
	Click(ctx context.Context) error
	Visible(ctx context.Context) (bool, error)
}

type InterceptedRequest struct {
	URL     string
	Method  string
	Headers http.Header
	Body    []byte
}

type InterceptedResponse struct {
	URL     string
	Status  int
	Headers http.Header
	Body    io.ReadCloser
}

// RequestHandler returns the request that is actually sent in place of the intercepted one.
type RequestHandler func(ctx context.Context, req InterceptedRequest) (InterceptedRequest, error)

// ResponseHandler owns resp.Body and must close it.
type ResponseHandler func(resp InterceptedResponse)

// Subscription detaches whatever was attached when it was created. Close is idempotent.
type Subscription interface {
	Close() error
}

type Page interface {
	ID() string
	Configure(ctx context.Context, cfg PageConfig) error
	Navigate(ctx context.Context, url string) error
	URL() string
	Content(ctx context.Context) (string, error)
	Locate(ctx context.Context, role ElementRole) (Element, error)
	StoredCredentials(ctx context.Context) (map[string]string, error)
	Evaluate(ctx context.Context, script string, out any) error
	Intercept(ctx context.Context, urlPattern string, onRequest RequestHandler, onResponse ResponseHandler) (Subscription, error)
	Closed() <-chan struct{}
	Close(ctx context.Context) error
}
