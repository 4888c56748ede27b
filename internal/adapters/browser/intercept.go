package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/bnema/arena-relay/internal/ports"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

var errSubscriptionClosed = errors.New("interception removed")

// Intercept pauses matching requests twice: before they are sent, so onRequest can rewrite them,
// and once response headers arrive, so the body can be streamed to onResponse while it is still
// being received. The page gets the full body once the stream ends.
func (p *Page) Intercept(ctx context.Context, urlPattern string, onRequest ports.RequestHandler, onResponse ports.ResponseHandler) (ports.Subscription, error) {
	pattern := fetchPattern(urlPattern)
	// Enabling before subscribing keeps the event subscription from enabling Fetch for every URL.
	if err := (proto.FetchEnable{Patterns: []*proto.FetchRequestPattern{
		{URLPattern: pattern, RequestStage: proto.FetchRequestStageRequest},
		{URLPattern: pattern, RequestStage: proto.FetchRequestStageResponse},
	}}).Call(p.page.Context(ctx)); err != nil {
		return nil, fmt.Errorf("intercept %s: %w", urlPattern, err)
	}

	subCtx, cancel := context.WithCancel(p.ctx)
	s := &subscription{
		page:       p,
		cancel:     cancel,
		ctx:        context.WithoutCancel(ctx),
		onRequest:  onRequest,
		onResponse: onResponse,
		logger:     p.logger.With().Str("pattern", urlPattern).Logger(),
		streams:    make(map[*io.PipeWriter]struct{}),
	}

	wait := p.page.Context(subCtx).EachEvent(func(e *proto.FetchRequestPaused) {
		go s.handle(e)
	})
	go wait()
	return s, nil
}

type subscription struct {
	page       *Page
	cancel     context.CancelFunc
	ctx        context.Context
	onRequest  ports.RequestHandler
	onResponse ports.ResponseHandler
	logger     zerolog.Logger

	mu      sync.Mutex
	closed  bool
	streams map[*io.PipeWriter]struct{}
}

var _ ports.Subscription = (*subscription)(nil)

func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	streams := s.streams
	s.streams = nil
	s.mu.Unlock()

	s.cancel()
	for pw := range streams {
		_ = pw.CloseWithError(errSubscriptionClosed)
	}

	rp, cancel := s.page.bounded(s.page.cfg.CallTimeout)
	defer cancel()
	if err := (proto.FetchDisable{}).Call(rp); err != nil && !s.page.isClosed() {
		return fmt.Errorf("stop intercepting: %w", err)
	}
	return nil
}

func (s *subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// track registers pw so Close can end it; it reports false once the subscription is closed.
func (s *subscription) track(pw *io.PipeWriter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.streams[pw] = struct{}{}
	return true
}

func (s *subscription) untrack(pw *io.PipeWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, pw)
}

func (s *subscription) handle(e *proto.FetchRequestPaused) {
	if e.ResponseStatusCode == nil && e.ResponseErrorReason == "" {
		s.continueRequest(e)
		return
	}
	s.relayResponse(e)
}

func (s *subscription) continueRequest(e *proto.FetchRequestPaused) {
	params := proto.FetchContinueRequest{RequestID: e.RequestID}

	if !s.isClosed() {
		in := s.interceptedRequest(e)
		out, err := s.onRequest(s.ctx, in)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", in.URL).Msg("request handler failed, continuing unmodified")
		} else {
			params = overrides(e.RequestID, in, out)
		}
	}

	rp, cancel := s.page.bounded(s.page.cfg.CallTimeout)
	defer cancel()
	if err := params.Call(rp); err != nil && !s.page.isClosed() {
		s.logger.Warn().Err(err).Msg("continue request")
	}
}

func (s *subscription) interceptedRequest(e *proto.FetchRequestPaused) ports.InterceptedRequest {
	req := ports.InterceptedRequest{
		URL:     e.Request.URL,
		Method:  e.Request.Method,
		Headers: requestHeaders(e.Request.Headers),
		Body:    postData(e.Request),
	}
	if req.Body == nil && e.Request.HasPostData && e.NetworkID != "" {
		rp, cancel := s.page.bounded(s.page.cfg.CallTimeout)
		defer cancel()
		res, err := proto.NetworkGetRequestPostData{RequestID: e.NetworkID}.Call(rp)
		if err != nil {
			s.logger.Debug().Err(err).Msg("read request body")
		} else {
			req.Body = []byte(res.PostData)
		}
	}
	return req
}

// relayResponse streams the paused response body to onResponse, then hands the same bytes to the page.
func (s *subscription) relayResponse(e *proto.FetchRequestPaused) {
	if e.ResponseErrorReason != "" || s.isClosed() {
		s.passThrough(e.RequestID)
		return
	}

	rp, cancel := s.page.bounded(s.page.cfg.CallTimeout)
	stream, err := proto.FetchTakeResponseBodyAsStream{RequestID: e.RequestID}.Call(rp)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Msg("take response body")
		s.passThrough(e.RequestID)
		return
	}

	pr, pw := io.Pipe()
	if !s.track(pw) {
		_ = pw.CloseWithError(errSubscriptionClosed)
	}
	status := *e.ResponseStatusCode
	go s.onResponse(ports.InterceptedResponse{
		URL:     e.Request.URL,
		Status:  status,
		Headers: responseHeaders(e.ResponseHeaders),
		Body:    pr,
	})

	body, readErr := s.pump(stream.Stream, pw)
	s.untrack(pw)
	_ = pw.CloseWithError(readErr)

	rp, cancel = s.page.bounded(s.page.cfg.CallTimeout)
	defer cancel()
	if readErr != nil {
		s.logger.Warn().Err(readErr).Msg("response stream interrupted")
		if err := (proto.FetchFailRequest{RequestID: e.RequestID, ErrorReason: proto.NetworkErrorReasonFailed}).Call(rp); err != nil && !s.page.isClosed() {
			s.logger.Debug().Err(err).Msg("fail request")
		}
		return
	}
	if err := (proto.FetchFulfillRequest{
		RequestID:       e.RequestID,
		ResponseCode:    status,
		ResponseHeaders: fulfilledHeaders(e.ResponseHeaders),
		Body:            body,
		ResponsePhrase:  e.ResponseStatusText,
	}).Call(rp); err != nil && !s.page.isClosed() {
		s.logger.Warn().Err(err).Msg("fulfill request")
	}
}

// pump copies the body stream into w until the browser reports EOF. When w stops accepting data
// the copy continues into the returned buffer only.
func (s *subscription) pump(handle proto.IOStreamHandle, w io.Writer) ([]byte, error) {
	rp := s.page.page.Context(s.page.ctx)
	defer func() {
		closer, cancel := s.page.bounded(s.page.cfg.CallTimeout)
		defer cancel()
		_ = proto.IOClose{Handle: handle}.Call(closer)
	}()

	var buf bytes.Buffer
	writable := true
	for {
		chunk, err := proto.IORead{Handle: handle}.Call(rp)
		if err != nil {
			return buf.Bytes(), fmt.Errorf("read response body: %w", err)
		}
		data, err := chunkBytes(chunk)
		if err != nil {
			return buf.Bytes(), err
		}
		buf.Write(data)
		if writable && len(data) > 0 {
			if _, err := w.Write(data); err != nil {
				writable = false
			}
		}
		if chunk.EOF {
			return buf.Bytes(), nil
		}
	}
}

func (s *subscription) passThrough(id proto.FetchRequestID) {
	rp, cancel := s.page.bounded(s.page.cfg.CallTimeout)
	defer cancel()
	if err := (proto.FetchContinueRequest{RequestID: id}).Call(rp); err != nil && !s.page.isClosed() {
		s.logger.Debug().Err(err).Msg("continue response")
	}
}

func (p *Page) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func chunkBytes(chunk *proto.IOReadResult) ([]byte, error) {
	if !chunk.Base64Encoded {
		return []byte(chunk.Data), nil
	}
	data, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return nil, fmt.Errorf("decode response chunk: %w", err)
	}
	return data, nil
}

// overrides sends only what the handler changed, so untouched requests keep their original form.
func overrides(id proto.FetchRequestID, in, out ports.InterceptedRequest) proto.FetchContinueRequest {
	params := proto.FetchContinueRequest{RequestID: id}
	if out.URL != "" && out.URL != in.URL {
		params.URL = out.URL
	}
	if out.Method != "" && out.Method != in.Method {
		params.Method = out.Method
	}
	if !bytes.Equal(out.Body, in.Body) {
		params.PostData = out.Body
	}
	if !maps.EqualFunc(out.Headers, in.Headers, func(a, b []string) bool { return slices.Equal(a, b) }) {
		params.Headers = headerEntries(out.Headers)
	}
	return params
}

// fetchPattern widens a path fragment into a Fetch wildcard pattern.
func fetchPattern(fragment string) string {
	if strings.ContainsAny(fragment, "*?") {
		return fragment
	}
	return "*" + fragment + "*"
}

func postData(r *proto.NetworkRequest) []byte {
	if len(r.PostDataEntries) > 0 {
		var body []byte
		for _, entry := range r.PostDataEntries {
			body = append(body, entry.Bytes...)
		}
		return body
	}
	if r.PostData != "" {
		return []byte(r.PostData)
	}
	return nil
}

func requestHeaders(in proto.NetworkHeaders) http.Header {
	out := make(http.Header, len(in))
	for k, v := range in {
		// Chrome folds repeated headers into one newline separated value.
		for _, line := range strings.Split(v.Str(), "\n") {
			out.Add(k, line)
		}
	}
	return out
}

func responseHeaders(in []*proto.FetchHeaderEntry) http.Header {
	out := make(http.Header, len(in))
	for _, h := range in {
		out.Add(h.Name, h.Value)
	}
	return out
}

// headerEntries drops Content-Length so the browser recomputes it for a rewritten body.
func headerEntries(in http.Header) []*proto.FetchHeaderEntry {
	out := make([]*proto.FetchHeaderEntry, 0, len(in))
	for _, k := range slices.Sorted(maps.Keys(in)) {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range in[k] {
			out = append(out, &proto.FetchHeaderEntry{Name: k, Value: v})
		}
	}
	return out
}

// fulfilledHeaders drops the framing headers that no longer describe the decoded body.
func fulfilledHeaders(in []*proto.FetchHeaderEntry) []*proto.FetchHeaderEntry {
	out := make([]*proto.FetchHeaderEntry, 0, len(in))
	for _, h := range in {
		if strings.EqualFold(h.Name, "Content-Length") || strings.EqualFold(h.Name, "Content-Encoding") {
			continue
		}
		out = append(out, h)
	}
	return out
}
