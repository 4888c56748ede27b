package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bnema/arena-relay/internal/domain"
)

type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("relay responded %d %s: %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("relay responded %d %s", e.Status, e.Code)
}

// Client calls a running relay.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Stream submits body and calls onEvent for every event until the stream ends. It returns the
// request id assigned by the relay.
func (c *Client) Stream(ctx context.Context, body InteractionBody, onEvent func(domain.StreamEvent)) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal interaction: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/interactions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit interaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}

	requestID := resp.Header.Get("X-Request-ID")
	if err := readEvents(resp.Body, onEvent); err != nil {
		return requestID, err
	}
	return requestID, nil
}

func readEvents(r io.Reader, onEvent func(domain.StreamEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var body EventBody
			if err := json.Unmarshal([]byte(data.String()), &body); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if event, ok := body.Event(); ok {
				onEvent(event)
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

func (c *Client) Resume(ctx context.Context, requestID string) error {
	return c.action(ctx, http.MethodPost, "/v1/interactions/"+url.PathEscape(requestID)+"/resume")
}

func (c *Client) Cancel(ctx context.Context, requestID string) error {
	return c.action(ctx, http.MethodDelete, "/v1/interactions/"+url.PathEscape(requestID))
}

func (c *Client) Status(ctx context.Context) (StatusBody, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/status", nil)
	if err != nil {
		return StatusBody{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return StatusBody{}, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusBody{}, decodeAPIError(resp)
	}
	var body StatusBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StatusBody{}, fmt.Errorf("decode status: %w", err)
	}
	return body, nil
}

func (c *Client) action(ctx context.Context, method, path string) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil {
		if body.Error != "" {
			apiErr.Code = body.Error
		}
		apiErr.Detail = body.Detail
	}
	return apiErr
}
