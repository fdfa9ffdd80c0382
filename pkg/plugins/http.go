package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ormasoftchile/llmtest/pkg/plugin"
)

// MaxBodyBytes caps the response body returned to the caller.
const MaxBodyBytes = 10000

const httpTimeout = 30 * time.Second

type httpGetParams struct {
	URL     string            `json:"url" jsonschema:"description=The URL to fetch"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=Optional HTTP headers"`
}

type httpPostParams struct {
	URL     string            `json:"url" jsonschema:"description=The URL to post to"`
	Data    any               `json:"data,omitempty" jsonschema:"description=JSON body to send"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=Optional HTTP headers"`
}

// NewHTTP builds the http provider. A nil client gets a fresh one with a 30s
// timeout; its idle connections are closed on cleanup.
func NewHTTP(client *http.Client) (*plugin.Module, error) {
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	h := &httpTools{client: client}
	m, err := plugin.NewModule("http",
		plugin.MustMethod("get", "Make an HTTP GET request.", h.get),
		plugin.MustMethod("post", "Make an HTTP POST request with a JSON body.", h.post),
	)
	if err != nil {
		return nil, err
	}
	return m.OnCleanup(func(context.Context) error {
		client.CloseIdleConnections()
		return nil
	}), nil
}

type httpTools struct {
	client *http.Client
}

func (h *httpTools) get(ctx context.Context, p httpGetParams) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return h.do(req, p.Headers)
}

func (h *httpTools) post(ctx context.Context, p httpPostParams) (any, error) {
	var body io.Reader
	if p.Data != nil {
		data, err := json.Marshal(p.Data)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return h.do(req, p.Headers)
}

func (h *httpTools) do(req *http.Request, headers map[string]string) (any, error) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	// drain the rest so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	respHeaders := make(map[string]any, len(resp.Header))
	for k, vs := range resp.Header {
		respHeaders[k] = strings.Join(vs, ", ")
	}
	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        strings.ToValidUTF8(string(data), ""),
		"headers":     respHeaders,
	}, nil
}
