// Package restapi talks to the platform's REST API. It implements the fetchers
// used by the task and table caches and forwards normalized submissions.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"altan/workspace/internal/cache"
)

const DefaultTimeout = 30 * time.Second

// Cache stores GET response bodies. cache.RedisCache satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

// APIError is a non-2xx response. Message is the server's own message when the
// body carried one.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api returned status %d", e.StatusCode)
}

func (e *APIError) ResponseMessage() string {
	return e.Message
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cache      Cache
	logger     *slog.Logger
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

// WithCache enables response caching for GET requests.
func (c *Client) WithCache(cache Cache) *Client {
	c.cache = cache
	return c
}

func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Submit sends payload to path with method and returns the raw response body.
// Cached GETs under the same path are invalidated on success.
func (c *Client) Submit(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodPost
	}
	body, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	if c.cache != nil && method != http.MethodGet {
		if err := c.cache.Delete(ctx, cacheKey(path)); err != nil {
			c.logger.Debug("cache invalidate failed", "path", path, "error", err)
		}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(body), nil
}

// get issues a GET, serving from and filling the cache when one is set.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	key := cacheKey(path)
	if c.cache != nil {
		data, err := c.cache.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			c.logger.Debug("cache read failed", "key", key, "error", err)
		}
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body); err != nil {
			c.logger.Debug("cache write failed", "key", key, "error", err)
		}
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode, "duration_ms", time.Since(started).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    bodyMessage(body),
			Body:       body,
		}
	}
	return body, nil
}

// bodyMessage pulls message, error or detail out of a JSON error body.
func bodyMessage(body []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	for _, key := range []string{"message", "error", "detail"} {
		if msg, ok := parsed[key].(string); ok && msg != "" {
			return msg
		}
	}
	return ""
}

// decodeEnvelope decodes body[key] when body is an object carrying key, otherwise
// the whole body.
func decodeEnvelope(body []byte, key string, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapper); err == nil {
			if inner, ok := wrapper[key]; ok {
				return json.Unmarshal(inner, out)
			}
		}
	}
	return json.Unmarshal(trimmed, out)
}

func cacheKey(path string) string {
	return "api:" + strings.TrimLeft(path, "/")
}

func query(values map[string]string) string {
	q := url.Values{}
	for key, value := range values {
		if value != "" {
			q.Set(key, value)
		}
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func itoa(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
