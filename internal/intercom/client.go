package intercom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PartCap is the maximum number of conversation parts the API returns on
// a single hydration. Conversations with more parts are synced truncated
// and logged, not failed.
const PartCap = 500

// maxPageSize is the hard per_page ceiling enforced by the API.
const maxPageSize = 150

// RateLimitError is returned when the API answers 429 and retries are
// exhausted. RetryAfter carries the server-supplied wait, if any.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("intercom rate limit exceeded (retry after %s)", e.RetryAfter)
}

// APIError is any non-2xx, non-429 response. It is not retried.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("intercom api error: status=%d body=%s", e.StatusCode, body)
}

// Options configures a Client.
type Options struct {
	BaseURL            string
	AccessToken        string
	APIVersion         string
	HTTPClient         *http.Client
	RateLimitPerMinute int
	MaxRetries         int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	Logger             *zap.Logger
}

// Client is an authenticated Intercom API client with local rate-limit
// throttling and retry-with-backoff. One orchestrator owns one client;
// the limiter is process-local and advisory, so the 429 retry path is
// still mandatory.
type Client struct {
	baseURL    string
	token      string
	apiVersion string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	limiter    *windowLimiter
	logger     *zap.Logger
}

// New creates an Intercom client. Zero option fields fall back to
// production defaults.
func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.intercom.io"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = "2.11"
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	perMinute := opts.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 500
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		token:      opts.AccessToken,
		apiVersion: apiVersion,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		limiter:    newWindowLimiter(perMinute),
		logger:     logger,
	}
}

// do performs one API call with local throttling and the retry loop.
// Transient transport errors, 429 and 5xx are retried with backoff up to
// the attempt ceiling; everything else surfaces as *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastRetryAfter time.Duration
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Intercom-Version", c.apiVersion)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < c.maxRetries {
				c.logger.Warn("transient request error, retrying",
					zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(err))
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, 0)); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("intercom request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read response: %w", readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode response %s: %w", path, err)
			}
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
			retryAfter := parseRetryAfter(resp.Header)
			lastRetryAfter = retryAfter
			if attempt < c.maxRetries {
				delay := c.retryDelay(attempt+1, retryAfter)
				c.logger.Warn("rate limited or server error, backing off",
					zap.String("path", path),
					zap.Int("status", resp.StatusCode),
					zap.Duration("delay", delay),
					zap.Int("attempt", attempt+1))
				if waitErr := sleepContext(ctx, delay); waitErr != nil {
					return waitErr
				}
				continue
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				return &RateLimitError{RetryAfter: lastRetryAfter}
			}
		}

		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
}

// retryDelay computes the backoff before the given attempt. A
// server-supplied retry-after is honored as given; only the exponential
// fallback is capped at maxDelay.
func (c *Client) retryDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

// parseRetryAfter reads Retry-After (seconds) or the Intercom
// X-RateLimit-Reset (epoch seconds) header.
func parseRetryAfter(h http.Header) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Until(time.Unix(reset, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ListConversations fetches one page of conversation summaries. An empty
// cursor starts from the beginning. Returns the page and the cursor for
// the next one ("" when exhausted).
func (c *Client) ListConversations(ctx context.Context, cursor string, perPage int) ([]Conversation, string, error) {
	if perPage <= 0 || perPage > maxPageSize {
		perPage = maxPageSize
	}
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(perPage))
	if cursor != "" {
		q.Set("starting_after", cursor)
	}
	var list conversationList
	if err := c.do(ctx, http.MethodGet, "/conversations", q, nil, &list); err != nil {
		return nil, "", err
	}
	return list.Conversations, nextCursor(list.Pages), nil
}

// SearchConversations fetches one page of a structured search.
func (c *Client) SearchConversations(ctx context.Context, query SearchQuery, cursor string, perPage int) ([]Conversation, string, error) {
	if perPage <= 0 || perPage > maxPageSize {
		perPage = maxPageSize
	}
	req := searchRequest{
		Query:      query,
		Pagination: &searchPagination{PerPage: perPage, StartingAfter: cursor},
	}
	var list conversationList
	if err := c.do(ctx, http.MethodPost, "/conversations/search", nil, req, &list); err != nil {
		return nil, "", err
	}
	return list.Conversations, nextCursor(list.Pages), nil
}

// GetConversation hydrates one conversation with its parts. When the
// source holds more parts than the API cap, the truncation is logged as
// a completeness warning and the conversation is returned as-is.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, nil, &conv); err != nil {
		return nil, err
	}
	if conv.Parts.TotalCount > PartCap {
		c.logger.Warn("conversation parts truncated by api cap",
			zap.String("conversation_id", id),
			zap.Int("total_count", conv.Parts.TotalCount),
			zap.Int("cap", PartCap))
	}
	return &conv, nil
}

// GetContact fetches a single contact by id.
func (c *Client) GetContact(ctx context.Context, id string) (*Contact, error) {
	var contact Contact
	if err := c.do(ctx, http.MethodGet, "/contacts/"+url.PathEscape(id), nil, nil, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

// GetAdmin fetches a single admin by id.
func (c *Client) GetAdmin(ctx context.Context, id string) (*Admin, error) {
	var admin Admin
	if err := c.do(ctx, http.MethodGet, "/admins/"+url.PathEscape(id), nil, nil, &admin); err != nil {
		return nil, err
	}
	return &admin, nil
}

// ListAdmins fetches all admins. The collection is small; the endpoint
// is not paginated.
func (c *Client) ListAdmins(ctx context.Context) ([]Admin, error) {
	var list adminList
	if err := c.do(ctx, http.MethodGet, "/admins", nil, nil, &list); err != nil {
		return nil, err
	}
	return list.Admins, nil
}

// ListTags fetches all workspace tags.
func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	var list tagList
	if err := c.do(ctx, http.MethodGet, "/tags", nil, nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func nextCursor(p *Pages) string {
	if p == nil || p.Next == nil {
		return ""
	}
	return p.Next.StartingAfter
}
