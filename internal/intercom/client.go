package intercom

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
)

const defaultBaseURL = "https://api.intercom.io"

// ErrNotFound is carried by a fatal Result when the upstream reports 404.
var ErrNotFound = errors.New("conversation not found")

// Outcome classifies how an upstream call ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Result is the tagged outcome of one upstream call. A Retryable result means
// the attempt budget ran out; callers treat it, like Fatal, as a miss.
type Result[T any] struct {
	Value    T
	Outcome  Outcome
	Status   int
	Attempts int
	Err      error
}

func (r Result[T]) OK() bool { return r.Outcome == OutcomeSuccess }

type Options struct {
	BaseURL     string
	Token       string
	APIVersion  string
	HTTPClient  *http.Client
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger
}

// Client talks to the conversation search and detail endpoints. It keeps no
// state across calls.
type Client struct {
	baseURL     string
	token       string
	apiVersion  string
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *slog.Logger
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	apiVersion := opts.APIVersion
	if apiVersion == "" {
		apiVersion = "2.11"
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxDelay := opts.MaxDelay
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     baseURL,
		token:       opts.Token,
		apiVersion:  apiVersion,
		client:      httpClient,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		logger:      logger,
	}
}

type searchFilter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    int64  `json:"value"`
}

type searchRequest struct {
	Query struct {
		Operator string         `json:"operator"`
		Value    []searchFilter `json:"value"`
	} `json:"query"`
	Sort struct {
		Field string `json:"field"`
		Order string `json:"order"`
	} `json:"sort"`
	Pagination struct {
		PerPage       int    `json:"per_page"`
		StartingAfter string `json:"starting_after,omitempty"`
	} `json:"pagination"`
}

type searchResponse struct {
	Conversations []Summary `json:"conversations"`
	TotalCount    int       `json:"total_count"`
	Pages         struct {
		Next *struct {
			StartingAfter string `json:"starting_after"`
		} `json:"next"`
	} `json:"pages"`
}

// SearchConversations returns the page of conversations updated inside w,
// oldest update first, continuing from cursor ("" starts the window).
func (c *Client) SearchConversations(ctx context.Context, w Window, pageSize int, cursor string) Result[*SearchPage] {
	var req searchRequest
	// The search API only offers strict comparisons; widen by a second so
	// both window ends are inclusive.
	req.Query.Operator = "AND"
	req.Query.Value = []searchFilter{
		{Field: "updated_at", Operator: ">", Value: w.Start.Unix() - 1},
		{Field: "updated_at", Operator: "<", Value: w.End.Unix() + 1},
	}
	req.Sort.Field = "updated_at"
	req.Sort.Order = "ascending"
	req.Pagination.PerPage = pageSize
	req.Pagination.StartingAfter = cursor

	body, err := json.Marshal(req)
	if err != nil {
		return Result[*SearchPage]{Outcome: OutcomeFatal, Err: fmt.Errorf("marshal search: %w", err)}
	}

	raw := c.do(ctx, http.MethodPost, "/conversations/search", body)
	if !raw.OK() {
		return Result[*SearchPage]{Outcome: raw.Outcome, Status: raw.Status, Attempts: raw.Attempts, Err: raw.Err}
	}

	var resp searchResponse
	if err := json.Unmarshal(raw.Value, &resp); err != nil {
		return Result[*SearchPage]{Outcome: OutcomeFatal, Status: raw.Status, Attempts: raw.Attempts, Err: fmt.Errorf("parse search response: %w", err)}
	}
	page := &SearchPage{
		Conversations: resp.Conversations,
		TotalCount:    resp.TotalCount,
	}
	if resp.Pages.Next != nil {
		page.NextCursor = resp.Pages.Next.StartingAfter
	}
	return Result[*SearchPage]{Value: page, Outcome: OutcomeSuccess, Status: raw.Status, Attempts: raw.Attempts}
}

// GetConversation fetches the full conversation including all parts.
func (c *Client) GetConversation(ctx context.Context, id string) Result[*Conversation] {
	if strings.TrimSpace(id) == "" {
		return Result[*Conversation]{Outcome: OutcomeFatal, Err: errors.New("empty conversation id")}
	}

	raw := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil)
	if !raw.OK() {
		return Result[*Conversation]{Outcome: raw.Outcome, Status: raw.Status, Attempts: raw.Attempts, Err: raw.Err}
	}

	var conv Conversation
	if err := json.Unmarshal(raw.Value, &conv); err != nil {
		return Result[*Conversation]{Outcome: OutcomeFatal, Status: raw.Status, Attempts: raw.Attempts, Err: fmt.Errorf("parse conversation %s: %w", id, err)}
	}
	if conv.ID == "" {
		conv.ID = id
	}
	return Result[*Conversation]{Value: &conv, Outcome: OutcomeSuccess, Status: raw.Status, Attempts: raw.Attempts}
}

// do runs one call with bounded exponential backoff on 429, 5xx and
// transport errors.
func (c *Client) do(ctx context.Context, method, path string, body []byte) Result[[]byte] {
	endpoint := c.baseURL + path

	for attempt := 1; ; attempt++ {
		status, respBody, retryAfter, err := c.send(ctx, method, endpoint, body)

		var outcome Outcome
		switch {
		case ctx.Err() != nil:
			return Result[[]byte]{Outcome: OutcomeFatal, Status: status, Attempts: attempt, Err: ctx.Err()}
		case err != nil:
			outcome = OutcomeRetryable
		default:
			outcome = classify(status)
		}

		switch outcome {
		case OutcomeSuccess:
			return Result[[]byte]{Value: respBody, Outcome: OutcomeSuccess, Status: status, Attempts: attempt}
		case OutcomeFatal:
			callErr := apiError(status, respBody)
			if status == http.StatusNotFound {
				callErr = fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			return Result[[]byte]{Outcome: OutcomeFatal, Status: status, Attempts: attempt, Err: callErr}
		}

		if err == nil {
			err = apiError(status, respBody)
		}
		if attempt >= c.maxAttempts {
			return Result[[]byte]{
				Outcome:  OutcomeRetryable,
				Status:   status,
				Attempts: attempt,
				Err:      fmt.Errorf("retries exhausted after %d attempts: %w", attempt, err),
			}
		}

		delay := c.retryDelay(attempt, retryAfter)
		c.logger.Warn("upstream call failed, retrying",
			"method", method,
			"path", path,
			"status", status,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if waitErr := sleepContext(ctx, delay); waitErr != nil {
			return Result[[]byte]{Outcome: OutcomeFatal, Status: status, Attempts: attempt, Err: waitErr}
		}
	}
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte) (int, []byte, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Intercom-Version", c.apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, "", fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, resp.Header.Get("Retry-After"), nil
}

func classify(status int) Outcome {
	switch {
	case status >= 200 && status <= 299:
		return OutcomeSuccess
	case status == http.StatusTooManyRequests, status >= 500 && status <= 599:
		return OutcomeRetryable
	default:
		return OutcomeFatal
	}
}

type errorResponse struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func apiError(status int, body []byte) error {
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && len(errResp.Errors) > 0 {
		return fmt.Errorf("api error %d: %s: %s", status, errResp.Errors[0].Code, errResp.Errors[0].Message)
	}
	return fmt.Errorf("api error %d: %s", status, strings.TrimSpace(string(body)))
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
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
