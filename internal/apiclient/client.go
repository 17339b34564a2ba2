// Package apiclient is the typed HTTP client the journal session uses to
// reach the Whispr backend. Failures come back classified so the session's
// retry policy never has to probe response bodies.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/seeyara/whispr/internal/cuddle"
	"github.com/seeyara/whispr/internal/soulerr"
	"github.com/seeyara/whispr/internal/store"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type CompletionRequest struct {
	Message        string          `json:"message"`
	CuddleID       cuddle.ID       `json:"cuddleId"`
	MessageHistory []store.Message `json:"messageHistory"`
	ForceEnd       bool            `json:"forceEnd,omitempty"`
}

type CompletionResponse struct {
	Response  string `json:"response"`
	ShouldEnd bool   `json:"shouldEnd"`
}

// Completion asks for the next companion turn. Honors ctx cancellation so a
// superseding send can abort the underlying transport.
func (c *Client) Completion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var resp CompletionResponse
	if err := c.postJSON(ctx, "/api/chat-completion", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type SaveChatRequest struct {
	Messages []store.Message `json:"messages"`
	UserID   string          `json:"userId"`
	CuddleID cuddle.ID       `json:"cuddleId"`
	Mode     store.EntryMode `json:"mode,omitempty"`
	Date     string          `json:"date,omitempty"`
}

// SaveChat upserts the full transcript for the user's day.
func (c *Client) SaveChat(ctx context.Context, req SaveChatRequest) error {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.postJSON(ctx, "/api/chat", req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return soulerr.New(soulerr.KindTransient, "save was not acknowledged")
	}
	return nil
}

// Entry is one backward page of a stored day.
type Entry struct {
	Messages []store.Message `json:"messages"`
	CuddleID cuddle.ID       `json:"cuddleId"`
	Mode     store.EntryMode `json:"mode"`
	HasMore  bool            `json:"hasMore"`
}

// LoadEntry fetches a page of today's (or any date's) entry. Returns nil
// when no entry exists.
func (c *Client) LoadEntry(ctx context.Context, userID, date string, page int) (*Entry, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("date", date)
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}

	var resp struct {
		Data *Entry `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/chat?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// LastUnfinished probes for a prior session whose last word was the user's.
func (c *Client) LastUnfinished(ctx context.Context, userID string) (*store.Unfinished, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("unfinished", "1")

	var resp struct {
		Data *struct {
			LastUnfinished store.Unfinished `json:"lastUnfinished"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/chat?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	return &resp.Data.LastUnfinished, nil
}

type CompleteJournalRequest struct {
	UserID   string          `json:"userId"`
	CuddleID cuddle.ID       `json:"cuddleId"`
	Messages []store.Message `json:"messages"`
	Mode     store.EntryMode `json:"mode,omitempty"`
	Date     string          `json:"date,omitempty"`
	Forced   bool            `json:"forced,omitempty"`
}

type CompleteJournalResponse struct {
	Success         bool            `json:"success"`
	FarewellMessage string          `json:"farewellMessage"`
	Messages        []store.Message `json:"messages"`
}

// CompleteJournal finishes the entry server-side and returns the farewell.
func (c *Client) CompleteJournal(ctx context.Context, req CompleteJournalRequest) (*CompleteJournalResponse, error) {
	var resp CompleteJournalResponse
	if err := c.postJSON(ctx, "/api/journal/complete", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Streak fetches the user's current and longest journaling streaks.
func (c *Client) Streak(ctx context.Context, userID string) (*store.Streak, error) {
	q := url.Values{}
	q.Set("userId", userID)

	var streak store.Streak
	if err := c.getJSON(ctx, "/api/streak?"+q.Encode(), &streak); err != nil {
		return nil, err
	}
	return &streak, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return soulerr.Wrap(soulerr.KindFatal, "failed to marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return soulerr.Wrap(soulerr.KindFatal, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return soulerr.Wrap(soulerr.KindFatal, "failed to create request", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(req.Context(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return soulerr.Wrap(soulerr.KindTransient, "failed to decode response", err)
	}
	return nil
}

func (c *Client) handleError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	message := body.Error
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}
	return soulerr.New(soulerr.FromStatusCode(resp.StatusCode), message)
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return soulerr.Wrap(soulerr.KindCanceled, "request superseded", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return soulerr.Wrap(soulerr.KindTimeout, "request timed out", err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return soulerr.Wrap(soulerr.KindTimeout, "request timed out", err)
	}
	return soulerr.Wrap(soulerr.KindTransient, "request failed", err)
}
