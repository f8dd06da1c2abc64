// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package remote

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

	"github.com/danielhkuo/pollsync/acceptance"
	"github.com/danielhkuo/pollsync/models"
)

const (
	DefaultTimeout = 15 * time.Second

	headerAnonymousID = "X-Anonymous-ID"
	maxErrorBody      = 4 << 10
)

var (
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrNoUserToken      = errors.New("no bearer token for user identity")
)

// TokenFunc returns the bearer token to present for userID.
type TokenFunc func(ctx context.Context, userID string) (string, error)

// StaticToken serves one token for one user.
func StaticToken(userID, token string) TokenFunc {
	return func(_ context.Context, id string) (string, error) {
		if id != userID {
			return "", fmt.Errorf("%w: %s", ErrNoUserToken, id)
		}
		return token, nil
	}
}

// Client talks to the poll service over HTTP. It implements
// acceptance.Backend: domain rejections come back as the acceptance
// sentinels, everything else as a plain error.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenFunc
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTokenFunc(f TokenFunc) Option {
	return func(c *Client) { c.token = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks that the service answers GET /health.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func (c *Client) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	resp, err := c.do(ctx, http.MethodGet, "/polls/"+url.PathEscape(pollID), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var p models.Poll
		if err := decode(resp, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case http.StatusNotFound:
		return nil, rejection(resp)
	}
	return nil, statusError(resp)
}

// ListRecentPolls returns up to limit public polls, newest first.
func (c *Client) ListRecentPolls(ctx context.Context, limit int) ([]models.Poll, error) {
	resp, err := c.do(ctx, http.MethodGet, "/polls?limit="+strconv.Itoa(limit), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var out models.ListPollsResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Polls, nil
}

func (c *Client) GetVote(ctx context.Context, pollID string, identity models.Identity) (models.Choice, bool, error) {
	headers, err := c.identityHeaders(ctx, identity)
	if err != nil {
		return "", false, err
	}
	resp, err := c.do(ctx, http.MethodGet, "/polls/"+url.PathEscape(pollID)+"/votes/me", nil, headers)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out models.MyVoteResponse
		if err := decode(resp, &out); err != nil {
			return "", false, err
		}
		return out.Choice, true, nil
	case http.StatusNotFound:
		return "", false, nil
	}
	return "", false, statusError(resp)
}

func (c *Client) InsertVote(ctx context.Context, pollID string, choice models.Choice, identity models.Identity) (string, error) {
	headers, err := c.identityHeaders(ctx, identity)
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, http.MethodPost, "/polls/"+url.PathEscape(pollID)+"/votes",
		models.CastVoteRequest{Choice: choice}, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var out models.CastVoteResponse
		if err := decode(resp, &out); err != nil {
			return "", err
		}
		return out.VoteID, nil
	case http.StatusNotFound, http.StatusConflict, http.StatusGone:
		return "", rejection(resp)
	}
	return "", statusError(resp)
}

// PublishDraft creates the poll for a device draft. The service keys the
// request on ClientDraftID, so retrying after a lost response is safe.
func (c *Client) PublishDraft(ctx context.Context, req models.PublishDraftRequest) (models.PublishDraftResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/drafts/publish", req, nil)
	if err != nil {
		return models.PublishDraftResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return models.PublishDraftResponse{}, statusError(resp)
	}
	var out models.PublishDraftResponse
	if err := decode(resp, &out); err != nil {
		return models.PublishDraftResponse{}, err
	}
	if out.PollID == "" {
		return models.PublishDraftResponse{}, errors.New("publish response missing poll_id")
	}
	return out, nil
}

func (c *Client) identityHeaders(ctx context.Context, identity models.Identity) (map[string]string, error) {
	if !identity.Valid() {
		return nil, acceptance.ErrInvalidIdentity
	}
	if identity.IsAnonymous() {
		return map[string]string{headerAnonymousID: identity.AnonymousID}, nil
	}
	if c.token == nil {
		return nil, ErrNoUserToken
	}
	token, err := c.token(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.logger.Debug("remote request", "method", method, "path", path,
		"status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func decode(resp *http.Response, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readError(resp *http.Response) models.ErrorResponse {
	var out models.ErrorResponse
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(body, &out); err != nil {
		out.Message = strings.TrimSpace(string(body))
	}
	return out
}

// rejection maps a coded error body to the acceptance sentinels. A 404
// without a poll_not_found code is a routing problem, not a missing poll.
func rejection(resp *http.Response) error {
	e := readError(resp)
	switch e.Code {
	case models.CodePollNotFound:
		return acceptance.ErrPollNotFound
	case models.CodePollClosed:
		return acceptance.ErrPollClosed
	case models.CodeAlreadyVoted:
		return acceptance.ErrAlreadyVoted
	}
	return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, e.Message)
}

func statusError(resp *http.Response) error {
	e := readError(resp)
	msg := e.Message
	if msg == "" {
		msg = e.Error
	}
	return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, msg)
}
