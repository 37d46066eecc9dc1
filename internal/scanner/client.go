package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/boomfest/boom-tickets/internal/auth"
	"github.com/boomfest/boom-tickets/internal/domain"
)

// Result is the server's verdict on a scan, or on a commit.
type Result struct {
	Verdict     domain.VerdictKind `json:"verdict"`
	Candidate   string             `json:"candidate"`
	Status      domain.Status      `json:"status"`
	CheckedInAt *time.Time         `json:"checked_in_at"`
	Order       *domain.Order      `json:"order"`
	Admit       bool               `json:"admit"`
	Message     string             `json:"message"`
}

// API is the check-in surface a door device talks to.
type API interface {
	Validate(ctx context.Context, payload string) (Result, error)
	Commit(ctx context.Context, id domain.OrderID, device string) (Result, error)
}

// Client calls the check-in endpoints of the API server.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Login(ctx context.Context, password, operator string) (auth.Session, error) {
	var s auth.Session
	status, err := c.post(ctx, "/v1/auth/login", map[string]string{"password": password, "operator": operator}, &s)
	if err != nil {
		return s, err
	}
	if status != http.StatusOK {
		return s, errors.Newf("login failed: HTTP %d", status)
	}
	c.token = s.Token
	return s, nil
}

func (c *Client) Validate(ctx context.Context, payload string) (Result, error) {
	var r Result
	status, err := c.post(ctx, "/v1/checkin/validate", map[string]string{"payload": payload}, &r)
	if err != nil {
		return Result{}, err
	}
	if status != http.StatusOK {
		return Result{}, errors.Newf("validate failed: HTTP %d", status)
	}
	return r, nil
}

// Commit reports the server's answer. A non-2xx answer is a refusal, not an
// error; the Result then has Admit=false.
func (c *Client) Commit(ctx context.Context, id domain.OrderID, device string) (Result, error) {
	var r Result
	status, err := c.post(ctx, "/v1/checkin/commit", map[string]any{"order_id": id, "device": device}, &r)
	if err != nil {
		return Result{}, err
	}
	if status == http.StatusUnauthorized {
		return Result{}, auth.ErrInvalidToken
	}
	if status != http.StatusOK {
		r.Admit = false
	}
	return r, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "POST %s", path)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && resp.StatusCode < 300 {
		return resp.StatusCode, errors.Wrapf(err, "decode %s response", path)
	}
	return resp.StatusCode, nil
}
