// Package gateway talks to a WhatsApp HTTP gateway sidecar (a whatsapp-web
// bridge exposing a small JSON API).
//
// Endpoints:
//
//	GET  /status            {"ready":bool}
//	GET  /contacts          [{"id","name","number"}]
//	GET  /groups            [{"id","name"}]
//	POST /groups/join       {"code"} -> {"ok","groupId","groupName","needsName","message"}
//	GET  /chats/{id}        {"id","name"}
//	POST /messages          {"chatId","text"} -> {"messageId"}
//	GET  /session/qr        image/png, 409 when already paired
//	POST /session/logout
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"wasched/internal/messaging"
	"wasched/internal/target"
	logx "wasched/pkg/logx"
)

type Config struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	DirectoryTTL time.Duration
	HTTPClient   *http.Client
}

type Client struct {
	base   string
	token  string
	client *http.Client
	log    logx.Logger

	dirTTL time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[target.Scope]dirSnapshot
}

type dirSnapshot struct {
	at      time.Time
	entries []target.Candidate
}

var (
	_ messaging.Backend           = (*Client)(nil)
	_ messaging.SessionController = (*Client)(nil)
)

func New(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("gateway: base url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	ttl := cfg.DirectoryTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:   base,
		token:  strings.TrimSpace(cfg.Token),
		client: hc,
		log:    log,
		dirTTL: ttl,
		now:    time.Now,
		cache:  map[target.Scope]dirSnapshot{},
	}, nil
}

type statusResponse struct {
	Ready bool `json:"ready"`
}

func (c *Client) IsReady(ctx context.Context) bool {
	var st statusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/status", nil, &st, http.StatusOK); err != nil {
		c.log.Debug("gateway status failed", logx.Err(err))
		return false
	}
	return st.Ready
}

type chatEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number string `json:"number,omitempty"`
}

func (c *Client) directory(ctx context.Context, scope target.Scope) ([]target.Candidate, error) {
	c.mu.Lock()
	snap, ok := c.cache[scope]
	c.mu.Unlock()
	if ok && c.now().Sub(snap.at) < c.dirTTL {
		return snap.entries, nil
	}

	path := "/contacts"
	if scope == target.ScopeGroups {
		path = "/groups"
	}
	var raw []chatEntry
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &raw, http.StatusOK); err != nil {
		return nil, err
	}
	entries := make([]target.Candidate, 0, len(raw))
	for _, r := range raw {
		if r.ID == "" || strings.TrimSpace(r.Name) == "" {
			continue
		}
		entries = append(entries, target.Candidate{ID: r.ID, DisplayName: r.Name, Detail: r.Number})
	}

	c.mu.Lock()
	c.cache[scope] = dirSnapshot{at: c.now(), entries: entries}
	c.mu.Unlock()
	return entries, nil
}

func (c *Client) invalidate(scope target.Scope) {
	c.mu.Lock()
	delete(c.cache, scope)
	c.mu.Unlock()
}

func (c *Client) FindByNameFuzzy(ctx context.Context, query string, scope target.Scope) ([]target.Candidate, error) {
	dir, err := c.directory(ctx, scope)
	if err != nil {
		return nil, err
	}
	return target.MatchName(dir, query), nil
}

type joinRequest struct {
	Code string `json:"code"`
}

type joinResponse struct {
	OK        bool   `json:"ok"`
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
	NeedsName bool   `json:"needsName"`
	Message   string `json:"message"`
}

func (c *Client) JoinGroupByInvite(ctx context.Context, token string) (messaging.JoinResult, error) {
	var jr joinResponse
	err := c.doJSON(ctx, http.MethodPost, "/groups/join", joinRequest{Code: token}, &jr, http.StatusOK)
	if err != nil {
		return messaging.JoinResult{}, err
	}
	c.invalidate(target.ScopeGroups)
	return messaging.JoinResult{
		OK:        jr.OK && jr.GroupID != "",
		GroupID:   jr.GroupID,
		GroupName: jr.GroupName,
		NeedsName: jr.NeedsName,
		Reason:    jr.Message,
	}, nil
}

func (c *Client) ResolveDisplayName(ctx context.Context, id string) (string, error) {
	var ce chatEntry
	if err := c.doJSON(ctx, http.MethodGet, "/chats/"+url.PathEscape(id), nil, &ce, http.StatusOK); err != nil {
		return "", err
	}
	return ce.Name, nil
}

type sendRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

func (c *Client) Send(ctx context.Context, to, text string) (string, error) {
	var sr sendResponse
	err := c.doJSON(ctx, http.MethodPost, "/messages", sendRequest{ChatID: target.ChatID(to), Text: text}, &sr,
		http.StatusOK, http.StatusCreated, http.StatusAccepted)
	if err != nil {
		return "", err
	}
	if sr.MessageID == "" {
		return "", errors.New("gateway: missing messageId in response")
	}
	return sr.MessageID, nil
}

func (c *Client) LoginQR(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/session/qr", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))

	switch resp.StatusCode {
	case http.StatusOK:
		if len(body) == 0 {
			return nil, errors.New("gateway: empty qr image")
		}
		return body, nil
	case http.StatusConflict:
		return nil, messaging.ErrLoggedIn
	default:
		return nil, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "/session/logout", nil, nil, http.StatusOK, http.StatusNoContent)
	if err == nil {
		c.invalidate(target.ScopeContacts)
		c.invalidate(target.ScopeGroups)
	}
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, okStatus ...int) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if !statusIn(resp.StatusCode, okStatus) {
		return fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	return nil
}

func statusIn(code int, ok []int) bool {
	for _, c := range ok {
		if code == c {
			return true
		}
	}
	return false
}
