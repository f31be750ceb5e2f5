package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"wasched/internal/target"
)

// Memory is an in-process backend. It keeps a contact and group
// directory, records sent messages and can be told to fail.
type Memory struct {
	ready atomic.Bool

	mu       sync.Mutex
	contacts []target.Candidate
	groups   []target.Candidate
	invites  map[string]JoinResult
	sent     []Sent
	failFor  map[string]error
	seq      int
}

// Sent is one message accepted by Memory.
type Sent struct {
	RemoteID string
	To       string
	Text     string
}

func NewMemory() *Memory {
	m := &Memory{invites: map[string]JoinResult{}, failFor: map[string]error{}}
	m.ready.Store(true)
	return m
}

func (m *Memory) SetReady(v bool) { m.ready.Store(v) }

func (m *Memory) SetContacts(cs ...target.Candidate) {
	m.mu.Lock()
	m.contacts = append([]target.Candidate(nil), cs...)
	m.mu.Unlock()
}

func (m *Memory) SetGroups(gs ...target.Candidate) {
	m.mu.Lock()
	m.groups = append([]target.Candidate(nil), gs...)
	m.mu.Unlock()
}

// SetInvite registers the result JoinGroupByInvite returns for token.
func (m *Memory) SetInvite(token string, res JoinResult) {
	m.mu.Lock()
	m.invites[token] = res
	m.mu.Unlock()
}

// FailSendsTo makes every Send to the given chat id fail with err.
// A nil err clears the failure.
func (m *Memory) FailSendsTo(to string, err error) {
	m.mu.Lock()
	if err == nil {
		delete(m.failFor, to)
	} else {
		m.failFor[to] = err
	}
	m.mu.Unlock()
}

func (m *Memory) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

func (m *Memory) IsReady(context.Context) bool { return m.ready.Load() }

func (m *Memory) FindByNameFuzzy(ctx context.Context, query string, scope target.Scope) ([]target.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	dir := m.contacts
	if scope == target.ScopeGroups {
		dir = m.groups
	}
	dir = append([]target.Candidate(nil), dir...)
	m.mu.Unlock()
	return target.MatchName(dir, query), nil
}

func (m *Memory) JoinGroupByInvite(ctx context.Context, token string) (JoinResult, error) {
	if err := ctx.Err(); err != nil {
		return JoinResult{}, err
	}
	if !m.ready.Load() {
		return JoinResult{}, ErrNotReady
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.invites[token]
	if !ok {
		return JoinResult{Reason: "Link undangan tidak valid atau kedaluwarsa."}, nil
	}
	if res.OK && res.GroupID != "" {
		m.groups = append(m.groups, target.Candidate{ID: res.GroupID, DisplayName: res.GroupName})
	}
	return res, nil
}

func (m *Memory) ResolveDisplayName(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dir := range [][]target.Candidate{m.contacts, m.groups} {
		for _, c := range dir {
			if c.ID == id {
				return c.DisplayName, nil
			}
		}
	}
	return "", errors.New("messaging: unknown chat")
}

func (m *Memory) Send(ctx context.Context, to, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !m.ready.Load() {
		return "", ErrNotReady
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[to]; err != nil {
		return "", err
	}
	m.seq++
	id := fmt.Sprintf("mem-%d", m.seq)
	m.sent = append(m.sent, Sent{RemoteID: id, To: to, Text: text})
	return id, nil
}

func (m *Memory) LoginQR(context.Context) ([]byte, error) {
	if m.ready.Load() {
		return nil, ErrLoggedIn
	}
	return nil, errors.New("messaging: memory backend has no QR")
}

func (m *Memory) Logout(context.Context) error {
	m.ready.Store(false)
	return nil
}
