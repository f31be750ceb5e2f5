// Package messaging defines the WhatsApp backend contract used by the
// wizard and the dispatch loop.
package messaging

import (
	"context"
	"errors"

	"wasched/internal/target"
)

var (
	ErrNotReady = errors.New("messaging: backend not ready")
	// ErrLoggedIn is returned by LoginQR when the session is already paired.
	ErrLoggedIn = errors.New("messaging: already logged in")
)

// JoinResult is the outcome of joining a group through an invite link.
type JoinResult struct {
	OK        bool
	GroupID   string
	GroupName string
	// NeedsName is set when the join went through (or was pending) but the
	// backend could not tell which group it was; the user must name it.
	NeedsName bool
	// Reason is a human readable explanation, shown to the user as is.
	Reason string
}

// Backend is the messaging network as seen by this service.
type Backend interface {
	IsReady(ctx context.Context) bool
	FindByNameFuzzy(ctx context.Context, query string, scope target.Scope) ([]target.Candidate, error)
	JoinGroupByInvite(ctx context.Context, token string) (JoinResult, error)
	// ResolveDisplayName is best effort; callers fall back to the id.
	ResolveDisplayName(ctx context.Context, id string) (string, error)
	Send(ctx context.Context, to, text string) (remoteID string, err error)
}

// SessionController is implemented by backends whose pairing can be driven
// from the chat (QR login, logout).
type SessionController interface {
	// LoginQR returns a PNG of the pairing QR code, or ErrLoggedIn.
	LoginQR(ctx context.Context) ([]byte, error)
	Logout(ctx context.Context) error
}

// DisplayNameOr resolves id and falls back to id itself on any failure.
func DisplayNameOr(ctx context.Context, b Backend, id string) string {
	name, err := b.ResolveDisplayName(ctx, id)
	if err != nil || name == "" {
		return id
	}
	return name
}
