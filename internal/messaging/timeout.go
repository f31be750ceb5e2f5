package messaging

import (
	"context"
	"time"

	"wasched/internal/target"
)

// WithTimeout bounds every backend call. IsReady uses a shorter budget
// because it gates every dispatch tick.
func WithTimeout(b Backend, d time.Duration) Backend {
	if d <= 0 {
		return b
	}
	tb := &timeoutBackend{next: b, d: d}
	if sc, ok := b.(SessionController); ok {
		return &timeoutSessionBackend{timeoutBackend: tb, sc: sc}
	}
	return tb
}

type timeoutBackend struct {
	next Backend
	d    time.Duration
}

func (t *timeoutBackend) IsReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, min(t.d, 5*time.Second))
	defer cancel()
	return t.next.IsReady(ctx)
}

func (t *timeoutBackend) FindByNameFuzzy(ctx context.Context, query string, scope target.Scope) ([]target.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.FindByNameFuzzy(ctx, query, scope)
}

func (t *timeoutBackend) JoinGroupByInvite(ctx context.Context, token string) (JoinResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.JoinGroupByInvite(ctx, token)
}

func (t *timeoutBackend) ResolveDisplayName(ctx context.Context, id string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.ResolveDisplayName(ctx, id)
}

// Send keeps the caller's deadline; the dispatcher applies its own.
func (t *timeoutBackend) Send(ctx context.Context, to, text string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.d)
		defer cancel()
	}
	return t.next.Send(ctx, to, text)
}

type timeoutSessionBackend struct {
	*timeoutBackend
	sc SessionController
}

func (t *timeoutSessionBackend) LoginQR(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.sc.LoginQR(ctx)
}

func (t *timeoutSessionBackend) Logout(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.sc.Logout(ctx)
}
