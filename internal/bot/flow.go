package bot

import (
	"context"
	"strconv"
	"strings"

	"wasched/internal/eventbus"
	"wasched/internal/metrics"
	"wasched/internal/schedule"
	"wasched/internal/transport/telegram/router"
	"wasched/internal/wizard"
	logx "wasched/pkg/logx"
	"wasched/pkg/tgui"
)

const (
	msgNoSession = "Tidak ada proses yang sedang berjalan. Ketik /menu untuk mulai."
	msgAborted   = "Proses dibatalkan."
)

// sessionKey scopes a dialog to the chat it runs in, so the same user in a
// group does not feed a private wizard.
func sessionKey(req *router.Request) wizard.Key {
	return wizard.Key{ChatID: req.Chat.ChatID, UserID: req.FromID}
}

// begin stores a freshly started session, replacing whatever the user was
// doing, and shows its first prompt.
func (b *Bot) begin(ctx context.Context, req *router.Request, s wizard.Session, out wizard.Outcome) error {
	b.d.Sessions.Put(sessionKey(req), s)
	b.afterTurn(req, s, out)
	_, err := b.render(s, out).Send(ctx, req.Adapter, req.Chat)
	return err
}

// turn feeds one input into the user's active session.
func (b *Bot) turn(ctx context.Context, req *router.Request, in wizard.Input) error {
	s, ok := b.d.Sessions.Get(sessionKey(req))
	if !ok {
		if m := req.Update.Message; m != nil && !m.IsPrivate {
			// Group chatter outside a wizard is not for us.
			return nil
		}
		return req.Reply(ctx, msgNoSession)
	}

	next, out := wizard.Advance(ctx, b.wizardDeps(), s, in)
	b.d.Sessions.Put(sessionKey(req), next)
	b.afterTurn(req, next, out)
	_, err := b.render(next, out).Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) afterTurn(req *router.Request, s wizard.Session, out wizard.Outcome) {
	if out.Err != nil {
		req.Logger.Warn("wizard step failed", logx.String("step", string(s.Step)), logx.Err(out.Err))
	}
	if e := out.Created; e != nil {
		b.created(req, *e, "wizard")
	}
	if e := out.Cancelled; e != nil {
		b.cancelled(req, *e)
	}
}

func (b *Bot) created(req *router.Request, e schedule.Entry, source string) {
	metrics.EntriesCreated.WithLabelValues(source).Inc()
	b.d.Bus.Publish(eventbus.Event{Type: eventbus.EntryCreated, Data: eventbus.EntryEvent{ID: e.ID, OwnerID: e.OwnerID, At: e.DateTime}})
	req.Logger.Info("entry scheduled", logx.String("entry", e.ID), logx.Time("at", e.DateTime), logx.String("source", source))
}

func (b *Bot) cancelled(req *router.Request, e schedule.Entry) {
	metrics.EntriesCancelled.Inc()
	b.d.Bus.Publish(eventbus.Event{Type: eventbus.EntryCancelled, Data: eventbus.EntryEvent{ID: e.ID, OwnerID: e.OwnerID, At: e.DateTime}})
	req.Logger.Info("entry cancelled", logx.String("entry", e.ID))
}

// render attaches the keyboard the outcome asks for. Live sessions always
// get a Batal button.
func (b *Bot) render(s wizard.Session, out wizard.Outcome) tgui.Message {
	kb := tgui.NewInline()
	switch out.Buttons {
	case wizard.ButtonsConfirm:
		kb.Row(
			tgui.Btn("✅ Ya", tgui.Data(ns, "confirm", confirmPayload(out.Nonce, true))),
			tgui.Btn("✖️ Tidak", tgui.Data(ns, "confirm", confirmPayload(out.Nonce, false))),
		)
	case wizard.ButtonsChoices:
		action := "pick"
		if s.Kind == wizard.KindCancel {
			action = "cancelpick"
		}
		for i, label := range out.Options {
			data, err := tgui.CheckData(ns, action, choicePayload(out.Nonce, i))
			if err != nil {
				continue
			}
			kb.Row(tgui.Btn(label, data))
		}
	}
	if !s.Step.Terminal() {
		kb.Row(tgui.Btn("❌ Batal", tgui.Data(ns, "abort", "")))
	}
	return tgui.New().Line(out.Text).Inline(kb).Build()
}

func choicePayload(nonce string, i int) string {
	return nonce + "." + strconv.Itoa(i)
}

func parseChoicePayload(p string) (nonce string, i int, ok bool) {
	nonce, idx, found := strings.Cut(p, ".")
	if !found || nonce == "" {
		return "", 0, false
	}
	i, err := strconv.Atoi(idx)
	if err != nil || i < 0 {
		return "", 0, false
	}
	return nonce, i, true
}

func confirmPayload(nonce string, yes bool) string {
	if yes {
		return nonce + ".ya"
	}
	return nonce + ".tidak"
}

func parseConfirmPayload(p string) (nonce string, yes bool, ok bool) {
	nonce, answer, found := strings.Cut(p, ".")
	if !found || nonce == "" {
		return "", false, false
	}
	switch answer {
	case "ya":
		return nonce, true, true
	case "tidak":
		return nonce, false, true
	}
	return "", false, false
}

// abort ends the user's session, whatever its kind.
func (b *Bot) abort(ctx context.Context, req *router.Request) error {
	s, ok := b.d.Sessions.Get(sessionKey(req))
	if !ok {
		return req.Reply(ctx, msgNoSession)
	}
	next, out := wizard.Advance(ctx, b.wizardDeps(), s, wizard.Cancel())
	b.d.Sessions.Put(sessionKey(req), next)
	if out.Text == "" {
		out.Text = msgAborted
	}
	_, err := b.render(next, out).Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) handleText(ctx context.Context, req *router.Request) error {
	return b.turn(ctx, req, wizard.Text(req.Text))
}

func (b *Bot) cbPick(ctx context.Context, req *router.Request, payload string) error {
	nonce, i, ok := parseChoicePayload(payload)
	if !ok {
		return nil
	}
	return b.turn(ctx, req, wizard.Choice(nonce, i))
}

func (b *Bot) cbConfirm(ctx context.Context, req *router.Request, payload string) error {
	nonce, yes, ok := parseConfirmPayload(payload)
	if !ok {
		return nil
	}
	return b.turn(ctx, req, wizard.Confirm(nonce, yes))
}

func (b *Bot) cbAbort(ctx context.Context, req *router.Request, _ string) error {
	return b.abort(ctx, req)
}
