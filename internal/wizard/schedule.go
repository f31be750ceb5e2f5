package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wasched/internal/datetime"
	"wasched/internal/messaging"
	"wasched/internal/schedule"
	"wasched/internal/target"
)

// StartSchedule opens a scheduling dialog for ownerID. The returned
// session is already waiting for the destination.
func StartSchedule(d Deps, ownerID int64, tt TargetType) (Session, Outcome) {
	s := Session{
		Kind:       KindSchedule,
		Step:       StepAskTarget,
		OwnerID:    ownerID,
		TargetType: tt,
		Draft:      schedule.Draft{OwnerID: ownerID},
		UpdatedAt:  d.now(),
	}
	return askTarget(s)
}

func askTarget(s Session) (Session, Outcome) {
	s.Step = StepAwaitTarget
	if s.TargetType == TargetGroup {
		return s, Outcome{Text: msgAskGroup}
	}
	return s, Outcome{Text: msgAskDirect}
}

// Advance applies one user turn.
func Advance(ctx context.Context, d Deps, s Session, in Input) (Session, Outcome) {
	s = s.clone()
	s.UpdatedAt = d.now()

	if s.Step.Terminal() {
		return s, Outcome{Text: msgSessionLost}
	}
	if in.Kind == InputCancel {
		s.Step = StepAborted
		if s.Kind == KindCancel {
			return s, Outcome{Text: msgCancelAborted}
		}
		return s, Outcome{Text: msgScheduleAborted}
	}
	if in.Kind == InputConfirm && s.Step != StepAwaitConfirmation {
		return s, Outcome{Text: msgStaleButton}
	}

	if s.Kind == KindCancel {
		return advanceCancel(ctx, d, s, in)
	}

	switch s.Step {
	case StepAskTarget:
		return askTarget(s)
	case StepAwaitTarget:
		return awaitTarget(ctx, d, s, in)
	case StepAwaitGroupName:
		return awaitGroupName(ctx, d, s, in)
	case StepAwaitConfirmation:
		return awaitConfirmation(s, in)
	case StepAwaitChoice:
		return awaitChoice(s, in)
	case StepAskMessage:
		return collectMessage(s, in)
	case StepAskDateTime:
		return collectDateTime(ctx, d, s, in)
	default:
		s.Step = StepAborted
		return s, Outcome{Text: msgSessionLost, Err: fmt.Errorf("wizard: unknown step %q", s.Step)}
	}
}

func awaitTarget(ctx context.Context, d Deps, s Session, in Input) (Session, Outcome) {
	text := strings.TrimSpace(in.Text)
	if in.Kind != InputText || text == "" {
		return s, Outcome{Text: msgEmptyTarget}
	}

	if s.TargetType == TargetDirect {
		if id, display, ok := target.NormalizeDirect(text); ok {
			return accept(s, target.Candidate{ID: id, DisplayName: display}, "Target (Pribadi - Nomor): "+display)
		}
		return searchByName(ctx, d, s, text)
	}

	if token, ok := target.GroupInviteToken(text); ok {
		return joinInvite(ctx, d, s, token)
	}
	if target.LooksLikeGroupAddress(text) {
		name := messaging.DisplayNameOr(ctx, d.Backend, text)
		return accept(s, target.Candidate{ID: text, DisplayName: name}, "Target (Grup): "+name)
	}
	return searchByName(ctx, d, s, text)
}

func joinInvite(ctx context.Context, d Deps, s Session, token string) (Session, Outcome) {
	res, err := d.Backend.JoinGroupByInvite(ctx, token)
	switch {
	case errors.Is(err, messaging.ErrNotReady):
		return s, Outcome{Text: msgNotReady + " Coba lagi nanti atau /batalscene."}
	case err != nil:
		return s, Outcome{Text: "Gagal memproses link grup. Coba lagi atau /batalscene.", Err: err}
	case res.OK && res.GroupID != "":
		name := res.GroupName
		if name == "" {
			name = res.GroupID
		}
		prefix := "Target (Grup): " + name
		if res.Reason != "" {
			prefix = res.Reason + "\n" + prefix
		}
		return accept(s, target.Candidate{ID: res.GroupID, DisplayName: name}, prefix)
	case res.NeedsName:
		s.InviteToken = token
		s.Step = StepAwaitGroupName
		msg := "Silakan masukkan nama grup tersebut:"
		if res.Reason != "" {
			msg = res.Reason + "\n" + msg
		}
		return s, Outcome{Text: msg}
	default:
		reason := res.Reason
		if reason == "" {
			reason = "alasan tidak diketahui"
		}
		return s, Outcome{Text: "Gagal memproses link grup: " + reason + "\nCoba lagi atau /batalscene."}
	}
}

func searchByName(ctx context.Context, d Deps, s Session, query string) (Session, Outcome) {
	cands, err := d.Backend.FindByNameFuzzy(ctx, query, s.TargetType.Scope())
	if err != nil {
		if errors.Is(err, messaging.ErrNotReady) {
			return s, Outcome{Text: msgNotReady + " Coba lagi nanti atau /batalscene."}
		}
		return s, Outcome{Text: "Gagal mencari target. Coba lagi atau /batalscene.", Err: err}
	}

	decision, snap := target.Decide(cands, true, d.MaxChoices)
	switch decision {
	case target.DecisionAccept:
		return accept(s, snap[0], "Target: "+snap[0].Label())
	case target.DecisionConfirm:
		c := snap[0]
		s.Pending = &c
		s.ChoiceNonce = d.nonce()
		s.Step = StepAwaitConfirmation
		return s, confirmOutcome(s)
	case target.DecisionChoose:
		s.Candidates = snap
		s.ChoiceNonce = d.nonce()
		s.Step = StepAwaitChoice
		return s, choicesOutcome(s)
	default:
		if s.TargetType == TargetGroup {
			return s, Outcome{Text: msgGroupNotFound}
		}
		return s, Outcome{Text: msgDirectNotFound}
	}
}

func choicesOutcome(s Session) Outcome {
	header := msgManyContacts
	if s.TargetType == TargetGroup {
		header = msgManyGroups
	}
	opts := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		opts[i] = c.Label()
	}
	return Outcome{
		Text:    header + "\n" + exitHint,
		Buttons: ButtonsChoices,
		Options: opts,
		Nonce:   s.ChoiceNonce,
	}
}

func awaitGroupName(ctx context.Context, d Deps, s Session, in Input) (Session, Outcome) {
	name := strings.TrimSpace(in.Text)
	if in.Kind != InputText || name == "" {
		return s, Outcome{Text: "Silakan masukkan nama grup.\n" + exitHint}
	}
	found, err := d.Backend.FindByNameFuzzy(ctx, name, target.ScopeGroups)
	if err != nil {
		return s, Outcome{Text: "Gagal mencari grup. Coba lagi atau /batalscene.", Err: err}
	}
	if len(found) != 1 {
		return s, Outcome{Text: fmt.Sprintf("Grup dengan nama %q tidak ditemukan atau ambigu. Coba lagi atau /batalscene.", name)}
	}
	return accept(s, found[0], "Grup ditemukan: "+found[0].Label())
}

func confirmOutcome(s Session) Outcome {
	return Outcome{Text: confirmPrompt(s.Pending.Label()), Buttons: ButtonsConfirm, Nonce: s.ChoiceNonce}
}

// confirmAnswer reads a typed ya/tidak or a button press from the current
// prompt. ok is false for anything else.
func confirmAnswer(s Session, in Input) (yes, ok bool) {
	switch in.Kind {
	case InputConfirm:
		return in.Yes, in.Nonce != "" && in.Nonce == s.ChoiceNonce
	case InputText:
		switch strings.ToLower(strings.TrimSpace(in.Text)) {
		case "ya", "yes", "y":
			return true, true
		case "tidak", "no", "n":
			return false, true
		}
	}
	return false, false
}

func awaitConfirmation(s Session, in Input) (Session, Outcome) {
	if s.Pending == nil {
		s.Step = StepAwaitTarget
		s.ChoiceNonce = ""
		return s, Outcome{Text: msgAskTargetAgain}
	}
	yes, ok := confirmAnswer(s, in)
	switch {
	case !ok:
		return s, confirmOutcome(s)
	case yes:
		c := *s.Pending
		return accept(s, c, "Target dikonfirmasi: "+c.Label())
	default:
		s.Pending = nil
		s.ChoiceNonce = ""
		s.Draft.Target = ""
		s.Draft.TargetDisplayName = ""
		s.Step = StepAwaitTarget
		return s, Outcome{Text: msgAskTargetAgain}
	}
}

func awaitChoice(s Session, in Input) (Session, Outcome) {
	if in.Kind == InputChoice && in.Nonce == s.ChoiceNonce && in.Index >= 0 && in.Index < len(s.Candidates) {
		c := s.Candidates[in.Index]
		return accept(s, c, "Dipilih: "+c.Label())
	}
	out := choicesOutcome(s)
	out.Text = msgPickButton
	return s, out
}

// accept fixes the destination and moves on to the message body.
func accept(s Session, c target.Candidate, prefix string) (Session, Outcome) {
	s.Draft.Target = c.ID
	s.Draft.TargetDisplayName = c.DisplayName
	s.Pending = nil
	s.Candidates = nil
	s.ChoiceNonce = ""
	s.InviteToken = ""
	s.Step = StepAskMessage
	return s, Outcome{Text: askMessage(prefix)}
}

func collectMessage(s Session, in Input) (Session, Outcome) {
	text := strings.TrimSpace(in.Text)
	if in.Kind != InputText || text == "" {
		return s, Outcome{Text: msgEmptyText}
	}
	s.Draft.Text = text
	s.Step = StepAskDateTime
	return s, Outcome{Text: askDateTime(text)}
}

func collectDateTime(ctx context.Context, d Deps, s Session, in Input) (Session, Outcome) {
	if in.Kind != InputText {
		return s, Outcome{Text: msgBadFormat}
	}
	at, problem := parseWhen(d, in.Text)
	if problem != "" {
		return s, Outcome{Text: problem}
	}

	draft := s.Draft
	draft.DateTime = at
	draft.OwnerID = s.OwnerID
	out := commit(ctx, d, draft)
	if out.Created == nil {
		s.Step = StepAborted
		return s, out
	}
	s.Draft = draft
	s.Step = StepDone
	return s, out
}

// parseWhen reads "HH:MM DD/MM/YYYY" and enforces the minimum lead time.
// A non-empty problem is the text to show the user.
func parseWhen(d Deps, text string) (at time.Time, problem string) {
	at, err := datetime.ParseInput(text, d.location())
	if err == nil {
		lead := d.MinLead
		if lead <= 0 {
			lead = datetime.DefaultMinLead
		}
		err = datetime.CheckLead(at, d.now(), lead)
	}
	if err != nil {
		return time.Time{}, dateTimeProblem(err)
	}
	return at, ""
}

// commit persists draft when the backend is ready. Created is set only on
// success; the store is untouched otherwise.
func commit(ctx context.Context, d Deps, draft schedule.Draft) Outcome {
	if !d.Backend.IsReady(ctx) {
		return Outcome{Text: msgNotReady}
	}
	e, err := d.Store.Create(ctx, draft)
	if err != nil {
		return Outcome{Text: msgSaveFailed, Err: err}
	}
	return Outcome{
		Text:    fmt.Sprintf("✅ Pesan untuk %q berhasil dijadwalkan pada %s (ID: %s)", e.Label(), datetime.Format(e.DateTime, d.location()), e.ID),
		Created: &e,
	}
}

func dateTimeProblem(err error) string {
	switch {
	case errors.Is(err, datetime.ErrTooSoon):
		return msgTooSoon
	case errors.Is(err, datetime.ErrNonexistentDate):
		return msgNoSuchDate
	case errors.Is(err, datetime.ErrRange):
		return msgBadRange
	default:
		return msgBadFormat
	}
}
