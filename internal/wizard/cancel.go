package wizard

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"wasched/internal/datetime"
	"wasched/internal/schedule"
)

const cancelPreviewRunes = 30

// StartCancel lists ownerID's active entries. With nothing to cancel the
// returned session is already terminal.
func StartCancel(ctx context.Context, d Deps, ownerID int64) (Session, Outcome) {
	s := Session{Kind: KindCancel, OwnerID: ownerID, UpdatedAt: d.now()}

	entries, err := d.Store.ActiveFor(ctx, ownerID)
	if err != nil {
		s.Step = StepAborted
		return s, Outcome{Text: msgListFailed, Err: err}
	}
	if len(entries) == 0 {
		s.Step = StepDone
		return s, Outcome{Text: msgNothingToCancel}
	}

	s.Entries = entries
	s.ChoiceNonce = d.nonce()
	s.Step = StepAwaitCancelChoice
	return s, cancelListOutcome(d, s)
}

func cancelListOutcome(d Deps, s Session) Outcome {
	loc := d.location()
	lines := make([]string, len(s.Entries))
	opts := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		lines[i] = fmt.Sprintf("%s | %s\n   %s", e.Label(), datetime.Short(e.DateTime, loc), schedule.Preview(e.Text, cancelPreviewRunes))
		opts[i] = fmt.Sprintf("%d. %s", i+1, e.Label())
	}
	return Outcome{
		Text: numbered("Berikut daftar pesan terjadwal Anda yang aktif:", lines,
			fmt.Sprintf("Kirim nomor (1-%d) atau tekan tombol jadwal yang ingin dibatalkan.\n%s", len(s.Entries), exitHint)),
		Buttons: ButtonsChoices,
		Options: opts,
		Nonce:   s.ChoiceNonce,
	}
}

func advanceCancel(ctx context.Context, d Deps, s Session, in Input) (Session, Outcome) {
	if s.Step != StepAwaitCancelChoice {
		s.Step = StepAborted
		return s, Outcome{Text: msgSessionLost, Err: fmt.Errorf("wizard: unknown cancel step %q", s.Step)}
	}

	idx, ok := cancelIndex(s, in)
	if !ok {
		out := cancelListOutcome(d, s)
		out.Text = fmt.Sprintf("Pilihan tidak valid. Kirim nomor 1-%d.\n%s", len(s.Entries), exitHint)
		return s, out
	}
	picked := s.Entries[idx]

	cur, found, err := d.Store.Get(ctx, picked.ID)
	if err != nil {
		s.Step = StepAborted
		return s, Outcome{Text: msgCancelFailed, Err: err}
	}
	switch {
	case !found || cur.OwnerID != s.OwnerID:
		s.Step = StepAborted
		return s, Outcome{Text: msgGone}
	case cur.Sent:
		s.Step = StepAborted
		return s, Outcome{Text: msgAlreadySent}
	}

	okCancel, err := d.Store.Cancel(ctx, cur.ID, s.OwnerID)
	if err != nil {
		s.Step = StepAborted
		return s, Outcome{Text: msgCancelFailed, Err: err}
	}
	if !okCancel {
		// Lost a race with dispatch or another cancel.
		s.Step = StepAborted
		if again, ok, _ := d.Store.Get(ctx, cur.ID); ok && again.Sent {
			return s, Outcome{Text: msgAlreadySent}
		}
		return s, Outcome{Text: msgGone}
	}

	s.Step = StepDone
	return s, Outcome{
		Text:      fmt.Sprintf("✅ Jadwal untuk %q pada %s berhasil dibatalkan.", cur.Label(), datetime.Short(cur.DateTime, d.location())),
		Cancelled: &cur,
	}
}

// cancelIndex maps "2" or a button press to a zero-based snapshot index.
func cancelIndex(s Session, in Input) (int, bool) {
	switch in.Kind {
	case InputChoice:
		if in.Nonce != s.ChoiceNonce || in.Index < 0 || in.Index >= len(s.Entries) {
			return 0, false
		}
		return in.Index, true
	case InputText:
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(in.Text), "#")))
		if err != nil || n < 1 || n > len(s.Entries) {
			return 0, false
		}
		return n - 1, true
	}
	return 0, false
}
