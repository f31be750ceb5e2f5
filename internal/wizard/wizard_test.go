package wizard

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wasched/internal/datetime"
	"wasched/internal/messaging"
	"wasched/internal/schedule"
	"wasched/internal/storage"
	"wasched/internal/target"
	logx "wasched/pkg/logx"
)

const owner int64 = 7

type fixture struct {
	deps Deps
	mem  *messaging.Memory
	st   storage.Store
	loc  *time.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := datetime.LoadLocation("")
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	st, err := storage.Open(context.Background(), storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	mem := messaging.NewMemory()
	mem.SetReady(true)
	now := time.Date(2030, 1, 1, 8, 0, 0, 0, loc)
	return &fixture{
		mem: mem,
		st:  st,
		loc: loc,
		deps: Deps{
			Backend:    mem,
			Store:      st,
			Now:        func() time.Time { return now },
			Location:   loc,
			MinLead:    time.Minute,
			MaxChoices: 5,
			NewNonce:   func() string { return "n1" },
		},
	}
}

func (f *fixture) step(t *testing.T, s Session, in Input) (Session, Outcome) {
	t.Helper()
	return Advance(context.Background(), f.deps, s, in)
}

func mustStep(t *testing.T, s Session, want Step) {
	t.Helper()
	if s.Step != want {
		t.Fatalf("step=%s want %s", s.Step, want)
	}
}

func TestScheduleDirectNumber(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	s, out := StartSchedule(f.deps, owner, TargetDirect)
	mustStep(t, s, StepAwaitTarget)
	if !strings.Contains(out.Text, "nomor WhatsApp") {
		t.Fatalf("prompt=%q", out.Text)
	}

	s, _ = f.step(t, s, Text("0812-3456-7890"))
	mustStep(t, s, StepAskMessage)
	if s.Draft.Target != "6281234567890@c.us" {
		t.Fatalf("target=%q", s.Draft.Target)
	}

	s, _ = f.step(t, s, Text("Hello"))
	mustStep(t, s, StepAskDateTime)

	s, out = f.step(t, s, Text("17:00 25/12/2030"))
	mustStep(t, s, StepDone)
	if out.Created == nil {
		t.Fatalf("no entry created: %+v", out)
	}
	want := time.Date(2030, 12, 25, 17, 0, 0, 0, f.loc)
	if !out.Created.DateTime.Equal(want) || out.Created.Text != "Hello" || out.Created.OwnerID != owner {
		t.Fatalf("entry=%+v", out.Created)
	}

	ctx := context.Background()
	due, err := f.st.Due(ctx, want.Add(-time.Second))
	if err != nil || len(due) != 0 {
		t.Fatalf("due before=%v err=%v", due, err)
	}
	due, err = f.st.Due(ctx, want)
	if err != nil || len(due) != 1 || due[0].ID != out.Created.ID {
		t.Fatalf("due at=%v err=%v", due, err)
	}
}

func TestScheduleRejectsPastTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	s, _ := StartSchedule(f.deps, owner, TargetDirect)
	s, _ = f.step(t, s, Text("081234567890"))
	s, _ = f.step(t, s, Text("Hello"))
	s, out := f.step(t, s, Text("10:00 01/01/2020"))
	mustStep(t, s, StepAskDateTime)
	if out.Text != msgTooSoon || out.Created != nil {
		t.Fatalf("out=%+v", out)
	}
}

func TestScheduleDateTimeProblems(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	base, _ := StartSchedule(f.deps, owner, TargetDirect)
	base, _ = f.step(t, base, Text("081234567890"))
	base, _ = f.step(t, base, Text("Hello"))

	cases := []struct {
		in   string
		want string
	}{
		{"besok", msgBadFormat},
		{"17:00", msgBadFormat},
		{"17:00 25/12/2030 extra", msgBadFormat},
		{"25:00 25/12/2030", msgBadRange},
		{"10:00 31/02/2030", msgNoSuchDate},
		{"08:00 01/01/2030", msgTooSoon},
	}
	for _, c := range cases {
		s, out := f.step(t, base, Text(c.in))
		if s.Step != StepAskDateTime || out.Text != c.want {
			t.Fatalf("%q: step=%s text=%q", c.in, s.Step, out.Text)
		}
	}
}

func TestSingleFuzzyMatchNeedsConfirmation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mem.SetContacts(target.Candidate{ID: "6281111111111@c.us", DisplayName: "Budi Santoso"})

	s, _ := StartSchedule(f.deps, owner, TargetDirect)
	s, out := f.step(t, s, Text("budi"))
	mustStep(t, s, StepAwaitConfirmation)
	if out.Buttons != ButtonsConfirm || s.Draft.Target != "" {
		t.Fatalf("out=%+v draft=%+v", out, s.Draft)
	}

	s, _ = f.step(t, s, Text("mungkin"))
	mustStep(t, s, StepAwaitConfirmation)

	s, _ = f.step(t, s, Text("tidak"))
	mustStep(t, s, StepAwaitTarget)
	if s.Draft.Target != "" || s.Pending != nil {
		t.Fatalf("target not cleared: %+v", s)
	}

	s, _ = f.step(t, s, Text("budi"))
	s, _ = f.step(t, s, Text("Ya"))
	mustStep(t, s, StepAskMessage)
	if s.Draft.Target != "6281111111111@c.us" || s.Draft.TargetDisplayName != "Budi Santoso" {
		t.Fatalf("draft=%+v", s.Draft)
	}
}

func TestConfirmButtonNeedsLivePrompt(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mem.SetContacts(target.Candidate{ID: "6281111111111@c.us", DisplayName: "Budi Santoso"})

	s, _ := StartSchedule(f.deps, owner, TargetDirect)

	// At the target step a button press is not a target.
	s, out := f.step(t, s, Confirm("n1", true))
	mustStep(t, s, StepAwaitTarget)
	if out.Text != msgStaleButton || s.Draft.Target != "" {
		t.Fatalf("out=%+v draft=%+v", out, s.Draft)
	}

	s, out = f.step(t, s, Text("budi"))
	mustStep(t, s, StepAwaitConfirmation)
	if out.Nonce != "n1" || s.ChoiceNonce != "n1" {
		t.Fatalf("nonce out=%q session=%q", out.Nonce, s.ChoiceNonce)
	}

	s, out = f.step(t, s, Confirm("old", true))
	mustStep(t, s, StepAwaitConfirmation)
	if out.Buttons != ButtonsConfirm || out.Nonce != "n1" {
		t.Fatalf("stale nonce should re-prompt: %+v", out)
	}

	s, _ = f.step(t, s, Confirm("n1", true))
	mustStep(t, s, StepAskMessage)
	if s.ChoiceNonce != "" {
		t.Fatalf("nonce survived acceptance: %q", s.ChoiceNonce)
	}

	// A second press on the same prompt must not become the message body.
	s, out = f.step(t, s, Confirm("n1", true))
	mustStep(t, s, StepAskMessage)
	if out.Text != msgStaleButton || s.Draft.Text != "" {
		t.Fatalf("out=%+v draft=%+v", out, s.Draft)
	}

	s, _ = f.step(t, s, Text("halo"))
	s, out = f.step(t, s, Confirm("n1", true))
	mustStep(t, s, StepAskDateTime)
	if out.Text != msgStaleButton {
		t.Fatalf("out=%+v", out)
	}
}

func TestConfirmButtonNo(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mem.SetContacts(target.Candidate{ID: "6281111111111@c.us", DisplayName: "Budi Santoso"})

	s, _ := StartSchedule(f.deps, owner, TargetDirect)
	s, _ = f.step(t, s, Text("budi"))
	s, out := f.step(t, s, Confirm("n1", false))
	mustStep(t, s, StepAwaitTarget)
	if out.Text != msgAskTargetAgain || s.Pending != nil || s.ChoiceNonce != "" {
		t.Fatalf("out=%+v session=%+v", out, s)
	}
}

func TestChoiceUsesSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := target.Candidate{ID: "a@c.us", DisplayName: "Andi A"}
	b := target.Candidate{ID: "b@c.us", DisplayName: "Andi B"}
	c := target.Candidate{ID: "c@c.us", DisplayName: "Andi C"}
	f.mem.SetContacts(a, b, c)

	s, _ := StartSchedule(f.deps, owner, TargetDirect)
	s, out := f.step(t, s, Text("andi"))
	mustStep(t, s, StepAwaitChoice)
	if out.Buttons != ButtonsChoices || len(out.Options) != 3 || out.Nonce != "n1" {
		t.Fatalf("out=%+v", out)
	}

	// the directory changes after the list was shown
	f.mem.SetContacts(target.Candidate{ID: "z@c.us", DisplayName: "Andi Z"}, c, b, a)

	stale, _ := f.step(t, s, Choice("old", 1))
	mustStep(t, stale, StepAwaitChoice)
	typed, _ := f.step(t, s, Text("2"))
	mustStep(t, typed, StepAwaitChoice)
	outOfRange, _ := f.step(t, s, Choice("n1", 3))
	mustStep(t, outOfRange, StepAwaitChoice)

	s, _ = f.step(t, s, Choice("n1", 1))
	mustStep(t, s, StepAskMessage)
	if s.Draft.Target != b.ID {
		t.Fatalf("picked %q want %q", s.Draft.Target, b.ID)
	}
}

func TestChoiceCapsAtMax(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	var cs []target.Candidate
	for _, n := range []string{"Toko 1", "Toko 2", "Toko 3", "Toko 4", "Toko 5", "Toko 6", "Toko 7"} {
		cs = append(cs, target.Candidate{ID: n + "@c.us", DisplayName: n})
	}
	f.mem.SetContacts(cs...)

	s, out := StartSchedule(f.deps, owner, TargetDirect)
	s, out = f.step(t, s, Text("toko"))
	if len(s.Candidates) != 5 || len(out.Options) != 5 {
		t.Fatalf("candidates=%d options=%d", len(s.Candidates), len(out.Options))
	}
}

func TestNameNotFoundStays(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	s, _ := StartSchedule(f.deps, owner, TargetDirect)
	s, out := f.step(t, s, Text("siapa"))
	mustStep(t, s, StepAwaitTarget)
	if out.Text != msgDirectNotFound {
		t.Fatalf("text=%q", out.Text)
	}
}

func TestGroupInviteNeedsName(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	token := "AbCdEfGhIjKlMnOpQrSt"
	f.mem.SetInvite(token, messaging.JoinResult{NeedsName: true, Reason: "Permintaan bergabung terkirim."})
	f.mem.SetGroups(target.Candidate{ID: "1203@g.us", DisplayName: "Keluarga Besar"})

	s, _ := StartSchedule(f.deps, owner, TargetGroup)
	s, out := f.step(t, s, Text("gabung https://chat.whatsapp.com/"+token))
	mustStep(t, s, StepAwaitGroupName)
	if s.InviteToken != token || !strings.Contains(out.Text, "Permintaan bergabung") {
		t.Fatalf("session=%+v out=%q", s, out.Text)
	}

	s, _ = f.step(t, s, Text("tidak ada"))
	mustStep(t, s, StepAwaitGroupName)

	s, _ = f.step(t, s, Text("keluarga"))
	mustStep(t, s, StepAskMessage)
	if s.Draft.Target != "1203@g.us" || s.InviteToken != "" {
		t.Fatalf("session=%+v", s)
	}
}

func TestGroupInviteJoined(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	token := "ZZCdEfGhIjKlMnOpQrSt"
	f.mem.SetInvite(token, messaging.JoinResult{OK: true, GroupID: "999@g.us", GroupName: "Arisan"})

	s, _ := StartSchedule(f.deps, owner, TargetGroup)
	s, _ = f.step(t, s, Text("https://chat.whatsapp.com/"+token))
	mustStep(t, s, StepAskMessage)
	if s.Draft.Target != "999@g.us" || s.Draft.TargetDisplayName != "Arisan" {
		t.Fatalf("draft=%+v", s.Draft)
	}
}

func TestGroupInviteRejectedStays(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	s, _ := StartSchedule(f.deps, owner, TargetGroup)
	s, out := f.step(t, s, Text("https://chat.whatsapp.com/AAAAAAAAAAAAAAAAAAAAAA"))
	mustStep(t, s, StepAwaitTarget)
	if !strings.HasPrefix(out.Text, "Gagal memproses link grup") {
		t.Fatalf("text=%q", out.Text)
	}
}

func TestGroupAddressFallsBackToID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	s, _ := StartSchedule(f.deps, owner, TargetGroup)
	s, _ = f.step(t, s, Text("120363012345678901@g.us"))
	mustStep(t, s, StepAskMessage)
	if s.Draft.TargetDisplayName != "120363012345678901@g.us" {
		t.Fatalf("draft=%+v", s.Draft)
	}
}

func TestBackendNotReadyAtCommitAborts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	s, _ := StartSchedule(f.deps, owner, TargetDirect)
	s, _ = f.step(t, s, Text("081234567890"))
	s, _ = f.step(t, s, Text("Hello"))
	f.mem.SetReady(false)
	s, out := f.step(t, s, Text("17:00 25/12/2030"))
	mustStep(t, s, StepAborted)
	if out.Text != msgNotReady {
		t.Fatalf("text=%q", out.Text)
	}
	active, err := f.st.ActiveFor(context.Background(), owner)
	if err != nil || len(active) != 0 {
		t.Fatalf("store touched: %v err=%v", active, err)
	}
}

func TestGlobalCancelFromEveryStep(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mem.SetContacts(
		target.Candidate{ID: "x@c.us", DisplayName: "Xena"},
		target.Candidate{ID: "y@c.us", DisplayName: "Xavier"},
		target.Candidate{ID: "w@c.us", DisplayName: "Wati"},
	)

	start, _ := StartSchedule(f.deps, owner, TargetDirect)
	confirm, _ := f.step(t, start, Text("wati"))
	choose, _ := f.step(t, start, Text("x"))
	message, _ := f.step(t, start, Text("081234567890"))
	when, _ := f.step(t, message, Text("Hello"))

	for _, s := range []Session{start, confirm, choose, message, when} {
		got, out := f.step(t, s, Cancel())
		if got.Step != StepAborted || out.Text != msgScheduleAborted {
			t.Fatalf("from %s: step=%s text=%q", s.Step, got.Step, out.Text)
		}
	}
	active, _ := f.st.ActiveFor(context.Background(), owner)
	if len(active) != 0 {
		t.Fatalf("store touched: %v", active)
	}
}

func TestAdvanceDoesNotAliasInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mem.SetContacts(
		target.Candidate{ID: "a@c.us", DisplayName: "Ani"},
		target.Candidate{ID: "b@c.us", DisplayName: "Anita"},
	)

	s, _ := StartSchedule(f.deps, owner, TargetDirect)
	s, _ = f.step(t, s, Text("ani"))
	next, _ := f.step(t, s, Choice("n1", 0))
	if len(s.Candidates) != 2 || s.Step != StepAwaitChoice {
		t.Fatalf("input session mutated: %+v", s)
	}
	if next.Candidates != nil {
		t.Fatalf("candidates kept after accept: %+v", next.Candidates)
	}
}

func seed(t *testing.T, st storage.Store, ownerID int64, text string, at time.Time) schedule.Entry {
	t.Helper()
	e, err := st.Create(context.Background(), schedule.Draft{Target: "6281@c.us", Text: text, DateTime: at, OwnerID: ownerID})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return e
}

func TestCancelWizardPicksFromSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2031, 1, 1, 9, 0, 0, 0, time.UTC)
	a := seed(t, f.st, owner, "A", at)
	b := seed(t, f.st, owner, "B", at.Add(time.Hour))
	c := seed(t, f.st, owner, "C", at.Add(2*time.Hour))
	seed(t, f.st, owner+1, "other", at)

	s, out := StartCancel(ctx, f.deps, owner)
	mustStep(t, s, StepAwaitCancelChoice)
	if len(s.Entries) != 3 || len(out.Options) != 3 {
		t.Fatalf("entries=%d options=%d", len(s.Entries), len(out.Options))
	}

	bad, _ := f.step(t, s, Text("4"))
	mustStep(t, bad, StepAwaitCancelChoice)
	bad, _ = f.step(t, s, Text("dua"))
	mustStep(t, bad, StepAwaitCancelChoice)

	s, out = f.step(t, s, Text("2"))
	mustStep(t, s, StepDone)
	if out.Cancelled == nil || out.Cancelled.ID != b.ID {
		t.Fatalf("cancelled=%+v", out.Cancelled)
	}

	left, err := f.st.ActiveFor(ctx, owner)
	if err != nil || len(left) != 2 || left[0].ID != a.ID || left[1].ID != c.ID {
		t.Fatalf("left=%v err=%v", left, err)
	}
}

func TestCancelWizardReportsStaleEntries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2031, 1, 1, 9, 0, 0, 0, time.UTC)
	a := seed(t, f.st, owner, "A", at)
	b := seed(t, f.st, owner, "B", at.Add(time.Hour))

	s, _ := StartCancel(ctx, f.deps, owner)

	if ok, err := f.st.MarkSent(ctx, a.ID); !ok || err != nil {
		t.Fatalf("mark sent: %v %v", ok, err)
	}
	got, out := f.step(t, s, Choice("n1", 0))
	if got.Step != StepAborted || out.Text != msgAlreadySent {
		t.Fatalf("sent: step=%s text=%q", got.Step, out.Text)
	}

	if ok, err := f.st.Cancel(ctx, b.ID, owner); !ok || err != nil {
		t.Fatalf("cancel: %v %v", ok, err)
	}
	got, out = f.step(t, s, Text("2"))
	if got.Step != StepAborted || out.Text != msgGone {
		t.Fatalf("gone: step=%s text=%q", got.Step, out.Text)
	}
}

func TestCancelWizardNothingActive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	s, out := StartCancel(context.Background(), f.deps, owner)
	if !s.Step.Terminal() || out.Text != msgNothingToCancel {
		t.Fatalf("step=%s text=%q", s.Step, out.Text)
	}
}

func TestSessionsExpireAndSweep(t *testing.T) {
	t.Parallel()

	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ss := NewSessions(time.Minute)
	ss.now = func() time.Time { return now }

	ss.Put(Key{ChatID: 1, UserID: 1}, Session{Kind: KindSchedule, Step: StepAwaitTarget, UpdatedAt: now})
	ss.Put(Key{ChatID: 2, UserID: 2}, Session{Kind: KindSchedule, Step: StepAskMessage, UpdatedAt: now.Add(50 * time.Second)})
	ss.Put(Key{ChatID: 3, UserID: 3}, Session{Kind: KindSchedule, Step: StepDone, UpdatedAt: now})
	if ss.Len() != 2 {
		t.Fatalf("len=%d", ss.Len())
	}

	now = now.Add(90 * time.Second)
	if _, ok := ss.Get(Key{ChatID: 1, UserID: 1}); ok {
		t.Fatalf("session 1 should have expired")
	}
	if _, ok := ss.Get(Key{ChatID: 2, UserID: 2}); !ok {
		t.Fatalf("session 2 should be alive")
	}

	now = now.Add(time.Hour)
	if n := ss.Sweep(); n != 1 || ss.Len() != 0 {
		t.Fatalf("swept=%d len=%d", n, ss.Len())
	}
}

func TestScheduleOnce(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		args    string
		ready   bool
		created bool
		want    string
	}{
		{"direct", "08123456789 17:00 25/12/2030 Selamat\nNatal!", true, true, "✅"},
		{"group id", "120363012345678901@g.us 09:30 02/01/2030 rapat", true, true, "120363012345678901@g.us"},
		{"missing text", "08123456789 17:00 25/12/2030", true, false, "Format:"},
		{"name not allowed", "Budi 17:00 25/12/2030 halo", true, false, "Target harus"},
		{"past", "08123456789 07:00 01/01/2030 halo", true, false, msgTooSoon},
		{"bad date", "08123456789 17:00 30/02/2030 halo", true, false, msgNoSuchDate},
		{"not ready", "08123456789 17:00 25/12/2030 halo", false, false, msgNotReady},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.mem.SetReady(c.ready)

			out := ScheduleOnce(context.Background(), f.deps, owner, c.args)
			if (out.Created != nil) != c.created || !strings.Contains(out.Text, c.want) {
				t.Fatalf("out=%+v", out)
			}
			active, err := f.st.ActiveFor(context.Background(), owner)
			if err != nil {
				t.Fatalf("active: %v", err)
			}
			if c.created != (len(active) == 1) {
				t.Fatalf("active=%d", len(active))
			}
		})
	}
}

func TestScheduleOnceKeepsMessageLayout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	out := ScheduleOnce(context.Background(), f.deps, owner, "  0812-3456-7890   17:00 25/12/2030   baris 1\n  baris 2 ")
	if out.Created == nil {
		t.Fatalf("out=%+v", out)
	}
	if out.Created.Text != "baris 1\n  baris 2" || out.Created.Target != "6281234567890@c.us" {
		t.Fatalf("entry=%+v", out.Created)
	}
}
