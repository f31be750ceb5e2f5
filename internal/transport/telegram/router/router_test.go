package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "wasched/internal/transport"
	logx "wasched/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	answered []string
	menu     []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id+"|"+text)
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeAdapter) answers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answered...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text, IsPrivate: true}}
}

func runRouter(t *testing.T, r *Router) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func TestCommandRoutingWithArgsAndAlias(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, Options{Lanes: 2})
	got := make(chan *Request, 2)
	r.SetRegistry([]Command{{
		Route:   "jadwalkanpesan",
		Aliases: []string{"jp"},
		Access:  AccessEveryone,
		Handle: func(_ context.Context, req *Request) error {
			got <- req
			return nil
		},
	}}, nil)
	updates := runRouter(t, r)

	updates <- msg(7, "/JadwalkanPesan@MyBot 08123 09:30 01/02/2030 halo  dunia")
	req := <-got
	if req.Command != "jadwalkanpesan" {
		t.Fatalf("command=%q", req.Command)
	}
	if req.ArgText != "08123 09:30 01/02/2030 halo  dunia" {
		t.Fatalf("argText=%q", req.ArgText)
	}
	if len(req.Args) != 5 || req.Args[4] != "dunia" {
		t.Fatalf("args=%v", req.Args)
	}
	if req.ReqID == "" {
		t.Fatalf("missing request id")
	}

	updates <- msg(7, "/jp")
	if req := <-got; req.Command != "jadwalkanpesan" || req.ArgText != "" {
		t.Fatalf("alias req=%+v", req)
	}
}

func TestUnknownCommandHintsHelp(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, Options{})
	r.SetRegistry(nil, nil)
	updates := runRouter(t, r)

	updates <- msg(1, "/entahlah")
	waitFor(t, "unknown reply", func() bool { return len(fa.texts()) == 1 })
	if !strings.Contains(fa.texts()[0], "/bantuan") {
		t.Fatalf("reply=%q", fa.texts()[0])
	}
}

func TestAccessLevels(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, Options{})
	var mu sync.Mutex
	ran := map[string][]int64{}
	record := func(_ context.Context, req *Request) error {
		mu.Lock()
		ran[req.Command] = append(ran[req.Command], req.FromID)
		mu.Unlock()
		return nil
	}
	r.SetRegistry([]Command{
		{Route: "health", Access: AccessOwnerOnly, Handle: record},
		{Route: "daftar", Access: AccessMembers, Handle: record},
	}, nil)
	r.SetOwners([]int64{1})
	r.SetAllowed([]int64{2})
	updates := runRouter(t, r)

	for _, from := range []int64{1, 2, 3} {
		updates <- msg(from, "/health")
		updates <- msg(from, "/daftar")
	}
	// 3 owner-only denials for 2 and 3 plus one member denial for 3.
	waitFor(t, "denials", func() bool { return len(fa.texts()) == 3 })
	waitFor(t, "handlers", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran["health"]) == 1 && len(ran["daftar"]) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if ran["health"][0] != 1 {
		t.Fatalf("health ran for %v", ran["health"])
	}
}

func TestEmptyAllowListOpensMembers(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, Options{})
	got := make(chan int64, 1)
	r.SetRegistry([]Command{{Route: "daftar", Access: AccessMembers, Handle: func(_ context.Context, req *Request) error {
		got <- req.FromID
		return nil
	}}}, nil)
	updates := runRouter(t, r)

	updates <- msg(99, "/daftar")
	if from := <-got; from != 99 {
		t.Fatalf("from=%d", from)
	}
}

func TestCallbackRouting(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, Options{})
	got := make(chan string, 1)
	r.SetRegistry(nil, []CallbackRoute{{
		Namespace: "jadwal",
		Action:    "pick",
		Handle: func(_ context.Context, req *Request, payload string) error {
			got <- req.Command + "|" + payload
			return nil
		},
	}})
	updates := runRouter(t, r)

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb1", ChatID: 5, FromID: 5, Data: "jadwal:pick:n1.2"}}
	if s := <-got; s != "cb:jadwal:pick|n1.2" {
		t.Fatalf("got=%q", s)
	}
	waitFor(t, "answer", func() bool { return len(fa.answers()) == 1 })
	if fa.answers()[0] != "cb1|" {
		t.Fatalf("answer=%q", fa.answers()[0])
	}

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb2", ChatID: 5, FromID: 5, Data: "jadwal:gone:x"}}
	waitFor(t, "stale answer", func() bool { return len(fa.answers()) == 2 })
	if !strings.HasPrefix(fa.answers()[1], "cb2|Tombol") {
		t.Fatalf("answer=%q", fa.answers()[1])
	}
}

func TestTextFallbackKeepsOrderPerUser(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, Options{Lanes: 4})
	var mu sync.Mutex
	var seen []string
	r.SetTextHandler(func(_ context.Context, req *Request) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen = append(seen, req.Text)
		mu.Unlock()
		return nil
	}, AccessEveryone)
	updates := runRouter(t, r)

	want := []string{"a", "b", "c", "d", "e"}
	for _, s := range want {
		updates <- msg(42, s)
	}
	waitFor(t, "texts", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(want)
	})
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(seen, "") != strings.Join(want, "") {
		t.Fatalf("order=%v", seen)
	}
}

func TestHandlerPanicDoesNotKillLane(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, Options{Lanes: 1})
	got := make(chan struct{}, 1)
	r.SetRegistry([]Command{
		{Route: "boom", Handle: func(context.Context, *Request) error { panic("x") }},
		{Route: "ok", Handle: func(context.Context, *Request) error { got <- struct{}{}; return nil }},
	}, nil)
	updates := runRouter(t, r)

	updates <- msg(1, "/boom")
	updates <- msg(1, "/ok")
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("lane stuck after panic")
	}
}

func TestHelpHidesOwnerCommandsFromOthers(t *testing.T) {
	t.Parallel()

	r := New(logx.Nop(), &fakeAdapter{}, Options{})
	noop := func(context.Context, *Request) error { return nil }
	r.SetRegistry([]Command{
		{Route: "daftar", Description: "lihat jadwal", Aliases: []string{"daftarterjadwal"}, Handle: noop},
		{Route: "login_wa", Description: "pairing", Access: AccessOwnerOnly, Handle: noop},
		{Route: "rahasia", Hidden: true, Handle: noop},
	}, nil)

	public := r.helpText(nil, false)
	if !strings.Contains(public, "/daftar") || strings.Contains(public, "login_wa") || strings.Contains(public, "rahasia") {
		t.Fatalf("public help:\n%s", public)
	}
	owner := r.helpText(nil, true)
	if !strings.Contains(owner, "🔒 <code>/login_wa</code>") {
		t.Fatalf("owner help:\n%s", owner)
	}
	detail := r.helpText([]string{"/daftarterjadwal"}, false)
	if !strings.Contains(detail, "lihat jadwal") || !strings.Contains(detail, "/daftarterjadwal") {
		t.Fatalf("detail help:\n%s", detail)
	}
	if got := r.helpText([]string{"login_wa"}, false); !strings.Contains(got, "tidak dikenal") {
		t.Fatalf("owner detail leaked:\n%s", got)
	}
}

func TestPublishMenu(t *testing.T) {
	t.Parallel()

	fa := &fakeAdapter{}
	r := New(logx.Nop(), fa, Options{})
	noop := func(context.Context, *Request) error { return nil }
	r.SetRegistry([]Command{
		{Route: "status_wa", Description: "status", Handle: noop},
		{Route: "logout_wa", Description: "keluar", Access: AccessOwnerOnly, Handle: noop},
		{Route: "batalscene", Hidden: true, Handle: noop},
	}, nil)
	if err := r.PublishMenu(context.Background()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var names []string
	for _, c := range fa.menu {
		names = append(names, c.Command)
	}
	// bantuan is added by SetRegistry; owner commands sort last.
	if got := strings.Join(names, ","); got != "bantuan,status_wa,logout_wa" {
		t.Fatalf("menu=%s", got)
	}
	if fa.menu[2].Description != "🔒 keluar" {
		t.Fatalf("desc=%q", fa.menu[2].Description)
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, word, rest string }{
		{"/daftar", "daftar", ""},
		{"/Daftar@Bot", "daftar", ""},
		{"/batalkan  ab12cd34 ", "batalkan", "ab12cd34"},
		{"/jadwalkanpesan\n0812 09:00", "jadwalkanpesan", "0812 09:00"},
	}
	for _, c := range cases {
		w, r := splitCommand(c.in)
		if w != c.word || r != c.rest {
			t.Fatalf("%q: got (%q,%q) want (%q,%q)", c.in, w, r, c.word, c.rest)
		}
	}
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"status-wa", "status_wa"},
		{"Login WA", "login_wa"},
		{"__x__", "x"},
		{"9lives", "cmd_9lives"},
		{"ünïcode", "ncode"},
		{"", ""},
	}
	for _, c := range cases {
		if got := sanitizeCommand(c.in); got != c.want {
			t.Fatalf("%q: got %q want %q", c.in, got, c.want)
		}
	}
}
