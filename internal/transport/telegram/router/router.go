// Package router turns transport updates into handler calls: commands by
// name, inline-button callbacks by namespace and action, and free text to
// a single fallback handler. Updates from the same (chat, user) pair are
// handled one at a time and in arrival order.
package router

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "wasched/internal/runtime/supervisor"
	kit "wasched/internal/transport"
	logx "wasched/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessMembers is everyone unless an allow-list is configured, then
	// only listed users and owners.
	AccessMembers
	AccessOwnerOnly
)

type Command struct {
	Route       string   // single token, e.g. "daftar"
	Aliases     []string // e.g. ["daftarterjadwal"]
	Description string
	Usage       string
	Access      Access
	Hidden      bool // registered but left out of help and the client menu
	Timeout     time.Duration
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

type CallbackRoute struct {
	Namespace string
	Action    string
	Access    Access
	Timeout   time.Duration
	Handle    CallbackHandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string   // route, "cb:<ns>:<action>" or "text"
	Args         []string // whitespace-split ArgText
	ArgText      string   // everything after the command word, trimmed
	Text         string   // full message text for the text handler
	Payload      string   // callback payload
	ReqID        string

	Adapter kit.Adapter
	Logger  logx.Logger
	Owner   bool
}

// Reply sends plain text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Options struct {
	// Lanes is the number of serial workers; zero picks a default.
	Lanes     int
	LaneQueue int
}

type Router struct {
	mu       sync.RWMutex
	commands map[string]*Command
	alias    map[string]*Command
	ordered  []Command
	textH    HandlerFunc
	textAcc  Access

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute

	accMu   sync.RWMutex
	owners  map[int64]bool
	allowed map[int64]bool

	log     logx.Logger
	adapter kit.Adapter

	lanes []chan func()

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(log logx.Logger, adapter kit.Adapter, opt Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Lanes <= 0 {
		opt.Lanes = 8
	}
	if opt.LaneQueue <= 0 {
		opt.LaneQueue = 32
	}
	r := &Router{
		commands:  map[string]*Command{},
		alias:     map[string]*Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		owners:    map[int64]bool{},
		allowed:   map[int64]bool{},
		log:       log,
		adapter:   adapter,
		lanes:     make([]chan func(), opt.Lanes),
	}
	for i := range r.lanes {
		r.lanes[i] = make(chan func(), opt.LaneQueue)
	}
	return r
}

func idSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id != 0 {
			m[id] = true
		}
	}
	return m
}

// SetOwners is safe to call during hot reload.
func (r *Router) SetOwners(ids []int64) {
	r.accMu.Lock()
	r.owners = idSet(ids)
	r.accMu.Unlock()
}

// SetAllowed sets the AccessMembers allow-list; empty means open to all.
func (r *Router) SetAllowed(ids []int64) {
	r.accMu.Lock()
	r.allowed = idSet(ids)
	r.accMu.Unlock()
}

func (r *Router) IsOwner(id int64) bool {
	r.accMu.RLock()
	defer r.accMu.RUnlock()
	return r.owners[id]
}

func (r *Router) permits(a Access, id int64) bool {
	r.accMu.RLock()
	defer r.accMu.RUnlock()
	switch a {
	case AccessOwnerOnly:
		return r.owners[id]
	case AccessMembers:
		return len(r.allowed) == 0 || r.allowed[id] || r.owners[id]
	default:
		return true
	}
}

// SetRegistry replaces every command and callback route. A "bantuan"
// command (aliases help, h) is always added.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Route:       "bantuan",
		Aliases:     []string{"help", "h"},
		Description: "tampilkan bantuan",
		Usage:       "/bantuan [perintah]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, r.helpText(req.Args, req.Owner), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return err
		},
	})

	byName := map[string]*Command{}
	alias := map[string]*Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Route))
		if name == "" || strings.Contains(name, " ") || c.Handle == nil {
			continue
		}
		cc := c
		cc.Route = name
		byName[name] = &cc
		ordered = append(ordered, cc)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = &cc
			if sa := sanitizeCommand(a); sa != "" && sa != a {
				if _, exists := alias[sa]; !exists {
					alias[sa] = &cc
				}
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, rt := range cbs {
		ns, act := strings.TrimSpace(rt.Namespace), strings.TrimSpace(rt.Action)
		if ns == "" || act == "" || rt.Handle == nil {
			continue
		}
		if cb[ns] == nil {
			cb[ns] = map[string]CallbackRoute{}
		}
		cb[ns][act] = rt
	}

	r.mu.Lock()
	r.commands = byName
	r.alias = alias
	r.ordered = ordered
	r.mu.Unlock()

	r.cbMu.Lock()
	r.callbacks = cb
	r.cbMu.Unlock()
}

// SetTextHandler receives every non-command message.
func (r *Router) SetTextHandler(h HandlerFunc, access Access) {
	r.mu.Lock()
	r.textH = h
	r.textAcc = access
	r.mu.Unlock()
}

// PublishMenu pushes the visible command list to the chat client.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	r.mu.RLock()
	menu := buildMenuCommands(r.ordered)
	r.mu.RUnlock()
	return up.UpdateMenuCommands(ctx, menu)
}

func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// laneFor hashes (chat, user) so one conversation always lands on the
// same serial worker.
func (r *Router) laneFor(chatID, fromID int64) chan func() {
	h := fnv.New64a()
	var b [16]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(chatID >> (8 * i))
		b[8+i] = byte(fromID >> (8 * i))
	}
	h.Write(b[:])
	return r.lanes[h.Sum64()%uint64(len(r.lanes))]
}

// Run consumes updates until ctx is done or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	for i, lane := range r.lanes {
		lane := lane
		sup.GoRestart("router.lane."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-lane:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("router started", logx.Int("lanes", len(r.lanes)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, fromID int64, command string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  fromID,
		Command: command,
		ReqID:   rid,
		Adapter: r.adapter,
		Owner:   r.IsOwner(fromID),
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", fromID),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	if !strings.HasPrefix(text, "/") {
		r.mu.RLock()
		h, acc := r.textH, r.textAcc
		r.mu.RUnlock()
		if h == nil || !r.permits(acc, msg.FromID) {
			return
		}
		req := r.newRequest(up, chat, msg.FromID, "text")
		req.FromUsername = msg.FromUsername
		req.Text = text
		r.enqueue(ctx, req, h, 0, "")
		return
	}

	word, argText := splitCommand(text)
	r.mu.RLock()
	cmd := r.commands[word]
	if cmd == nil {
		cmd = r.alias[word]
	}
	r.mu.RUnlock()
	if cmd == nil {
		_, _ = r.adapter.SendText(ctx, chat, "Perintah tidak dikenal. Coba /bantuan", nil)
		return
	}
	if !r.permits(cmd.Access, msg.FromID) {
		countDenied(cmd.Route)
		_, _ = r.adapter.SendText(ctx, chat, "Anda tidak memiliki akses untuk perintah ini.", nil)
		return
	}

	req := r.newRequest(up, chat, msg.FromID, cmd.Route)
	req.FromUsername = msg.FromUsername
	req.Text = text
	req.ArgText = argText
	req.Args = strings.Fields(argText)
	r.enqueue(ctx, req, cmd.Handle, cmd.Timeout, "")
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	parts := strings.SplitN(strings.TrimSpace(cb.Data), ":", 3)
	if len(parts) < 2 {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	ns, action, payload := parts[0], parts[1], ""
	if len(parts) == 3 {
		payload = parts[2]
	}

	r.cbMu.RLock()
	rt, ok := r.callbacks[ns][action]
	r.cbMu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Tombol ini sudah tidak berlaku.")
		return
	}
	name := "cb:" + ns + ":" + action
	if !r.permits(rt.Access, cb.FromID) {
		countDenied(name)
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "Tidak diizinkan.")
		return
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, name)
	req.Payload = payload
	h := func(ctx context.Context, req *Request) error { return rt.Handle(ctx, req, payload) }
	r.enqueue(ctx, req, h, rt.Timeout, cb.ID)
}

// enqueue runs h on the request's lane. callbackID, when set, is answered
// after the handler so the client stops its spinner.
func (r *Router) enqueue(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, callbackID string) {
	final := Chain(h,
		MWPanicRecover(r.log),
		MWMetrics(),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	job := func() {
		_ = final(ctx, req)
		if callbackID != "" {
			_ = r.adapter.AnswerCallback(ctx, callbackID, "")
		}
	}

	select {
	case r.laneFor(req.Chat.ChatID, req.FromID) <- job:
	default:
		r.log.Warn("lane full; request dropped", logx.String("cmd", req.Command), logx.Int64("from_id", req.FromID))
		if callbackID != "" {
			_ = r.adapter.AnswerCallback(ctx, callbackID, "Sedang sibuk, coba lagi.")
			return
		}
		_, _ = r.adapter.SendText(ctx, req.Chat, "Sedang sibuk, coba lagi sebentar.", nil)
	}
}

// splitCommand turns "/Daftar@MyBot  x y" into ("daftar", "x y").
func splitCommand(text string) (word, rest string) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "/")
	word, rest, _ = strings.Cut(text, " ")
	if i := strings.IndexAny(word, "\n\t"); i >= 0 {
		rest = word[i:] + " " + rest
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), strings.TrimSpace(rest)
}
