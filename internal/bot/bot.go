// Package bot is the chat surface: slash commands, inline buttons and
// free-text turns, each mapped onto the wizards, the store or the
// messaging backend.
package bot

import (
	"sync"
	"time"

	"wasched/internal/dispatch"
	"wasched/internal/eventbus"
	"wasched/internal/messaging"
	rtsup "wasched/internal/runtime/supervisor"
	"wasched/internal/storage"
	"wasched/internal/target"
	"wasched/internal/transport/telegram/router"
	"wasched/internal/wizard"
	logx "wasched/pkg/logx"
)

// callback namespace for every button this package renders
const ns = "jadwal"

// TickReporter exposes the dispatcher's latest tick for /health.
type TickReporter interface {
	LastReport() (dispatch.TickReport, bool)
}

type Deps struct {
	Store    storage.Store
	Backend  messaging.Backend
	Sessions *wizard.Sessions
	Bus      eventbus.Bus
	Log      logx.Logger

	// Optional, used by /health.
	Ticks       TickReporter
	Supervisors *rtsup.Registry
}

// Settings are the hot-reloadable knobs.
type Settings struct {
	Location        *time.Location
	MinLead         time.Duration
	MaxChoices      int
	OwnerContactURL string

	// Now and NewNonce are test hooks.
	Now      func() time.Time
	NewNonce func() string
}

type Bot struct {
	d       Deps
	log     logx.Logger
	started time.Time

	mu  sync.RWMutex
	set Settings
}

func New(d Deps, s Settings) *Bot {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop{}
	}
	if d.Sessions == nil {
		d.Sessions = wizard.NewSessions(wizard.DefaultSessionTTL)
	}
	b := &Bot{d: d, log: d.Log.With(logx.String("comp", "bot"))}
	b.SetSettings(s)
	b.started = b.now()
	return b
}

func (b *Bot) SetSettings(s Settings) {
	if s.Location == nil {
		s.Location = time.Local
	}
	if s.MaxChoices <= 0 {
		s.MaxChoices = target.DefaultMaxChoices
	}
	b.mu.Lock()
	b.set = s
	b.mu.Unlock()
}

func (b *Bot) settings() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.set
}

func (b *Bot) now() time.Time {
	if n := b.settings().Now; n != nil {
		return n()
	}
	return time.Now()
}

func (b *Bot) wizardDeps() wizard.Deps {
	s := b.settings()
	return wizard.Deps{
		Backend:    b.d.Backend,
		Store:      b.d.Store,
		Now:        s.Now,
		Location:   s.Location,
		MinLead:    s.MinLead,
		MaxChoices: s.MaxChoices,
		NewNonce:   s.NewNonce,
	}
}

// Register installs every command, button route and the text handler.
func (b *Bot) Register(r *router.Router) {
	r.SetRegistry(b.Commands(), b.Callbacks())
	r.SetTextHandler(b.handleText, router.AccessMembers)
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Route: "start", Aliases: []string{"menu"}, Description: "menu utama", Access: router.AccessEveryone, Handle: b.cmdMenu},
		{Route: "pribadi", Description: "jadwalkan pesan ke kontak", Access: router.AccessMembers, Handle: b.cmdSchedule(wizard.TargetDirect)},
		{Route: "grup", Description: "jadwalkan pesan ke grup", Access: router.AccessMembers, Handle: b.cmdSchedule(wizard.TargetGroup)},
		{
			Route:       "jadwalkanpesan",
			Description: "jadwalkan pesan dalam satu perintah",
			Usage:       "/jadwalkanpesan <nomor|id grup> <HH:MM> <DD/MM/YYYY> <pesan>",
			Access:      router.AccessMembers,
			Timeout:     time.Minute,
			Handle:      b.cmdOneShot,
		},
		{Route: "daftar", Aliases: []string{"daftarterjadwal"}, Description: "lihat jadwal aktif", Access: router.AccessMembers, Handle: b.cmdList},
		{Route: "batal", Description: "pilih jadwal untuk dibatalkan", Access: router.AccessMembers, Handle: b.cmdCancel},
		{Route: "batalkan", Description: "batalkan jadwal berdasarkan id", Usage: "/batalkan <id>", Access: router.AccessMembers, Handle: b.cmdCancelByID},
		{Route: "batalscene", Description: "keluar dari proses yang sedang berjalan", Access: router.AccessEveryone, Handle: b.cmdAbort},
		{Route: "status_wa", Description: "status koneksi WhatsApp", Access: router.AccessEveryone, Handle: b.cmdStatus},
		{Route: "login_wa", Description: "tampilkan QR login WhatsApp", Access: router.AccessOwnerOnly, Timeout: time.Minute, Handle: b.cmdLogin},
		{Route: "logout_wa", Description: "logout sesi WhatsApp", Access: router.AccessOwnerOnly, Handle: b.cmdLogout},
		{Route: "health", Description: "status internal bot", Access: router.AccessOwnerOnly, Handle: b.cmdHealth},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Namespace: ns, Action: "menu", Access: router.AccessEveryone, Handle: b.cbMenu},
		{Namespace: ns, Action: "pick", Access: router.AccessMembers, Handle: b.cbPick},
		{Namespace: ns, Action: "cancelpick", Access: router.AccessMembers, Handle: b.cbPick},
		{Namespace: ns, Action: "confirm", Access: router.AccessMembers, Handle: b.cbConfirm},
		{Namespace: ns, Action: "abort", Access: router.AccessEveryone, Handle: b.cbAbort},
		{Namespace: ns, Action: "page", Access: router.AccessMembers, Handle: b.cbPage},
	}
}
