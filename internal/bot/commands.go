package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"wasched/internal/datetime"
	"wasched/internal/messaging"
	"wasched/internal/schedule"
	kit "wasched/internal/transport"
	"wasched/internal/transport/telegram/router"
	"wasched/internal/wizard"
	logx "wasched/pkg/logx"
	"wasched/pkg/tgui"
)

const (
	listPageSize   = 10
	listPreviewLen = 50
)

func (b *Bot) menu() tgui.Message {
	kb := tgui.Grid(2,
		tgui.Btn("👤 Jadwal Pribadi", tgui.Data(ns, "menu", "pribadi")),
		tgui.Btn("👥 Jadwal Grup", tgui.Data(ns, "menu", "grup")),
		tgui.Btn("📋 Daftar Jadwal", tgui.Data(ns, "menu", "daftar")),
		tgui.Btn("🗑 Batalkan Jadwal", tgui.Data(ns, "menu", "batal")),
		tgui.Btn("📶 Status WA", tgui.Data(ns, "menu", "status")),
		tgui.Btn("❓ Bantuan", tgui.Data(ns, "menu", "bantuan")),
	)
	m := tgui.New().
		Title("📅", "Penjadwal Pesan WhatsApp").
		Line("Jadwalkan pesan WhatsApp ke kontak atau grup pada waktu tertentu.").
		Blank().
		Line("Pilih menu di bawah, atau ketik /bantuan untuk daftar perintah.")
	if url := b.settings().OwnerContactURL; url != "" {
		m.Blank().HTML(tgui.Esc("Butuh bantuan? ") + tgui.Link("Hubungi owner", url))
	}
	return m.Inline(kb).Build()
}

func (b *Bot) cmdMenu(ctx context.Context, req *router.Request) error {
	b.d.Sessions.Delete(sessionKey(req))
	_, err := b.menu().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cmdSchedule(tt wizard.TargetType) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		s, out := wizard.StartSchedule(b.wizardDeps(), req.FromID, tt)
		return b.begin(ctx, req, s, out)
	}
}

// cmdCancel leaves a running dialog first; with none running it opens the
// cancellation dialog.
func (b *Bot) cmdCancel(ctx context.Context, req *router.Request) error {
	if _, ok := b.d.Sessions.Get(sessionKey(req)); ok {
		return b.abort(ctx, req)
	}
	s, out := wizard.StartCancel(ctx, b.wizardDeps(), req.FromID)
	return b.begin(ctx, req, s, out)
}

func (b *Bot) cmdAbort(ctx context.Context, req *router.Request) error {
	return b.abort(ctx, req)
}

func (b *Bot) cmdOneShot(ctx context.Context, req *router.Request) error {
	b.d.Sessions.Delete(sessionKey(req))
	out := wizard.ScheduleOnce(ctx, b.wizardDeps(), req.FromID, req.ArgText)
	if out.Err != nil {
		req.Logger.Warn("one-shot schedule failed", logx.Err(out.Err))
	}
	if out.Created != nil {
		b.created(req, *out.Created, "command")
	}
	return req.Reply(ctx, out.Text)
}

func (b *Bot) listMessage(ctx context.Context, ownerID int64, page int) (tgui.Message, error) {
	entries, err := b.d.Store.ActiveFor(ctx, ownerID)
	if err != nil {
		return tgui.Message{}, err
	}
	if len(entries) == 0 {
		return tgui.New().Line("Anda belum memiliki pesan terjadwal yang aktif.").Build(), nil
	}

	loc := b.settings().Location
	p := tgui.Paginate(entries, page, listPageSize)
	m := tgui.New().Title("📋", "Jadwal Aktif Anda").Line(p.Label()).Blank()
	for i, e := range p.Items {
		m.HTML(tgui.Esc(fmt.Sprintf("%d. ", p.From+i+1)) + tgui.B(e.Label()) + tgui.Esc(" | "+datetime.Short(e.DateTime, loc)))
		m.Line("   " + schedule.Preview(e.Text, listPreviewLen))
		m.HTML("   ID: " + tgui.Code(e.ID))
	}
	m.Blank().HTML(tgui.Esc("Batalkan dengan ") + tgui.Code("/batalkan <id>") + tgui.Esc(" atau /batal."))

	var nav []tele.Btn
	if p.HasPrev {
		nav = append(nav, tgui.Btn("⬅️", tgui.Data(ns, "page", strconv.Itoa(p.Index-1))))
	}
	if p.HasNext {
		nav = append(nav, tgui.Btn("➡️", tgui.Data(ns, "page", strconv.Itoa(p.Index+1))))
	}
	kb := tgui.NewInline().Row(nav...)
	return m.Inline(kb).Build(), nil
}

func (b *Bot) cmdList(ctx context.Context, req *router.Request) error {
	m, err := b.listMessage(ctx, req.FromID, 0)
	if err != nil {
		_ = req.Reply(ctx, "Terjadi kesalahan saat mengambil daftar jadwal.")
		return err
	}
	_, err = m.Send(ctx, req.Adapter, req.Chat)
	return err
}

// cbPage edits the list message in place.
func (b *Bot) cbPage(ctx context.Context, req *router.Request, payload string) error {
	page, err := strconv.Atoi(payload)
	if err != nil {
		return nil
	}
	m, err := b.listMessage(ctx, req.FromID, page)
	if err != nil {
		return err
	}
	cb := req.Update.Callback
	return m.Edit(ctx, req.Adapter, kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID})
}

func (b *Bot) cmdCancelByID(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Format: /batalkan <id>\nLihat ID jadwal dengan /daftar.")
	}
	id := req.Args[0]

	e, ok, err := b.d.Store.Get(ctx, id)
	switch {
	case err != nil:
		_ = req.Reply(ctx, "Terjadi kesalahan saat membatalkan jadwal.")
		return err
	case !ok || e.OwnerID != req.FromID:
		return req.Reply(ctx, "Jadwal dengan ID tersebut tidak ditemukan.")
	case e.Sent:
		return req.Reply(ctx, "Jadwal tersebut sudah terkirim dan tidak bisa dibatalkan.")
	}

	done, err := b.d.Store.Cancel(ctx, id, req.FromID)
	if err != nil {
		_ = req.Reply(ctx, "Terjadi kesalahan saat membatalkan jadwal.")
		return err
	}
	if !done {
		return req.Reply(ctx, "Jadwal tersebut tidak lagi tersedia.")
	}
	b.cancelled(req, e)
	return req.Reply(ctx, fmt.Sprintf("🗑 Jadwal untuk %q pada %s dibatalkan.", e.Label(), datetime.Format(e.DateTime, b.settings().Location)))
}

func (b *Bot) cmdStatus(ctx context.Context, req *router.Request) error {
	if b.d.Backend.IsReady(ctx) {
		return req.Reply(ctx, "✅ Klien WhatsApp terhubung dan siap mengirim pesan.")
	}
	return req.Reply(ctx, "⚠️ Klien WhatsApp belum siap. Pesan terjadwal akan dikirim setelah koneksi pulih.")
}

func (b *Bot) sessionController(ctx context.Context, req *router.Request) (messaging.SessionController, bool) {
	sc, ok := b.d.Backend.(messaging.SessionController)
	if !ok {
		_ = req.Reply(ctx, "Backend WhatsApp ini tidak mendukung login/logout dari chat.")
	}
	return sc, ok
}

func (b *Bot) cmdLogin(ctx context.Context, req *router.Request) error {
	sc, ok := b.sessionController(ctx, req)
	if !ok {
		return nil
	}
	png, err := sc.LoginQR(ctx)
	switch {
	case errors.Is(err, messaging.ErrLoggedIn):
		return req.Reply(ctx, "✅ WhatsApp sudah login.")
	case err != nil:
		_ = req.Reply(ctx, "Gagal mengambil QR login: "+err.Error())
		return err
	}
	ps, ok := req.Adapter.(kit.PhotoSender)
	if !ok {
		return req.Reply(ctx, "Transport ini tidak bisa mengirim gambar QR.")
	}
	_, err = ps.SendPhoto(ctx, req.Chat, png, "Pindai QR ini dari WhatsApp > Perangkat tertaut.")
	return err
}

func (b *Bot) cmdLogout(ctx context.Context, req *router.Request) error {
	sc, ok := b.sessionController(ctx, req)
	if !ok {
		return nil
	}
	if err := sc.Logout(ctx); err != nil {
		_ = req.Reply(ctx, "Gagal logout: "+err.Error())
		return err
	}
	req.Logger.Info("whatsapp session logged out")
	return req.Reply(ctx, "🔌 Sesi WhatsApp telah logout. Gunakan /login_wa untuk login kembali.")
}

func (b *Bot) cmdHealth(ctx context.Context, req *router.Request) error {
	now := b.now()
	m := tgui.New().Title("🩺", "Health").
		KV("uptime", now.Sub(b.started).Truncate(time.Second).String()).
		KV("wa_ready", strconv.FormatBool(b.d.Backend.IsReady(ctx))).
		KV("wizard_sessions", strconv.Itoa(b.d.Sessions.Len()))

	if b.d.Ticks != nil {
		if r, ok := b.d.Ticks.LastReport(); ok {
			m.Blank().Title("⏱", "Dispatch terakhir").
				KV("at", datetime.Format(r.At, b.settings().Location)).
				KV("took", r.Took.String()).
				KV("due/sent/failed", fmt.Sprintf("%d/%d/%d", r.Due, r.Sent, r.Failed))
			if r.Skipped != "" {
				m.KV("skipped", r.Skipped)
			}
			if r.Err != "" {
				m.KV("error", r.Err)
			}
		} else {
			m.Blank().Line("Dispatch belum berjalan.")
		}
	}

	if b.d.Supervisors != nil {
		var lines []string
		for name, active := range b.d.Supervisors.Snapshot() {
			lines = append(lines, fmt.Sprintf("%s: %s", name, strings.Join(active, ", ")))
		}
		if len(lines) > 0 {
			sort.Strings(lines)
			m.Blank().Title("🧵", "Goroutine").Pre(strings.Join(lines, "\n"))
		}
	}
	_, err := m.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cbMenu(ctx context.Context, req *router.Request, payload string) error {
	switch payload {
	case "pribadi":
		return b.cmdSchedule(wizard.TargetDirect)(ctx, req)
	case "grup":
		return b.cmdSchedule(wizard.TargetGroup)(ctx, req)
	case "daftar":
		return b.cmdList(ctx, req)
	case "batal":
		return b.cmdCancel(ctx, req)
	case "status":
		return b.cmdStatus(ctx, req)
	case "bantuan":
		return req.Reply(ctx, helpSummary)
	}
	return nil
}

const helpSummary = "Perintah utama:\n" +
	"/pribadi - jadwalkan pesan ke kontak\n" +
	"/grup - jadwalkan pesan ke grup\n" +
	"/jadwalkanpesan <nomor> <HH:MM> <DD/MM/YYYY> <pesan>\n" +
	"/daftar - lihat jadwal aktif\n" +
	"/batal - pilih jadwal untuk dibatalkan\n" +
	"/batalscene - keluar dari proses yang sedang berjalan\n" +
	"/status_wa - status koneksi WhatsApp\n\n" +
	"Daftar lengkap: /bantuan"
