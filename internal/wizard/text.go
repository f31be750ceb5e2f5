package wizard

import (
	"fmt"
	"strings"
)

const (
	exitHint = "Kirim /batalscene untuk keluar."

	msgAskDirect = "Baik, mari kita jadwalkan pesan.\n\n" +
		"Silakan masukkan nomor WhatsApp tujuan atau sebagian nama kontak yang tersimpan di WhatsApp.\n\n" + exitHint
	msgAskGroup = "Baik, mari kita jadwalkan pesan.\n\n" +
		"Silakan masukkan link undangan grup WhatsApp, ID grup (jika diketahui), atau nama grup (jika bot sudah menjadi anggota).\n\n" + exitHint

	msgAskTargetAgain  = "Baik, silakan masukkan nama kontak atau nomor telepon yang benar.\n" + exitHint
	msgEmptyTarget     = "Input tidak valid. Mohon masukkan target yang diminta.\n" + exitHint
	msgDirectNotFound  = "Nomor telepon tidak valid dan tidak ada kontak dengan nama tersebut. Coba lagi.\n" + exitHint
	msgGroupNotFound   = "Grup tidak ditemukan. Pastikan bot sudah menjadi anggota, atau kirim link undangan.\n" + exitHint
	msgManyContacts    = "Ditemukan beberapa kontak yang cocok. Silakan pilih salah satu:"
	msgManyGroups      = "Ditemukan beberapa grup yang cocok. Silakan pilih salah satu:"
	msgPickButton      = "Silakan pilih salah satu tombol di atas.\n" + exitHint
	msgEmptyText       = "Isi pesan tidak boleh kosong.\n" + exitHint
	msgBadFormat       = "Format tanggal/waktu salah. Contoh: 17:00 25/12/2030"
	msgBadRange        = "Tanggal/waktu di luar rentang yang valid. Contoh: 17:00 25/12/2030"
	msgNoSuchDate      = "Tanggal tersebut tidak ada di kalender. Periksa kembali."
	msgTooSoon         = "Waktu harus di masa depan (min. 1 menit)."
	msgNotReady        = "Klien WA tidak siap."
	msgSaveFailed      = "Gagal menyimpan jadwal. Silakan coba lagi nanti."
	msgScheduleAborted = "Penjadwalan dibatalkan."
	msgSessionLost     = "Sesi tidak valid. Silakan mulai lagi dari /menu."
	msgStaleButton     = "Tombol tersebut sudah tidak berlaku. Lanjutkan dengan mengetik jawaban.\n" + exitHint

	msgNothingToCancel = "Anda tidak memiliki pesan terjadwal yang aktif untuk dibatalkan."
	msgListFailed      = "Terjadi kesalahan saat menampilkan daftar jadwal."
	msgCancelFailed    = "Terjadi kesalahan saat membatalkan jadwal."
	msgAlreadySent     = "Jadwal tersebut sudah terkirim dan tidak bisa dibatalkan."
	msgGone            = "Jadwal tersebut tidak lagi tersedia."
	msgCancelAborted   = "Proses pembatalan jadwal dihentikan."
)

func askMessage(prefix string) string {
	return prefix + "\n\nSekarang masukkan isi pesan.\n" + exitHint
}

func askDateTime(text string) string {
	return fmt.Sprintf("Isi pesan: %q\n\nSekarang masukkan waktu dan tanggal pengiriman.\n"+
		"Format: HH:MM DD/MM/YYYY (contoh: 17:00 25/12/2030).\n%s", text, exitHint)
}

func confirmPrompt(label string) string {
	return fmt.Sprintf("Apakah maksud Anda: %s?\nKirim \"ya\" atau \"tidak\", atau /batalscene.", label)
}

func numbered(header string, lines []string, footer string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	for i, l := range lines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l)
	}
	if footer != "" {
		b.WriteString("\n")
		b.WriteString(footer)
	}
	return strings.TrimRight(b.String(), "\n")
}
