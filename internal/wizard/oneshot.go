package wizard

import (
	"context"
	"strings"

	"wasched/internal/messaging"
	"wasched/internal/schedule"
	"wasched/internal/target"
)

const (
	msgOneShotUsage  = "Format: /jadwalkanpesan <nomor|id grup> <HH:MM> <DD/MM/YYYY> <pesan>\nContoh: /jadwalkanpesan 08123456789 17:00 25/12/2030 Selamat Natal!"
	msgOneShotTarget = "Target harus nomor WhatsApp atau ID grup (…@g.us). Untuk mencari nama kontak atau grup gunakan /pribadi atau /grup."
)

// ScheduleOnce handles a complete request given in a single message:
// destination, "HH:MM DD/MM/YYYY" and the text. Name search is not
// offered here; only direct numbers and raw group ids are accepted.
func ScheduleOnce(ctx context.Context, d Deps, ownerID int64, args string) Outcome {
	fields, text := cutFields(args, 3)
	if len(fields) < 3 || strings.TrimSpace(text) == "" {
		return Outcome{Text: msgOneShotUsage}
	}

	var dest target.Candidate
	switch id, display, ok := target.NormalizeDirect(fields[0]); {
	case ok:
		dest = target.Candidate{ID: id, DisplayName: display}
	case target.LooksLikeGroupAddress(fields[0]):
		dest = target.Candidate{ID: fields[0], DisplayName: messaging.DisplayNameOr(ctx, d.Backend, fields[0])}
	default:
		return Outcome{Text: msgOneShotTarget}
	}

	at, problem := parseWhen(d, fields[1]+" "+fields[2])
	if problem != "" {
		return Outcome{Text: problem}
	}

	return commit(ctx, d, schedule.Draft{
		Target:            dest.ID,
		TargetDisplayName: dest.DisplayName,
		DateTime:          at,
		Text:              strings.TrimSpace(text),
		OwnerID:           ownerID,
	})
}

// cutFields splits off the first n whitespace-separated words and returns
// the remainder untouched, so the message keeps its own line breaks.
func cutFields(s string, n int) ([]string, string) {
	var out []string
	rest := s
	for len(out) < n {
		rest = strings.TrimLeft(rest, " \t\n\r")
		if rest == "" {
			break
		}
		end := strings.IndexAny(rest, " \t\n\r")
		if end < 0 {
			out = append(out, rest)
			rest = ""
			break
		}
		out = append(out, rest[:end])
		rest = rest[end:]
	}
	return out, strings.TrimLeft(rest, " \t")
}
