package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help for ParseMode="HTML". With an argument it shows a
// single command; owner-only commands are listed for owners only.
func (r *Router) helpText(args []string, owner bool) string {
	r.mu.RLock()
	cmds := append([]Command(nil), r.ordered...)
	byName, alias := r.commands, r.alias
	r.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c := byName[name]
		if c == nil {
			c = alias[name]
		}
		if c == nil || (c.Access == AccessOwnerOnly && !owner) {
			return helpUnknown()
		}
		return helpCommand(*c)
	}

	sort.SliceStable(cmds, func(i, j int) bool {
		li, lj := cmds[i].Access == AccessOwnerOnly, cmds[j].Access == AccessOwnerOnly
		if li != lj {
			return lj
		}
		return cmds[i].Route < cmds[j].Route
	})

	lines := []string{
		"📚 <b>Daftar Perintah</b>",
		"Ketik <code>/bantuan &lt;perintah&gt;</code> untuk detail.",
		"",
	}
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		lock := c.Access == AccessOwnerOnly
		if lock && !owner {
			continue
		}
		line := "• "
		if lock {
			line = "• 🔒 "
		}
		line += "<code>/" + html.EscapeString(c.Route) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpUnknown() string {
	return "❓ <b>Perintah tidak dikenal</b>\nCoba ketik <code>/bantuan</code> untuk melihat daftar perintah."
}

func helpCommand(c Command) string {
	lines := []string{"📚 <b>Bantuan</b> <code>/" + html.EscapeString(c.Route) + "</code>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>Khusus owner</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Cara pakai</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if short := shortcuts(c); len(short) > 0 {
		lines = append(lines, "", "<b>Alias</b>")
		for _, s := range short {
			lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
		}
	}
	return strings.Join(lines, "\n")
}

// shortcuts lists aliases plus their Telegram-safe spellings.
func shortcuts(c Command) []string {
	seen := map[string]bool{c.Route: true}
	var out []string
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		for _, v := range []string{a, sanitizeCommand(a)} {
			if v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)
	return out
}
