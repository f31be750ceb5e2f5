// Package target recognizes WhatsApp destinations typed by users and
// decides how an ambiguous name lookup is resolved.
package target

import (
	"regexp"
	"sort"
	"strings"
)

// Scope selects which directory a name lookup searches.
type Scope int

const (
	ScopeContacts Scope = iota
	ScopeGroups
)

func (s Scope) String() string {
	if s == ScopeGroups {
		return "groups"
	}
	return "contacts"
}

const (
	DirectSuffix = "@c.us"
	GroupSuffix  = "@g.us"
)

var (
	addressNoise  = regexp.MustCompile(`[<>\s\-()+]`)
	directRe      = regexp.MustCompile(`^(628[0-9]{8,13}|08[0-9]{8,13})$`)
	groupIDRe     = regexp.MustCompile(`^[0-9@._-]+@g\.us$`)
	inviteTokenRe = regexp.MustCompile(`chat\.whatsapp\.com/([A-Za-z0-9_-]{18,24})`)
)

func cleanNumber(s string) string { return addressNoise.ReplaceAllString(s, "") }

// LooksLikeDirectAddress reports whether text is an Indonesian mobile
// number after stripping spaces, dashes, parentheses, plus signs and
// angle brackets.
func LooksLikeDirectAddress(text string) bool {
	return directRe.MatchString(cleanNumber(text))
}

// NormalizeDirect turns a direct address into a chat id ("628…@c.us") and
// the cleaned number used as display name. ok is false when text is not a
// direct address.
func NormalizeDirect(text string) (id, display string, ok bool) {
	n := cleanNumber(text)
	if !directRe.MatchString(n) {
		return "", "", false
	}
	return ChatID(n), n, true
}

// ChatID maps a bare number or an existing chat id onto the canonical
// form. A leading 0 becomes the 62 country code.
func ChatID(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, DirectSuffix) || strings.HasSuffix(s, GroupSuffix) {
		return s
	}
	n := cleanNumber(s)
	if strings.HasPrefix(n, "0") {
		n = "62" + n[1:]
	}
	return n + DirectSuffix
}

// GroupInviteToken extracts the invite code from a chat.whatsapp.com link.
func GroupInviteToken(text string) (string, bool) {
	m := inviteTokenRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// LooksLikeGroupAddress reports whether text is a raw group id.
func LooksLikeGroupAddress(text string) bool {
	return groupIDRe.MatchString(strings.TrimSpace(text))
}

// IsGroup reports whether a stored target addresses a group.
func IsGroup(id string) bool { return strings.HasSuffix(id, GroupSuffix) }

// Candidate is one directory entry offered to the user.
type Candidate struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	// Detail is secondary text such as the phone number.
	Detail string `json:"detail,omitempty"`
}

// Label is the button/list text for c.
func (c Candidate) Label() string {
	name := strings.TrimSpace(c.DisplayName)
	if name == "" {
		name = c.ID
	}
	if c.Detail != "" && c.Detail != name {
		return name + " (" + c.Detail + ")"
	}
	return name
}

// MatchName filters entries whose display name contains query,
// case-insensitively. Order is preserved, then stabilized by name so the
// same directory always yields the same list.
func MatchName(entries []Candidate, query string) []Candidate {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	out := make([]Candidate, 0, 8)
	for _, c := range entries {
		if strings.Contains(strings.ToLower(c.DisplayName), q) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName) < strings.ToLower(out[j].DisplayName)
	})
	return out
}
