// Package schedule holds the scheduled-message data model shared by the
// wizard, the store drivers and the dispatch loop.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidDraft = errors.New("schedule: invalid draft")

// Entry is one persisted scheduled message. DateTime, CreatedAt and SentAt
// are always UTC.
type Entry struct {
	ID                string     `json:"id"`
	Target            string     `json:"target"`
	TargetDisplayName string     `json:"targetDisplayName,omitempty"`
	DateTime          time.Time  `json:"dateTime"`
	Text              string     `json:"text"`
	OwnerID           int64      `json:"userId"`
	Sent              bool       `json:"sent"`
	CreatedAt         time.Time  `json:"createdAt"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
}

// Label is the name shown to users for the entry's destination.
func (e Entry) Label() string {
	if s := strings.TrimSpace(e.TargetDisplayName); s != "" {
		return s
	}
	return e.Target
}

// Due reports whether e should be dispatched at now.
func (e Entry) Due(now time.Time) bool {
	return !e.Sent && !e.DateTime.After(now)
}

// Draft is what a wizard accumulates before committing.
type Draft struct {
	Target            string
	TargetDisplayName string
	DateTime          time.Time
	Text              string
	OwnerID           int64
}

func (d Draft) Validate() error {
	switch {
	case strings.TrimSpace(d.Target) == "":
		return fmt.Errorf("%w: empty target", ErrInvalidDraft)
	case strings.TrimSpace(d.Text) == "":
		return fmt.Errorf("%w: empty text", ErrInvalidDraft)
	case d.DateTime.IsZero():
		return fmt.Errorf("%w: missing date/time", ErrInvalidDraft)
	case d.OwnerID == 0:
		return fmt.Errorf("%w: missing owner", ErrInvalidDraft)
	}
	return nil
}

// NewEntry materializes a validated draft with a fresh time-ordered id.
func NewEntry(d Draft, now time.Time) (Entry, error) {
	if err := d.Validate(); err != nil {
		return Entry{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Entry{}, fmt.Errorf("schedule: new id: %w", err)
	}
	return Entry{
		ID:                id.String(),
		Target:            strings.TrimSpace(d.Target),
		TargetDisplayName: strings.TrimSpace(d.TargetDisplayName),
		DateTime:          d.DateTime.UTC(),
		Text:              d.Text,
		OwnerID:           d.OwnerID,
		CreatedAt:         now.UTC(),
	}, nil
}

// SortByTime orders entries by DateTime, then ID.
func SortByTime(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].DateTime.Equal(es[j].DateTime) {
			return es[i].DateTime.Before(es[j].DateTime)
		}
		return es[i].ID < es[j].ID
	})
}

// ShortID is the last 8 characters of an id, shown in compact lists.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

// Preview shortens text to at most n runes, adding "..." when cut.
func Preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if n <= 0 || len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
