package eventbus

import "time"

const (
	EntryCreated    = "entry.created"
	EntryCancelled  = "entry.cancelled"
	EntrySent       = "entry.sent"
	EntrySendFailed = "entry.send_failed"
	DispatchTick    = "dispatch.tick"
	DispatchSkipped = "dispatch.skipped"
)

// EntryEvent is the payload of the entry.* events.
type EntryEvent struct {
	ID      string
	OwnerID int64
	At      time.Time
	Err     string
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
