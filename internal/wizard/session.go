// Package wizard implements the scheduling and cancellation dialogs as
// transitions over a Session value. Transitions never keep a reference to
// the session they were given; callers store whatever they get back.
package wizard

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"wasched/internal/messaging"
	"wasched/internal/schedule"
	"wasched/internal/storage"
	"wasched/internal/target"
)

type Kind string

const (
	KindSchedule Kind = "schedule"
	KindCancel   Kind = "cancel"
)

type Step string

const (
	StepAskTarget         Step = "ask_target"
	StepAwaitTarget       Step = "await_target"
	StepAwaitGroupName    Step = "await_group_name"
	StepAwaitConfirmation Step = "await_confirmation"
	StepAwaitChoice       Step = "await_choice"
	StepAskMessage        Step = "ask_message"
	StepAskDateTime       Step = "ask_datetime"
	StepAwaitCancelChoice Step = "await_cancel_choice"
	StepDone              Step = "done"
	StepAborted           Step = "aborted"
)

// Terminal steps end the session.
func (s Step) Terminal() bool { return s == StepDone || s == StepAborted }

type TargetType int

const (
	TargetDirect TargetType = iota
	TargetGroup
)

func (t TargetType) Scope() target.Scope {
	if t == TargetGroup {
		return target.ScopeGroups
	}
	return target.ScopeContacts
}

func (t TargetType) String() string {
	if t == TargetGroup {
		return "group"
	}
	return "direct"
}

// Session is the whole state of one user's dialog.
type Session struct {
	Kind       Kind
	Step       Step
	OwnerID    int64
	TargetType TargetType

	// Candidates is the list last shown to the user. A choice always
	// indexes into this snapshot.
	Candidates []target.Candidate
	// ChoiceNonce stamps the buttons of the current prompt, choices or
	// Ya/Tidak alike.
	ChoiceNonce string
	Pending     *target.Candidate
	InviteToken string
	Draft       schedule.Draft

	// Entries is the cancel flow's numbered snapshot.
	Entries []schedule.Entry

	UpdatedAt time.Time
}

func (s Session) clone() Session {
	s.Candidates = append([]target.Candidate(nil), s.Candidates...)
	s.Entries = append([]schedule.Entry(nil), s.Entries...)
	if s.Pending != nil {
		p := *s.Pending
		s.Pending = &p
	}
	return s
}

type InputKind int

const (
	InputText InputKind = iota
	InputChoice
	InputCancel
	// InputConfirm is a Ya/Tidak button press; only a pending confirmation
	// takes it.
	InputConfirm
)

// Input is one user turn.
type Input struct {
	Kind  InputKind
	Text  string
	Nonce string
	Index int
	Yes   bool
}

func Text(s string) Input { return Input{Kind: InputText, Text: s} }

func Choice(nonce string, index int) Input {
	return Input{Kind: InputChoice, Nonce: nonce, Index: index}
}

func Cancel() Input { return Input{Kind: InputCancel} }

func Confirm(nonce string, yes bool) Input {
	return Input{Kind: InputConfirm, Nonce: nonce, Yes: yes}
}

// Buttons tells the chat layer which keyboard goes with a reply.
type Buttons int

const (
	ButtonsNone Buttons = iota
	ButtonsConfirm
	ButtonsChoices
)

// Outcome is what a transition wants shown to the user.
type Outcome struct {
	Text    string
	Buttons Buttons
	// Options are choice labels aligned with the snapshot indexes.
	Options []string
	Nonce   string

	Created   *schedule.Entry
	Cancelled *schedule.Entry
	// Err is an internal failure worth logging; Text already explains it.
	Err error
}

// Deps are the collaborators a transition may call.
type Deps struct {
	Backend    messaging.Backend
	Store      storage.Store
	Now        func() time.Time
	Location   *time.Location
	MinLead    time.Duration
	MaxChoices int
	NewNonce   func() string
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) location() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.Local
}

func (d Deps) nonce() string {
	if d.NewNonce != nil {
		return d.NewNonce()
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
