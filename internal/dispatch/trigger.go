package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wasched/internal/metrics"
	logx "wasched/pkg/logx"
)

const DefaultSpec = "@every 1m"

// SecondOptional accepts both 5 and 6 field specs plus descriptors.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether spec can drive the trigger.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(normalizeSpec(spec)); err != nil {
		return fmt.Errorf("invalid dispatch spec %q: %w", spec, err)
	}
	return nil
}

func normalizeSpec(spec string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return DefaultSpec
	}
	return spec
}

// Ticker is the unit the trigger runs.
type Ticker interface {
	Tick(ctx context.Context) TickReport
}

// Trigger runs Tick on a cron schedule. A tick that is still running when
// the next one fires causes that next one to be skipped.
type Trigger struct {
	ticker Ticker
	log    logx.Logger
	loc    *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	ctx     context.Context
	spec    string
	entryID cron.EntryID
}

func NewTrigger(t Ticker, loc *time.Location, log logx.Logger) *Trigger {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Trigger{ticker: t, log: log, loc: loc}
}

// cronLogger adapts logx to cron's logger so skipped runs are visible.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	if msg == "skip" {
		metrics.DispatchTicks.WithLabelValues("skipped_busy").Inc()
		l.log.Warn("dispatch tick skipped; previous tick still running")
		return
	}
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}

// Start begins firing ticks on spec until Stop or ctx is done.
func (t *Trigger) Start(ctx context.Context, spec string) error {
	spec = normalizeSpec(spec)
	if err := ValidateSpec(spec); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return nil
	}
	t.ctx = ctx
	t.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(t.loc),
		cron.WithChain(cron.Recover(cronLogger{t.log}), cron.SkipIfStillRunning(cronLogger{t.log})),
	)
	if err := t.addLocked(spec); err != nil {
		t.c = nil
		return err
	}
	t.c.Start()
	t.log.Info("dispatch trigger started", logx.String("spec", spec), logx.String("tz", t.loc.String()))
	return nil
}

func (t *Trigger) addLocked(spec string) error {
	id, err := t.c.AddFunc(spec, func() {
		t.mu.Lock()
		ctx := t.ctx
		t.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		t.ticker.Tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("add dispatch job: %w", err)
	}
	t.entryID = id
	t.spec = spec
	return nil
}

// Reschedule swaps the spec of a running trigger.
func (t *Trigger) Reschedule(spec string) error {
	spec = normalizeSpec(spec)
	if err := ValidateSpec(spec); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil || spec == t.spec {
		t.spec = spec
		return nil
	}
	old := t.entryID
	if err := t.addLocked(spec); err != nil {
		return err
	}
	t.c.Remove(old)
	t.log.Info("dispatch trigger rescheduled", logx.String("spec", spec))
	return nil
}

func (t *Trigger) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c != nil
}

func (t *Trigger) Spec() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spec
}

// Next is the next scheduled fire time, zero when stopped.
func (t *Trigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		return time.Time{}
	}
	return t.c.Entry(t.entryID).Next
}

// Stop prevents new ticks and waits for a running one, bounded by ctx.
func (t *Trigger) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		t.log.Info("dispatch trigger stopped")
	case <-ctx.Done():
		t.log.Warn("dispatch trigger stop timed out; a tick is still running")
	}
}
