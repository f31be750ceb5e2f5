// Package dispatch delivers due scheduled entries. A Tick scans the store
// once; the Trigger runs ticks on a cron spec.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wasched/internal/eventbus"
	"wasched/internal/messaging"
	"wasched/internal/metrics"
	"wasched/internal/receipts"
	"wasched/internal/schedule"
	"wasched/internal/storage"
	logx "wasched/pkg/logx"
)

const (
	DefaultSendTimeout = 30 * time.Second
	DefaultRatePerSec  = 5.0
)

type Options struct {
	SendTimeout time.Duration
	RatePerSec  float64
	Receipts    receipts.Cache
	Bus         eventbus.Bus
	Now         func() time.Time
}

// TickReport summarizes one pass over the due entries.
type TickReport struct {
	At         time.Time     `json:"at"`
	Took       time.Duration `json:"took"`
	Skipped    string        `json:"skipped,omitempty"`
	Due        int           `json:"due"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Deduped    int           `json:"deduped"`
	MarkFailed int           `json:"mark_failed"`
	Err        string        `json:"err,omitempty"`
}

type Dispatcher struct {
	store    storage.Store
	backend  messaging.Backend
	receipts receipts.Cache
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	mu          sync.Mutex
	sendTimeout time.Duration
	limiter     *rate.Limiter
	last        TickReport
	hasLast     bool
}

func New(store storage.Store, backend messaging.Backend, opt Options, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		store:    store,
		backend:  backend,
		receipts: opt.Receipts,
		bus:      opt.Bus,
		log:      log,
		now:      opt.Now,
	}
	if d.receipts == nil {
		d.receipts = receipts.Nop{}
	}
	if d.bus == nil {
		d.bus = eventbus.Nop{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.Apply(opt.SendTimeout, opt.RatePerSec)
	return d
}

// Apply updates the per-send timeout and pacing. Zero values select defaults.
func (d *Dispatcher) Apply(sendTimeout time.Duration, ratePerSec float64) {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if ratePerSec <= 0 {
		ratePerSec = DefaultRatePerSec
	}
	burst := max(1, int(ratePerSec))
	d.mu.Lock()
	d.sendTimeout = sendTimeout
	if d.limiter == nil {
		d.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	} else {
		d.limiter.SetLimit(rate.Limit(ratePerSec))
		d.limiter.SetBurst(burst)
	}
	d.mu.Unlock()
}

// LastReport returns the most recent tick report.
func (d *Dispatcher) LastReport() (TickReport, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.hasLast
}

func (d *Dispatcher) remember(rep TickReport, start time.Time) TickReport {
	rep.Took = time.Since(start)
	d.mu.Lock()
	d.last = rep
	d.hasLast = true
	d.mu.Unlock()
	d.bus.Publish(eventbus.Event{Type: eventbus.DispatchTick, Time: rep.At, Data: rep})
	return rep
}

// Tick sends every entry that is due now. A failed entry stays unsent and
// is tried again on the next tick; it never stops the others.
func (d *Dispatcher) Tick(ctx context.Context) TickReport {
	start := time.Now()
	now := d.now()
	rep := TickReport{At: now}

	ready := d.backend.IsReady(ctx)
	metrics.SetBackendReady(ready)
	if !ready {
		rep.Skipped = "not_ready"
		metrics.DispatchTicks.WithLabelValues("skipped_not_ready").Inc()
		d.bus.Publish(eventbus.Event{Type: eventbus.DispatchSkipped, Time: now, Data: rep.Skipped})
		d.log.Debug("messaging backend not ready; tick skipped")
		return d.remember(rep, start)
	}

	due, err := d.store.Due(ctx, now)
	if err != nil {
		rep.Err = err.Error()
		metrics.DispatchTicks.WithLabelValues("store_error").Inc()
		d.log.Error("load due entries failed", logx.Err(err))
		return d.remember(rep, start)
	}
	rep.Due = len(due)
	metrics.DueBacklog.Set(float64(len(due)))
	if len(due) == 0 {
		metrics.DispatchTicks.WithLabelValues("empty").Inc()
		return d.remember(rep, start)
	}
	metrics.DispatchTicks.WithLabelValues("ran").Inc()
	d.log.Info("dispatching due entries", logx.Int("count", len(due)))

	d.mu.Lock()
	limiter := d.limiter
	sendTimeout := d.sendTimeout
	d.mu.Unlock()

	for _, e := range due {
		if ctx.Err() != nil {
			d.log.Info("dispatch interrupted; remaining entries wait for the next tick", logx.Int("left", rep.Due-rep.Sent-rep.Failed-rep.Deduped-rep.MarkFailed))
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		d.deliver(ctx, e, sendTimeout, &rep)
	}

	d.log.Info("dispatch tick done",
		logx.Int("due", rep.Due),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Int("deduped", rep.Deduped),
		logx.Int("mark_failed", rep.MarkFailed),
	)
	return d.remember(rep, start)
}

func (d *Dispatcher) deliver(ctx context.Context, e schedule.Entry, sendTimeout time.Duration, rep *TickReport) {
	log := d.log.With(logx.String("entry_id", e.ID), logx.Int64("owner_id", e.OwnerID))
	// Bookkeeping must finish even when the tick is being cancelled.
	bg := context.WithoutCancel(ctx)

	if r, ok, err := d.receipts.Lookup(bg, e.ID); err != nil {
		log.Warn("receipt lookup failed", logx.Err(err))
	} else if ok {
		log.Info("entry already delivered; marking sent", logx.String("remote_id", r.RemoteMessageID))
		if d.markSent(bg, log, e, rep) {
			rep.Deduped++
			metrics.DispatchSends.WithLabelValues("deduped").Inc()
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(bg, sendTimeout)
	started := time.Now()
	remoteID, err := d.backend.Send(sendCtx, e.Target, e.Text)
	cancel()
	metrics.DispatchSendDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		rep.Failed++
		metrics.DispatchSends.WithLabelValues("failed").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("send timed out; will retry next tick", logx.Duration("timeout", sendTimeout))
		} else {
			log.Warn("send failed; will retry next tick", logx.Err(err))
		}
		d.bus.Publish(eventbus.Event{Type: eventbus.EntrySendFailed, Data: eventbus.EntryEvent{ID: e.ID, OwnerID: e.OwnerID, At: e.DateTime, Err: err.Error()}})
		return
	}

	if err := d.receipts.Record(bg, e.ID, remoteID, d.now()); err != nil {
		log.Warn("record receipt failed", logx.Err(err))
	}
	if d.markSent(bg, log, e, rep) {
		rep.Sent++
		metrics.DispatchSends.WithLabelValues("sent").Inc()
		log.Info("entry sent", logx.String("remote_id", remoteID))
	}
}

func (d *Dispatcher) markSent(ctx context.Context, log logx.Logger, e schedule.Entry, rep *TickReport) bool {
	ok, err := d.store.MarkSent(ctx, e.ID)
	if err != nil {
		rep.MarkFailed++
		metrics.DispatchSends.WithLabelValues("mark_failed").Inc()
		log.Error("mark sent failed; receipt keeps it from being sent twice", logx.Err(err))
		return false
	}
	if !ok {
		// Cancelled or marked elsewhere between Due and now.
		log.Warn("entry was no longer pending when marking sent")
	}
	if err := d.receipts.Forget(ctx, e.ID); err != nil {
		log.Debug("forget receipt failed", logx.Err(err))
	}
	d.bus.Publish(eventbus.Event{Type: eventbus.EntrySent, Data: eventbus.EntryEvent{ID: e.ID, OwnerID: e.OwnerID, At: e.DateTime}})
	return true
}
