package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"castbot/internal/storage"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// Copier is the part of the messaging gateway the dispatcher needs.
type Copier interface {
	CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) (kit.MessageRef, error)
}

// ProgressSink receives a snapshot after every processed recipient.
// Implementations must not block.
type ProgressSink interface {
	Observe(s Snapshot)
}

type DispatcherOptions struct {
	// MaxInFlight bounds concurrent deliveries. Default 20.
	MaxInFlight int
	// RatePerSec caps delivery starts per second. 0 disables the cap.
	RatePerSec int
}

// Result is the outcome of one run.
type Result struct {
	RunID     string
	Total     int
	Tally     Snapshot
	Elapsed   time.Duration
	SourceErr error
	// Unattempted counts recipients never tried because the run was
	// interrupted by shutdown.
	Unattempted int
}

// Dispatcher fans one message out to every recipient of a source.
type Dispatcher struct {
	gw   Copier
	src  RecipientSource
	opts DispatcherOptions
	log  logx.Logger
	now  func() time.Time
}

func NewDispatcher(gw Copier, src RecipientSource, opts DispatcherOptions, log logx.Logger) *Dispatcher {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{gw: gw, src: src, opts: opts, log: log, now: time.Now}
}

// Run delivers content to every recipient and returns once all deliveries
// have settled. total is informational; the source decides the real count.
func (d *Dispatcher) Run(ctx context.Context, content ContentRef, total int, sink ProgressSink) Result {
	runID := uuid.NewString()
	log := d.log.With(logx.String("run_id", runID))
	start := d.now()

	var limiter *rate.Limiter
	if d.opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.opts.RatePerSec), 1)
	}

	var (
		tally Tally
		g     errgroup.Group
	)
	g.SetLimit(d.opts.MaxInFlight)

	log.Info("broadcast run started",
		logx.Int("total", total),
		logx.Int("max_in_flight", d.opts.MaxInFlight),
		logx.Int("rate_per_sec", d.opts.RatePerSec),
	)

	ids, srcErr := d.src.Stream(ctx)
	skipped := -1
	for id := range ids {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				// ctx is done, so the source stops on its own; release what
				// it already buffered.
				skipped = 1
				for range ids {
					skipped++
				}
				break
			}
		}
		// Go blocks while MaxInFlight deliveries are outstanding, so the
		// source is only pulled when a slot is free.
		g.Go(func() error {
			ok := d.deliver(ctx, log, id, content)
			snap := tally.Record(ok)
			if sink != nil {
				sink.Observe(snap)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		RunID:     runID,
		Total:     total,
		Tally:     tally.Snapshot(),
		Elapsed:   d.now().Sub(start),
		SourceErr: srcErr(),
	}
	if skipped >= 0 {
		res.Unattempted = max(skipped, total-int(res.Tally.Processed))
		log.Warn("broadcast run interrupted", logx.Int("unattempted", res.Unattempted), logx.Err(ctx.Err()))
	}
	fields := []logx.Field{
		logx.Int64("succeeded", res.Tally.Succeeded),
		logx.Int64("failed", res.Tally.Failed),
		logx.Int64("processed", res.Tally.Processed),
		logx.Duration("elapsed", res.Elapsed),
	}
	if res.SourceErr != nil {
		log.Warn("broadcast run finished with source error", append(fields, logx.Err(res.SourceErr))...)
	} else {
		log.Info("broadcast run finished", fields...)
	}
	return res
}

// deliver copies content to one recipient. Any error or panic is a failure.
func (d *Dispatcher) deliver(ctx context.Context, log logx.Logger, id storage.RecipientID, content ContentRef) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("delivery panicked", logx.Int64("recipient", int64(id)), logx.String("panic", fmt.Sprint(r)))
			ok = false
		}
	}()
	if _, err := d.gw.CopyMessage(ctx, kit.ChatTarget{ChatID: int64(id)}, content.MessageRef()); err != nil {
		log.Trace("delivery failed", logx.Int64("recipient", int64(id)), logx.Err(err))
		return false
	}
	return true
}
