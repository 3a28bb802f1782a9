package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// StatusMessenger sends and edits the status message.
type StatusMessenger interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
}

const editTimeout = 10 * time.Second

// Reporter keeps one status message up to date during a run.
//
// Observe is called from delivery goroutines and never blocks: every
// Every-th snapshot is handed to a single edit goroutine through a
// one-slot mailbox, and a newer snapshot replaces one still waiting.
// Edit failures are logged and ignored.
type Reporter struct {
	msgr  StatusMessenger
	chat  kit.ChatTarget
	every int64
	log   logx.Logger
	now   func() time.Time

	start   time.Time
	ref     kit.MessageRef
	hasRef  bool
	mailbox chan Snapshot
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	begun   atomic.Bool

	edits atomic.Int64
}

func NewReporter(msgr StatusMessenger, chat kit.ChatTarget, every int, log logx.Logger) *Reporter {
	if every <= 0 {
		every = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{
		msgr:    msgr,
		chat:    chat,
		every:   int64(every),
		log:     log,
		now:     time.Now,
		mailbox: make(chan Snapshot, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Begin sends the initial status message and starts the edit loop.
// If the send fails, later edits are skipped.
func (r *Reporter) Begin(ctx context.Context) {
	r.start = r.now()
	sctx, cancel := context.WithTimeout(ctx, editTimeout)
	ref, err := r.msgr.SendText(sctx, r.chat, FormatProgress(Snapshot{}, 0), nil)
	cancel()
	if err != nil {
		r.log.Debug("status message send failed", logx.Err(err))
	} else {
		r.ref, r.hasRef = ref, true
	}
	r.begun.Store(true)
	go r.loop(ctx)
}

func (r *Reporter) Observe(s Snapshot) {
	if s.Processed <= 0 || s.Processed%r.every != 0 {
		return
	}
	select {
	case r.mailbox <- s:
		return
	default:
	}
	// replace the stale snapshot
	select {
	case <-r.mailbox:
	default:
	}
	select {
	case r.mailbox <- s:
	default:
	}
}

func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case s := <-r.mailbox:
			r.edit(ctx, FormatProgress(s, r.now().Sub(r.start)))
		}
	}
}

// Finish stops the edit loop and renders the final totals. The final edit
// is attempted even if ctx is already canceled.
func (r *Reporter) Finish(ctx context.Context, res Result) {
	if !r.begun.Load() {
		return
	}
	r.once.Do(func() { close(r.stop) })
	<-r.done
	r.edit(context.WithoutCancel(ctx), FormatDone(res.Tally, res.Elapsed))
}

// Edits reports how many edits were attempted.
func (r *Reporter) Edits() int64 { return r.edits.Load() }

func (r *Reporter) edit(ctx context.Context, text string) {
	if !r.hasRef {
		return
	}
	r.edits.Add(1)
	ectx, cancel := context.WithTimeout(ctx, editTimeout)
	defer cancel()
	if err := r.msgr.EditText(ectx, r.ref, text, nil); err != nil {
		r.log.Debug("status message edit failed", logx.Err(err))
	}
}

// FormatProgress renders "✔:{s} ✖:{f} {rate} msg/s".
func FormatProgress(s Snapshot, elapsed time.Duration) string {
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(s.Processed) / secs
	}
	return fmt.Sprintf("✔:%d ✖:%d %.2f msg/s", s.Succeeded, s.Failed, rate)
}

// FormatDone renders the final summary.
func FormatDone(s Snapshot, elapsed time.Duration) string {
	if elapsed < 0 {
		elapsed = 0
	}
	return fmt.Sprintf("🎉 Done! ✔:%d ✖:%d in %.2fs", s.Succeeded, s.Failed, elapsed.Seconds())
}
