package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"castbot/internal/eventbus"
	"castbot/internal/runtime/supervisor"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
	"castbot/pkg/tgui"
)

// Callback routes of the confirm prompt buttons. The button data appends
// the session Seq as payload, e.g. "bc:confirm:7".
const (
	CallbackScope   = "bc"
	CallbackConfirm = CallbackScope + ":confirm"
	CallbackCancel  = CallbackScope + ":cancel"
)

func promptData(route string, seq uint64) string {
	scope, action, _, _ := tgui.ParseData(route)
	return tgui.Data(scope, action, strconv.FormatUint(seq, 10))
}

// PromptSeq parses the session Seq from a prompt button payload.
func PromptSeq(payload string) (uint64, bool) {
	seq, err := strconv.ParseUint(payload, 10, 64)
	if err != nil || seq == 0 {
		return 0, false
	}
	return seq, true
}

// Gateway is the messaging surface a run needs.
type Gateway interface {
	Copier
	StatusMessenger
}

// Options are read at the start of every run so config reloads apply to the
// next broadcast.
type Options struct {
	MaxInFlight int
	ReportEvery int
	RatePerSec  int
	Prefetch    int
}

// Operator is whoever issued a command.
type Operator struct {
	ID       int64
	Username string
	Chat     kit.ChatTarget
}

// Reply is what the router should show the operator. When Edit is set the
// reply replaces that message instead of being sent as a new one.
type Reply struct {
	Text    string
	Buttons [][]kit.Button
	Edit    *kit.MessageRef
}

type Deps struct {
	Store      storage.Store
	Gateway    Gateway
	Supervisor *supervisor.Supervisor
	Bus        eventbus.Bus
	Log        logx.Logger
	// Options may be nil; defaults are used then.
	Options func() Options
	Now     func() time.Time
}

// Coordinator turns operator intents into session transitions and runs.
type Coordinator struct {
	store storage.Store
	gw    Gateway
	sup   *supervisor.Supervisor
	bus   eventbus.Bus
	log   logx.Logger
	opts  func() Options
	now   func() time.Time

	reg *Registry
}

func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		store: d.Store,
		gw:    d.Gateway,
		sup:   d.Supervisor,
		bus:   d.Bus,
		log:   d.Log,
		opts:  d.Options,
		now:   d.Now,
		reg:   NewRegistry(),
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.log = c.log.With(logx.String("comp", "broadcast"))
	if c.bus == nil {
		c.bus = eventbus.Nop()
	}
	if c.opts == nil {
		c.opts = func() Options { return Options{} }
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

const (
	textAlreadyRunning   = "⏳ A broadcast is already running. Wait for it to finish."
	textStoreUnavailable = "⚠️ Could not read the recipient list. Try again later."
	textConfirm          = "❓ Confirm the broadcast?"
	textStarting         = "🔄 Starting broadcast..."
	textCancelled        = "❌ Broadcast cancelled."
	textCannotCancel     = "⏳ A broadcast is already running and can't be cancelled."
)

// TextExpired replaces a prompt whose session was replaced or dropped.
const TextExpired = "⌛ This prompt belongs to an older broadcast and no longer applies."

// Initiate opens a new session for op, replacing any session that has not
// started broadcasting.
func (c *Coordinator) Initiate(ctx context.Context, op Operator) (Reply, error) {
	if c.reg.IsBroadcasting(op.ID) {
		return Reply{Text: textAlreadyRunning}, ErrAlreadyBroadcasting
	}
	total, err := c.store.Count(ctx, storage.Filter{})
	if err != nil {
		c.log.Warn("recipient count failed", logx.Int64("operator", op.ID), logx.Err(err))
		return Reply{Text: textStoreUnavailable}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s, err := c.reg.Begin(op.ID, total, c.now())
	if err != nil {
		return Reply{Text: textAlreadyRunning}, err
	}
	c.log.Info("broadcast session opened", logx.Int64("operator", op.ID), logx.Int("total", total), logx.Uint64("seq", s.Seq))
	return Reply{Text: fmt.Sprintf(
		"🚀 You are about to broadcast to %s users. Send the content now (text, photo, video, etc.).",
		humanize.Comma(int64(total)),
	)}, nil
}

// SubmitContent captures the message to broadcast. It reports false when
// the operator has no session waiting for content.
func (c *Coordinator) SubmitContent(ctx context.Context, operatorID int64, ref ContentRef) (Reply, bool) {
	if ref.IsZero() {
		return Reply{}, false
	}
	s, ok := c.reg.Capture(operatorID, ref)
	if !ok {
		return Reply{}, false
	}
	c.log.Debug("broadcast content captured",
		logx.Int64("operator", operatorID), logx.Int64("chat", ref.SourceChat), logx.Int("message", ref.SourceMessage), logx.Uint64("seq", s.Seq))
	return Reply{
		Text: textConfirm,
		Buttons: [][]kit.Button{{
			{Text: "✅ Yes", Data: promptData(CallbackConfirm, s.Seq)},
			{Text: "❌ No", Data: promptData(CallbackCancel, s.Seq)},
		}},
	}, true
}

// AttachPrompt remembers where the confirm prompt was sent.
func (c *Coordinator) AttachPrompt(operatorID int64, ref kit.MessageRef) {
	if s, ok := c.reg.Get(operatorID); ok && s.Stage == AwaitingConfirm {
		c.reg.AttachPrompt(operatorID, s.Seq, ref)
	}
}

// Confirm starts the run of session seq in the background and returns the
// channel closed when it finishes. Progress is reported to chat.
// A prompt from a replaced session fails with ErrStalePrompt and an
// explanatory reply.
func (c *Coordinator) Confirm(ctx context.Context, op Operator, seq uint64) (Reply, <-chan struct{}, error) {
	s, err := c.reg.Start(op.ID, seq)
	if err != nil {
		if errors.Is(err, ErrStalePrompt) {
			c.log.Info("stale broadcast prompt confirmed", logx.Int64("operator", op.ID), logx.Uint64("seq", seq))
			return Reply{Text: TextExpired}, nil, err
		}
		return Reply{}, nil, err
	}
	c.sup.Go("broadcast.run", func(runCtx context.Context) error {
		c.run(runCtx, op, s)
		return nil
	})
	return Reply{Text: textStarting}, s.done, nil
}

// Cancel drops session seq if it has not started; seq 0 means the current
// session. Runs can't be canceled.
func (c *Coordinator) Cancel(ctx context.Context, operatorID int64, seq uint64) (Reply, error) {
	s, err := c.reg.Cancel(operatorID, seq)
	switch {
	case errors.Is(err, ErrStalePrompt):
		return Reply{Text: TextExpired}, err
	case errors.Is(err, ErrAlreadyBroadcasting):
		return Reply{Text: textCannotCancel}, err
	case err != nil:
		return Reply{}, err
	}
	c.log.Info("broadcast session cancelled", logx.Int64("operator", operatorID), logx.String("stage", s.Stage.String()))
	r := Reply{Text: textCancelled}
	if s.PromptRef.MessageID != 0 {
		ref := s.PromptRef
		r.Edit = &ref
	}
	return r, nil
}

// Active lists current sessions.
func (c *Coordinator) Active() []SessionInfo { return c.reg.Snapshot() }

// Done returns a channel closed when op's running broadcast finishes, or
// nil if none is running.
func (c *Coordinator) Done(operatorID int64) <-chan struct{} { return c.reg.Done(operatorID) }

// run executes one broadcast. ctx belongs to the supervisor, so only
// shutdown interrupts it.
func (c *Coordinator) run(ctx context.Context, op Operator, s Session) {
	defer c.reg.Finish(op.ID, s.Seq)

	o := c.opts()
	log := c.log.With(logx.Int64("operator", op.ID), logx.Uint64("seq", s.Seq))

	src := NewSource(c.store, o.Prefetch, log)
	d := NewDispatcher(c.gw, src, DispatcherOptions{MaxInFlight: o.MaxInFlight, RatePerSec: o.RatePerSec}, log)
	d.now = c.now
	rep := NewReporter(c.gw, op.Chat, o.ReportEvery, log)
	rep.now = c.now

	c.bus.Publish(eventbus.Event{Type: eventbus.BroadcastStarted, Data: StartedEvent{OperatorID: op.ID, Total: s.Total}})

	rep.Begin(ctx)
	res := d.Run(ctx, s.Content, s.Total, rep)
	rep.Finish(ctx, res)

	c.audit(ctx, op, res)
	c.bus.Publish(eventbus.Event{Type: eventbus.BroadcastFinished, Data: FinishedEvent{OperatorID: op.ID, Result: res}})
}

func (c *Coordinator) audit(ctx context.Context, op Operator, res Result) {
	m := map[string]any{"run_id": res.RunID, "total": res.Total}
	if res.Unattempted > 0 {
		m["unattempted"] = res.Unattempted
	}
	meta, _ := json.Marshal(m)
	e := storage.AuditEntry{
		At:            c.now(),
		ActorID:       op.ID,
		ActorUsername: op.Username,
		Action:        "broadcast",
		OK:            int(res.Tally.Succeeded),
		Fail:          int(res.Tally.Failed),
		TookMS:        res.Elapsed.Milliseconds(),
		MetaJSON:      string(meta),
	}
	if res.SourceErr != nil {
		e.Error = res.SourceErr.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.store.AppendAudit(actx, e); err != nil && !errors.Is(err, storage.ErrDisabled) {
		c.log.Debug("audit append failed", logx.Err(err))
	}
}

// StartedEvent is the payload of eventbus.BroadcastStarted.
type StartedEvent struct {
	OperatorID int64
	Total      int
}

// FinishedEvent is the payload of eventbus.BroadcastFinished.
type FinishedEvent struct {
	OperatorID int64
	Result     Result
}
