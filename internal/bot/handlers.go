// Package bot wires the castbot commands onto the Telegram router.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/config"
	"castbot/internal/recipients"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	"castbot/internal/transport/telegram/router"
	logx "castbot/pkg/logx"
	"castbot/pkg/tgui"
)

// Broadcaster is the session surface the handlers drive.
type Broadcaster interface {
	Initiate(ctx context.Context, op broadcast.Operator) (broadcast.Reply, error)
	SubmitContent(ctx context.Context, operatorID int64, ref broadcast.ContentRef) (broadcast.Reply, bool)
	AttachPrompt(operatorID int64, ref kit.MessageRef)
	Confirm(ctx context.Context, op broadcast.Operator, seq uint64) (broadcast.Reply, <-chan struct{}, error)
	Cancel(ctx context.Context, operatorID int64, seq uint64) (broadcast.Reply, error)
}

type Deps struct {
	Broadcaster Broadcaster
	Store       storage.Store
	Log         logx.Logger
	Now         func() time.Time
}

type Handlers struct {
	bc    Broadcaster
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func New(d Deps) *Handlers {
	h := &Handlers{bc: d.Broadcaster, store: d.Store, log: d.Log, now: d.Now}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Install registers commands, callbacks and the content handler on m.
func (h *Handlers) Install(m *router.CommandManager) {
	m.SetRegistry(h.Commands(), h.Callbacks())
	m.SetFallback(h.content)
}

func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "welcome message", Handle: h.start},
		{Name: "stats", Description: "user statistics", Access: router.AccessOwnerOnly, Timeout: 15 * time.Second, Handle: h.stats},
		{Name: "ads", Aliases: []string{"broadcast"}, Description: "broadcast a message to every user", Access: router.AccessOwnerOnly, Timeout: 15 * time.Second, Handle: h.initiate},
		{Name: "cancel", Description: "cancel a pending broadcast", Access: router.AccessOwnerOnly, Handle: h.cancel},
	}
}

func (h *Handlers) Callbacks() []router.CallbackRoute {
	scope, confirm, _, _ := tgui.ParseData(broadcast.CallbackConfirm)
	_, cancel, _, _ := tgui.ParseData(broadcast.CallbackCancel)
	return []router.CallbackRoute{
		{Scope: scope, Action: confirm, Handle: h.confirmCallback},
		{Scope: scope, Action: cancel, Handle: h.cancelCallback},
	}
}

func operator(req *router.Request) broadcast.Operator {
	op := broadcast.Operator{ID: req.FromID, Chat: req.Chat}
	if req.Message != nil {
		op.Username = req.Message.FromUsername
	}
	return op
}

func (h *Handlers) start(ctx context.Context, req *router.Request) error {
	name := "there"
	if req.Message != nil {
		if n := firstNonEmpty(req.Message.FromFirstName, req.Message.FromUsername); n != "" {
			name = tgui.TruncRunes(n, 64)
		}
	}
	tpl := config.DefaultWelcomeText
	link := ""
	if req.Config != nil {
		if req.Config.Bot.WelcomeText != "" {
			tpl = req.Config.Bot.WelcomeText
		}
		link = req.Config.Bot.ChannelLink
	}
	text := strings.ReplaceAll(tgui.Esc(tpl).String(), "{name}", tgui.B(name).String())

	b := tgui.New().HTML(tgui.Raw(text))
	if link != "" {
		b.Inline(tgui.NewInline().Row(tgui.URLBtn("📢 Join the channel", link)))
	}
	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (h *Handlers) stats(ctx context.Context, req *router.Request) error {
	st, err := recipients.Collect(ctx, h.store, h.now())
	if err != nil {
		req.Logger.Warn("stats failed", logx.Err(err))
		_, rerr := req.Reply(ctx, "⚠️ Could not read the statistics. Try again later.")
		return errors.Join(err, rerr)
	}
	_, err = st.Message().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (h *Handlers) initiate(ctx context.Context, req *router.Request) error {
	reply, err := h.bc.Initiate(ctx, operator(req))
	if reply.Text != "" {
		if _, serr := h.send(ctx, req, reply); serr != nil {
			return serr
		}
	}
	if errors.Is(err, broadcast.ErrAlreadyBroadcasting) {
		return nil
	}
	return err
}

func (h *Handlers) cancel(ctx context.Context, req *router.Request) error {
	reply, err := h.bc.Cancel(ctx, req.FromID, 0)
	if err != nil && reply.Text == "" {
		_, rerr := req.Reply(ctx, "Nothing to cancel.")
		return rerr
	}
	_, serr := h.send(ctx, req, reply)
	return serr
}

// content captures any owner message sent while a session waits for it.
// Outside a session it is ignored.
func (h *Handlers) content(ctx context.Context, req *router.Request) error {
	ref := broadcast.ContentFromMessage(req.Message)
	reply, ok := h.bc.SubmitContent(ctx, req.FromID, ref)
	if !ok {
		return nil
	}
	sent, err := h.send(ctx, req, reply)
	if err != nil {
		return err
	}
	h.bc.AttachPrompt(req.FromID, sent)
	return nil
}

// confirmCallback and cancelCallback act only on the session whose Seq the
// pressed button carries. Buttons without one are treated as stale.
func (h *Handlers) confirmCallback(ctx context.Context, req *router.Request, payload string) error {
	seq, ok := broadcast.PromptSeq(payload)
	if !ok {
		return h.expired(ctx, req)
	}
	reply, _, err := h.bc.Confirm(ctx, operator(req), seq)
	if reply.Text == "" {
		return nil
	}
	if err != nil {
		req.Logger.Debug("confirm rejected", logx.Uint64("seq", seq), logx.Err(err))
	}
	return h.editPrompt(ctx, req, reply)
}

func (h *Handlers) cancelCallback(ctx context.Context, req *router.Request, payload string) error {
	seq, ok := broadcast.PromptSeq(payload)
	if !ok {
		return h.expired(ctx, req)
	}
	reply, err := h.bc.Cancel(ctx, req.FromID, seq)
	if reply.Text == "" {
		return nil
	}
	if err != nil {
		req.Logger.Debug("cancel rejected", logx.Uint64("seq", seq), logx.Err(err))
	}
	return h.editPrompt(ctx, req, reply)
}

func (h *Handlers) expired(ctx context.Context, req *router.Request) error {
	return h.editPrompt(ctx, req, broadcast.Reply{Text: broadcast.TextExpired})
}

// editPrompt replaces the pressed prompt, dropping its buttons.
func (h *Handlers) editPrompt(ctx context.Context, req *router.Request, reply broadcast.Reply) error {
	if req.Callback == nil || req.Callback.MessageID == 0 {
		_, err := h.send(ctx, req, reply)
		return err
	}
	ref := kit.MessageRef{ChatID: req.Callback.ChatID, ThreadID: req.Callback.ThreadID, MessageID: req.Callback.MessageID}
	return req.Adapter.EditText(ctx, ref, reply.Text, &kit.SendOptions{Buttons: reply.Buttons})
}

// send delivers a coordinator reply, editing in place when it asks to.
func (h *Handlers) send(ctx context.Context, req *router.Request, reply broadcast.Reply) (kit.MessageRef, error) {
	opt := &kit.SendOptions{Buttons: reply.Buttons}
	if reply.Edit != nil {
		if err := req.Adapter.EditText(ctx, *reply.Edit, reply.Text, opt); err == nil {
			return *reply.Edit, nil
		}
	}
	return req.Adapter.SendText(ctx, req.Chat, reply.Text, opt)
}
