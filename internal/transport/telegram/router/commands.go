package router

import (
	"context"
	"hash/fnv"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"castbot/internal/config"
	"castbot/internal/runtime/supervisor"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
	"castbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) error

// CallbackRoute handles inline button presses with data "scope:action[:payload]".
// Callbacks are owner-only unless Public is set.
type CallbackRoute struct {
	Scope   string
	Action  string
	Public  bool
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

// Observer sees every incoming message before routing.
type Observer func(ctx context.Context, msg *kit.Message)

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	Message  *kit.Message
	Callback *kit.Callback
	Command  string // route name or "cb:scope:action"
	Args     []string
	Payload  string
	ReqID    string
	Owner    bool

	Adapter kit.Adapter
	Config  *config.Config
	Logger  logx.Logger
}

// Reply sends text to the request chat as HTML.
func (r *Request) Reply(ctx context.Context, text string) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

type Options struct {
	// Workers is the number of ordered queues; 0 means NumCPU (min 2).
	Workers   int
	QueueSize int
	// Config returns the live config; may be nil in tests.
	Config      func() *config.Config
	Supervisors *supervisor.Registry
}

// CommandManager routes updates to commands, callbacks and the fallback
// message handler. Updates from the same user are handled in order.
type CommandManager struct {
	mu       sync.RWMutex
	cmds     []Command
	byName   map[string]Command
	owners   []int64
	observe  Observer
	fallback HandlerFunc

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute

	log     logx.Logger
	adapter kit.Adapter
	opts    Options

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
	queues  []chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64, opts Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = max(runtime.NumCPU(), 2)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	queues := make([]chan func(), opts.Workers)
	for i := range queues {
		queues[i] = make(chan func(), opts.QueueSize)
	}
	return &CommandManager{
		byName:    map[string]Command{},
		callbacks: map[string]map[string]CallbackRoute{},
		owners:    append([]int64(nil), owners...),
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		opts:      opts,
		queues:    queues,
	}
}

// Supervisor returns the worker supervisor (nil if not running).
func (m *CommandManager) Supervisor() *supervisor.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *supervisor.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetObserver installs the hook run for every message before routing.
func (m *CommandManager) SetObserver(fn Observer) {
	m.mu.Lock()
	m.observe = fn
	m.mu.Unlock()
}

// SetFallback installs the handler for owner messages that are not commands.
func (m *CommandManager) SetFallback(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// SetRegistry installs commands and callback routes and refreshes the
// Telegram command menu in the background. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "list commands",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, m.helpText(req.Owner))
			return err
		},
	})

	byName := map[string]Command{}
	kept := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		kept = append(kept, c)
		byName[name] = c
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if _, exists := byName[a]; !exists {
				byName[a] = c
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, r := range cbs {
		s, a := strings.TrimSpace(r.Scope), strings.TrimSpace(r.Action)
		if s == "" || a == "" || r.Handle == nil {
			continue
		}
		if cb[s] == nil {
			cb[s] = map[string]CallbackRoute{}
		}
		cb[s][a] = r
	}

	m.mu.Lock()
	m.cmds = kept
	m.byName = byName
	m.mu.Unlock()

	m.cbMu.Lock()
	m.callbacks = cb
	m.cbMu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(kept)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// queueFor pins a user to one queue so their updates run in order.
func (m *CommandManager) queueFor(userID int64) chan func() {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	return m.queues[h.Sum32()%uint32(len(m.queues))]
}

// tryEnqueue is a panic-safe enqueue (queues are closed on shutdown).
func (m *CommandManager) tryEnqueue(userID int64, fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.queueFor(userID) <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(m.log), supervisor.WithCancelOnError(false))
	m.setSupervisor(sup, true)
	m.opts.Supervisors.Set("telegram.router", sup)
	m.log.Info("command dispatcher started", logx.Int("workers", len(m.queues)), logx.Int("queue_cap", m.opts.QueueSize))

	for i, q := range m.queues {
		idx, q := i, q
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-q:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.setSupervisor(sup, false)
		for _, q := range m.queues {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.opts.Supervisors.Set("telegram.router", nil)
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateCallback:
		m.routeCallback(root, up)
	}
}

func (m *CommandManager) liveConfig() *config.Config {
	if m.opts.Config == nil {
		return nil
	}
	return m.opts.Config()
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Owner:   m.isOwner(from),
		Adapter: m.adapter,
		Config:  m.liveConfig(),
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

func (m *CommandManager) chain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	return guard(h, timeout, m.log)
}

// routeMessage resolves a message to a handler on the dispatch goroutine
// and runs the observer plus the handler on the sender's queue.
func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	observe := m.observe
	fallback := m.fallback
	byName := m.byName
	m.mu.RUnlock()

	var (
		handler HandlerFunc
		req     *Request
		timeout time.Duration
	)
	if name, _, args, ok := parseCommand(msg.Text); ok && msg.IsCommand() {
		req = m.newRequest(up, chat, msg.FromID, name)
		req.Args = args
		cmd, found := byName[name]
		switch {
		case !found:
			if req.Owner {
				handler = func(ctx context.Context, r *Request) error {
					_, err := r.Reply(ctx, "❓ Unknown command. Try /help")
					return err
				}
			}
		case cmd.Access == AccessOwnerOnly && !req.Owner:
			req.Logger.Debug("owner-only command ignored")
		default:
			req.Command = cmd.Name
			handler = cmd.Handle
			timeout = cmd.Timeout
		}
	} else {
		req = m.newRequest(up, chat, msg.FromID, "message")
		if req.Owner {
			handler = fallback
		}
	}
	req.Message = msg

	job := func() {
		if observe != nil {
			observe(root, msg)
		}
		if handler != nil {
			_ = m.chain(handler, timeout)(root, req)
		}
	}
	if !m.tryEnqueue(msg.FromID, job) {
		req.Logger.Warn("command queue full, update dropped")
		if handler != nil && msg.IsCommand() {
			_, _ = m.adapter.SendText(root, chat, "busy, try again", nil)
		}
	}
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}
	m.cbMu.RLock()
	route, found := m.callbacks[scope][action]
	m.cbMu.RUnlock()
	if !found {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}

	req := m.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "cb:"+scope+":"+action)
	req.Callback = cb
	req.Payload = payload
	if !route.Public && !req.Owner {
		_ = m.adapter.AnswerCallback(root, cb.ID, "forbidden")
		return
	}

	h := func(ctx context.Context, r *Request) error { return route.Handle(ctx, r, payload) }
	final := m.chain(h, route.Timeout)
	if !m.tryEnqueue(cb.FromID, func() {
		_ = final(root, req)
		// stops the client's loading spinner
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
	}) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "busy")
	}
}
