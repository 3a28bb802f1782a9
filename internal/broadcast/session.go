package broadcast

import (
	"sort"
	"sync"
	"time"

	kit "castbot/internal/transport"
)

type Stage int

const (
	AwaitingContent Stage = iota + 1
	AwaitingConfirm
	Broadcasting
)

func (s Stage) String() string {
	switch s {
	case AwaitingContent:
		return "awaiting_content"
	case AwaitingConfirm:
		return "awaiting_confirm"
	case Broadcasting:
		return "broadcasting"
	default:
		return "unknown"
	}
}

// Session is one operator's broadcast in progress. Values handed out by the
// Registry are copies; only the Registry mutates the stored session.
type Session struct {
	OperatorID int64
	Stage      Stage
	Total      int
	Content    ContentRef
	PromptRef  kit.MessageRef
	CreatedAt  time.Time
	// Seq identifies this session instance. A later session for the same
	// operator gets a larger Seq.
	Seq uint64

	done chan struct{}
}

// Registry holds at most one Session per operator. Every transition is a
// compare-and-set on the current stage.
type Registry struct {
	mu  sync.Mutex
	m   map[int64]*Session
	seq uint64
}

func NewRegistry() *Registry {
	return &Registry{m: map[int64]*Session{}}
}

func (r *Registry) Get(op int64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[op]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (r *Registry) IsBroadcasting(op int64) bool {
	s, ok := r.Get(op)
	return ok && s.Stage == Broadcasting
}

// Begin creates an AwaitingContent session, replacing any session that is
// not Broadcasting. It fails if a run is in progress.
func (r *Registry) Begin(op int64, total int, now time.Time) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.m[op]; ok && cur.Stage == Broadcasting {
		return Session{}, ErrAlreadyBroadcasting
	}
	r.seq++
	s := &Session{OperatorID: op, Stage: AwaitingContent, Total: total, CreatedAt: now, Seq: r.seq}
	r.m[op] = s
	return *s, nil
}

// Capture stores the content and moves AwaitingContent -> AwaitingConfirm.
func (r *Registry) Capture(op int64, content ContentRef) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[op]
	if !ok || s.Stage != AwaitingContent {
		return Session{}, false
	}
	s.Content = content
	s.Stage = AwaitingConfirm
	return *s, true
}

// AttachPrompt records the confirm prompt message of session seq.
func (r *Registry) AttachPrompt(op int64, seq uint64, ref kit.MessageRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[op]; ok && s.Seq == seq {
		s.PromptRef = ref
	}
}

// Start moves session seq from AwaitingConfirm to Broadcasting and arms the
// completion channel that Finish closes. A seq that is no longer current
// fails with ErrStalePrompt.
func (r *Registry) Start(op int64, seq uint64) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[op]
	switch {
	case !ok:
		return Session{}, ErrNoSession
	case s.Seq != seq:
		return Session{}, ErrStalePrompt
	case s.Stage != AwaitingConfirm:
		return Session{}, ErrNoSession
	}
	s.Stage = Broadcasting
	s.done = make(chan struct{})
	return *s, nil
}

// Cancel drops a session that has not started broadcasting. seq 0 matches
// whatever session is current.
func (r *Registry) Cancel(op int64, seq uint64) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[op]
	switch {
	case !ok:
		return Session{}, ErrNoSession
	case seq != 0 && s.Seq != seq:
		return Session{}, ErrStalePrompt
	case s.Stage == Broadcasting:
		return Session{}, ErrAlreadyBroadcasting
	}
	delete(r.m, op)
	return *s, nil
}

// Finish removes session seq (if it is still the current one) and closes
// its completion channel. It is safe to call more than once.
func (r *Registry) Finish(op int64, seq uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[op]
	if !ok || s.Seq != seq {
		return false
	}
	delete(r.m, op)
	if s.done != nil {
		close(s.done)
	}
	return true
}

// Done returns the completion channel of the operator's running broadcast,
// or nil if none is running.
func (r *Registry) Done(op int64) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[op]; ok && s.Stage == Broadcasting {
		return s.done
	}
	return nil
}

// SessionInfo is the health view of a session.
type SessionInfo struct {
	OperatorID int64     `json:"operator_id"`
	Stage      string    `json:"stage"`
	Total      int       `json:"total"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *Registry) Snapshot() []SessionInfo {
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.m))
	for _, s := range r.m {
		out = append(out, SessionInfo{OperatorID: s.OperatorID, Stage: s.Stage.String(), Total: s.Total, CreatedAt: s.CreatedAt})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OperatorID < out[j].OperatorID })
	return out
}
