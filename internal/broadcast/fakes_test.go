package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"castbot/internal/storage"
	kit "castbot/internal/transport"
)

var errDeliver = errors.New("forbidden: bot was blocked by the user")

// fakeGateway records every call and tracks delivery concurrency.
type fakeGateway struct {
	mu      sync.Mutex
	fail    map[int64]bool
	panicOn map[int64]bool
	failAll bool
	delay   time.Duration
	// gate, when non-nil, blocks every delivery until it is closed.
	gate chan struct{}

	sendErr error
	editErr error

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	copies      atomic.Int64
	delivered   []int64
	sent        []string
	edits       []string
	nextMsgID   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{fail: map[int64]bool{}, panicOn: map[int64]bool{}, nextMsgID: 1000}
}

func (g *fakeGateway) CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) (kit.MessageRef, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxInFlight.Load()
		if n <= m || g.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	g.copies.Add(1)

	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	failing := g.failAll || g.fail[to.ChatID]
	panicking := g.panicOn[to.ChatID]
	if !failing && !panicking {
		g.delivered = append(g.delivered, to.ChatID)
	}
	g.mu.Unlock()

	if panicking {
		panic("gateway exploded")
	}
	if failing {
		return kit.MessageRef{}, errDeliver
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: from.MessageID}, nil
}

func (g *fakeGateway) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return kit.MessageRef{}, g.sendErr
	}
	g.sent = append(g.sent, text)
	g.nextMsgID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: g.nextMsgID}, nil
}

func (g *fakeGateway) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edits = append(g.edits, text)
	return g.editErr
}

func (g *fakeGateway) Edits() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.edits...)
}

func (g *fakeGateway) Sent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

// countingSink records every observed snapshot.
type countingSink struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (s *countingSink) Observe(snap Snapshot) {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
}

func (s *countingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func seededStore(n int) *storage.Memory {
	m := storage.NewMemory()
	ids := make([]storage.RecipientID, 0, n)
	for i := 1; i <= n; i++ {
		ids = append(ids, storage.RecipientID(i))
	}
	m.Seed(ids...)
	return m
}
