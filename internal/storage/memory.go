package storage

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Memory is a process-local Store. Cursors iterate a snapshot of the ids
// taken when they are opened.
type Memory struct {
	mu         sync.RWMutex
	recipients map[RecipientID]Recipient
	audit      []AuditEntry
	closed     bool

	// CountErr, when set, is returned by Count.
	CountErr error
	// CursorErr, when set, is returned by the cursor after CursorErrAfter ids.
	CursorErr      error
	CursorErrAfter int
}

func NewMemory() *Memory {
	return &Memory{recipients: map[RecipientID]Recipient{}}
}

// Seed adds ids that joined now. It is a test helper.
func (m *Memory) Seed(ids ...RecipientID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, id := range ids {
		if _, ok := m.recipients[id]; !ok {
			m.recipients[id] = Recipient{ID: id, JoinedAt: now}
		}
	}
}

func (m *Memory) Driver() string { return "memory" }

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Count(ctx context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	if f.JoinedSince.IsZero() {
		return len(m.recipients), nil
	}
	n := 0
	for _, r := range m.recipients {
		if !r.JoinedAt.Before(f.JoinedSince) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) OpenCursor(ctx context.Context) (Cursor, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	ids := make([]RecipientID, 0, len(m.recipients))
	for id := range m.recipients {
		ids = append(ids, id)
	}
	failErr, failAfter := m.CursorErr, m.CursorErrAfter
	m.mu.RUnlock()
	slices.Sort(ids)

	return newPagedCursor(ctx, defaultPageSize, func(ctx context.Context, token string, limit int) ([]RecipientID, string, bool, error) {
		from := 0
		if token != "" {
			from, _ = strconv.Atoi(token)
		}
		if failErr != nil && (from >= failAfter || from >= len(ids)) {
			return nil, "", true, failErr
		}
		to := min(from+limit, len(ids))
		if failErr != nil && to > failAfter {
			to = failAfter
		}
		page := ids[from:to]
		if to >= len(ids) && failErr == nil {
			return page, "", true, nil
		}
		return page, strconv.Itoa(to), false, nil
	}), nil
}

func (m *Memory) UpsertIfAbsent(ctx context.Context, r Recipient) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.recipients[r.ID]; ok {
		return false, nil
	}
	if r.JoinedAt.IsZero() {
		r.JoinedAt = time.Now()
	}
	m.recipients[r.ID] = r
	return true, nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.audit)
}
