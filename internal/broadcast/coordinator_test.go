package broadcast

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/eventbus"
	"castbot/internal/runtime/supervisor"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

const ownerID = int64(1001)

var owner = Operator{ID: ownerID, Username: "boss", Chat: kit.ChatTarget{ChatID: ownerID}}

type harness struct {
	gw    *fakeGateway
	store *storage.Memory
	sup   *supervisor.Supervisor
	bus   eventbus.Bus
	c     *Coordinator
}

func newHarness(t *testing.T, recipients int) *harness {
	t.Helper()
	h := &harness{
		gw:    newFakeGateway(),
		store: seededStore(recipients),
		sup:   supervisor.New(context.Background()),
		bus:   eventbus.New(),
	}
	h.c = NewCoordinator(Deps{
		Store:      h.store,
		Gateway:    h.gw,
		Supervisor: h.sup,
		Bus:        h.bus,
		Log:        logx.Nop(),
		Options:    func() Options { return Options{MaxInFlight: 20, ReportEvery: 20} },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.sup.Stop(ctx)
	})
	return h
}

func (h *harness) waitRun(t *testing.T, done <-chan struct{}) {
	t.Helper()
	require.NotNil(t, done, "no run in progress")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast run did not finish")
	}
}

func TestEndToEndBroadcast(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 57)
	for _, id := range []int64{5, 19, 40} {
		h.gw.fail[id] = true
	}
	events, unsub := h.bus.Subscribe(8)
	defer unsub()
	ctx := context.Background()

	reply, err := h.c.Initiate(ctx, owner)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "57 users")

	reply, ok := h.c.SubmitContent(ctx, ownerID, content)
	require.True(t, ok)
	require.Len(t, reply.Buttons, 1)
	s, _ := h.c.reg.Get(ownerID)
	assert.Equal(t, CallbackConfirm+":"+strconv.FormatUint(s.Seq, 10), reply.Buttons[0][0].Data)
	assert.Equal(t, CallbackCancel+":"+strconv.FormatUint(s.Seq, 10), reply.Buttons[0][1].Data)

	reply, done, err := h.c.Confirm(ctx, owner, s.Seq)
	require.NoError(t, err)
	assert.Equal(t, textStarting, reply.Text)
	h.waitRun(t, done)

	edits := h.gw.Edits()
	require.NotEmpty(t, edits)
	final := edits[len(edits)-1]
	m := regexp.MustCompile(`^🎉 Done! ✔:(\d+) ✖:(\d+) in (\d+\.\d{2})s$`).FindStringSubmatch(final)
	require.NotNil(t, m, "final text %q", final)
	assert.Equal(t, "54", m[1])
	assert.Equal(t, "3", m[2])
	elapsed, err := strconv.ParseFloat(m[3], 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 0.0)
	assert.LessOrEqual(t, len(edits), 3+1)
	assert.LessOrEqual(t, h.gw.maxInFlight.Load(), int64(20))

	// session removed once the run completes
	_, exists := h.c.reg.Get(ownerID)
	assert.False(t, exists)
	assert.Empty(t, h.c.Active())

	audit := h.store.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "broadcast", audit[0].Action)
	assert.Equal(t, 54, audit[0].OK)
	assert.Equal(t, 3, audit[0].Fail)

	var finished *FinishedEvent
	for finished == nil {
		select {
		case e := <-events:
			if fe, ok := e.Data.(FinishedEvent); ok {
				finished = &fe
			}
		case <-time.After(time.Second):
			t.Fatal("no finished event")
		}
	}
	assert.Equal(t, Snapshot{Succeeded: 54, Failed: 3, Processed: 57}, finished.Result.Tally)
}

func TestConfirmAndCancelWithoutSessionAreNoops(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3)
	ctx := context.Background()

	_, done, err := h.c.Confirm(ctx, owner, 1)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Nil(t, done)
	_, err = h.c.Cancel(ctx, ownerID, 0)
	assert.ErrorIs(t, err, ErrNoSession)
	_, ok := h.c.SubmitContent(ctx, ownerID, content)
	assert.False(t, ok)
	assert.Equal(t, int64(0), h.gw.copies.Load())
}

func TestConfirmRequiresContent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3)
	ctx := context.Background()

	_, err := h.c.Initiate(ctx, owner)
	require.NoError(t, err)
	s, _ := h.c.reg.Get(ownerID)
	_, _, err = h.c.Confirm(ctx, owner, s.Seq)
	assert.ErrorIs(t, err, ErrNoSession, "confirm before content")

	s, exists := h.c.reg.Get(ownerID)
	require.True(t, exists)
	assert.Equal(t, AwaitingContent, s.Stage)
}

func TestContentFromOtherOperatorIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3)
	ctx := context.Background()
	_, err := h.c.Initiate(ctx, owner)
	require.NoError(t, err)

	_, ok := h.c.SubmitContent(ctx, 4242, content)
	assert.False(t, ok)
	s, _ := h.c.reg.Get(ownerID)
	assert.Equal(t, AwaitingContent, s.Stage)
}

func TestCancelBeforeConfirm(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3)
	ctx := context.Background()
	_, err := h.c.Initiate(ctx, owner)
	require.NoError(t, err)
	_, ok := h.c.SubmitContent(ctx, ownerID, content)
	require.True(t, ok)
	h.c.AttachPrompt(ownerID, kit.MessageRef{ChatID: ownerID, MessageID: 55})

	s, _ := h.c.reg.Get(ownerID)
	reply, err := h.c.Cancel(ctx, ownerID, s.Seq)
	require.NoError(t, err)
	assert.Equal(t, textCancelled, reply.Text)
	require.NotNil(t, reply.Edit)
	assert.Equal(t, 55, reply.Edit.MessageID)

	_, _, err = h.c.Confirm(ctx, owner, s.Seq)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, int64(0), h.gw.copies.Load())
}

func TestInitiateOverwritesPendingSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3)
	ctx := context.Background()
	_, err := h.c.Initiate(ctx, owner)
	require.NoError(t, err)
	_, ok := h.c.SubmitContent(ctx, ownerID, content)
	require.True(t, ok)

	h.store.Seed(4, 5)
	reply, err := h.c.Initiate(ctx, owner)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "5 users")
	s, _ := h.c.reg.Get(ownerID)
	assert.Equal(t, AwaitingContent, s.Stage)
	assert.True(t, s.Content.IsZero())
}

func TestSecondInitiateWhileBroadcastingSpawnsNoRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 5)
	h.gw.gate = make(chan struct{})
	ctx := context.Background()

	_, err := h.c.Initiate(ctx, owner)
	require.NoError(t, err)
	_, ok := h.c.SubmitContent(ctx, ownerID, content)
	require.True(t, ok)
	s, _ := h.c.reg.Get(ownerID)
	_, done, err := h.c.Confirm(ctx, owner, s.Seq)
	require.NoError(t, err)
	assert.Equal(t, done, h.c.Done(ownerID))

	reply, err := h.c.Initiate(ctx, owner)
	assert.ErrorIs(t, err, ErrAlreadyBroadcasting)
	assert.Equal(t, textAlreadyRunning, reply.Text)
	reply, err = h.c.Cancel(ctx, ownerID, 0)
	assert.ErrorIs(t, err, ErrAlreadyBroadcasting, "running broadcasts can't be cancelled")
	assert.Equal(t, textCannotCancel, reply.Text)
	_, _, err = h.c.Confirm(ctx, owner, s.Seq)
	assert.ErrorIs(t, err, ErrNoSession)

	close(h.gw.gate)
	h.waitRun(t, done)
	assert.Equal(t, int64(5), h.gw.copies.Load(), "exactly one run")
	assert.Equal(t, uint64(1), h.sup.Counters().Started)
}

func TestInitiateStoreUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3)
	h.store.CountErr = errors.New("connection refused")

	reply, err := h.c.Initiate(context.Background(), owner)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, textStoreUnavailable, reply.Text)
	assert.Empty(t, h.c.Active())
}

func TestRegistryFinishIgnoresStaleSeq(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	old, err := r.Begin(1, 10, time.Now())
	require.NoError(t, err)
	_, err = r.Cancel(1, old.Seq)
	require.NoError(t, err)
	newer, err := r.Begin(1, 20, time.Now())
	require.NoError(t, err)

	assert.False(t, r.Finish(1, old.Seq))
	s, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, newer.Seq, s.Seq)
	assert.True(t, r.Finish(1, newer.Seq))
	assert.False(t, r.Finish(1, newer.Seq))
}

func TestStalePromptCannotStartNewerSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3)
	ctx := context.Background()

	_, err := h.c.Initiate(ctx, owner)
	require.NoError(t, err)
	_, ok := h.c.SubmitContent(ctx, ownerID, content)
	require.True(t, ok)
	first, _ := h.c.reg.Get(ownerID)

	_, err = h.c.Initiate(ctx, owner)
	require.NoError(t, err)
	newer := ContentRef{SourceChat: ownerID, SourceMessage: 901}
	_, ok = h.c.SubmitContent(ctx, ownerID, newer)
	require.True(t, ok)

	reply, done, err := h.c.Confirm(ctx, owner, first.Seq)
	assert.ErrorIs(t, err, ErrStalePrompt)
	assert.Nil(t, done)
	assert.Equal(t, TextExpired, reply.Text)
	reply, err = h.c.Cancel(ctx, ownerID, first.Seq)
	assert.ErrorIs(t, err, ErrStalePrompt)
	assert.Equal(t, TextExpired, reply.Text)

	s, exists := h.c.reg.Get(ownerID)
	require.True(t, exists)
	assert.Equal(t, AwaitingConfirm, s.Stage)
	assert.Equal(t, newer, s.Content)
	assert.Equal(t, int64(0), h.gw.copies.Load())
	assert.Zero(t, h.sup.Counters().Started)
}

func TestPromptSeq(t *testing.T) {
	t.Parallel()
	tests := []struct {
		payload string
		want    uint64
		ok      bool
	}{
		{payload: "7", want: 7, ok: true},
		{payload: "", ok: false},
		{payload: "0", ok: false},
		{payload: "-3", ok: false},
		{payload: "x1", ok: false},
	}
	for _, tt := range tests {
		got, ok := PromptSeq(tt.payload)
		assert.Equal(t, tt.ok, ok, tt.payload)
		assert.Equal(t, tt.want, got, tt.payload)
	}
}
