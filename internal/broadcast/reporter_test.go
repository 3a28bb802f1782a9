package broadcast

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

func TestFormatProgress(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "✔:0 ✖:0 0.00 msg/s", FormatProgress(Snapshot{}, 0))
	assert.Equal(t, "✔:38 ✖:2 20.00 msg/s", FormatProgress(Snapshot{Succeeded: 38, Failed: 2, Processed: 40}, 2*time.Second))
}

func TestFormatDone(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "🎉 Done! ✔:54 ✖:3 in 1.50s", FormatDone(Snapshot{Succeeded: 54, Failed: 3, Processed: 57}, 1500*time.Millisecond))
	assert.Equal(t, "🎉 Done! ✔:0 ✖:0 in 0.00s", FormatDone(Snapshot{}, -time.Second))
}

func TestReporterThrottlesEdits(t *testing.T) {
	t.Parallel()
	tests := []struct {
		total int
		every int
	}{
		{total: 0, every: 20},
		{total: 19, every: 20},
		{total: 20, every: 20},
		{total: 95, every: 20},
		{total: 400, every: 20},
		{total: 57, every: 5},
	}
	for _, tt := range tests {
		gw := newFakeGateway()
		chat := kit.ChatTarget{ChatID: 1}
		rep := NewReporter(gw, chat, tt.every, logx.Nop())
		d := NewDispatcher(gw, NewSource(seededStore(tt.total), 0, logx.Nop()), DispatcherOptions{MaxInFlight: 20}, logx.Nop())

		rep.Begin(context.Background())
		res := d.Run(context.Background(), content, tt.total, rep)
		rep.Finish(context.Background(), res)

		maxEdits := (tt.total+tt.every-1)/tt.every + 1
		edits := gw.Edits()
		require.NotEmpty(t, edits, "total=%d", tt.total)
		assert.LessOrEqual(t, len(edits), maxEdits, "total=%d every=%d", tt.total, tt.every)
		assert.Equal(t, int64(len(edits)), rep.Edits())
		assert.True(t, strings.HasPrefix(edits[len(edits)-1], "🎉 Done!"), "final edit is the summary")
		for _, e := range edits[:len(edits)-1] {
			assert.Contains(t, e, "msg/s")
		}
		assert.Equal(t, []string{"✔:0 ✖:0 0.00 msg/s"}, gw.Sent())
	}
}

func TestReporterObserveNeverBlocks(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	rep := NewReporter(gw, kit.ChatTarget{ChatID: 1}, 1, logx.Nop())
	// no Begin: nothing drains the mailbox
	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 1000; i++ {
			rep.Observe(Snapshot{Succeeded: i, Processed: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Observe blocked")
	}
	rep.Finish(context.Background(), Result{})
	assert.Empty(t, gw.Edits())
}

func TestReporterSwallowsSendFailure(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	gw.sendErr = errors.New("chat not found")
	rep := NewReporter(gw, kit.ChatTarget{ChatID: 1}, 1, logx.Nop())

	rep.Begin(context.Background())
	rep.Observe(Snapshot{Succeeded: 1, Processed: 1})
	rep.Finish(context.Background(), Result{Tally: Snapshot{Succeeded: 1, Processed: 1}})

	assert.Empty(t, gw.Edits())
	assert.Equal(t, int64(0), rep.Edits())
}

func TestReporterSwallowsEditFailure(t *testing.T) {
	t.Parallel()
	gw := newFakeGateway()
	gw.editErr = errors.New("message to edit not found")
	rep := NewReporter(gw, kit.ChatTarget{ChatID: 1}, 1, logx.Nop())

	rep.Begin(context.Background())
	rep.Finish(context.Background(), Result{Tally: Snapshot{Succeeded: 2, Processed: 2}, Elapsed: time.Second})

	edits := gw.Edits()
	require.Len(t, edits, 1)
	assert.Equal(t, "🎉 Done! ✔:2 ✖:0 in 1.00s", edits[0])
}
