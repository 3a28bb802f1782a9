package broadcast

import "sync/atomic"

// Tally counts delivery outcomes for one run. Counters only grow.
type Tally struct {
	succeeded atomic.Int64
	failed    atomic.Int64
	processed atomic.Int64
}

// Snapshot is a point-in-time copy of a Tally. While a run is in flight
// the fields are read independently; after the run settles
// Succeeded+Failed == Processed.
type Snapshot struct {
	Succeeded int64
	Failed    int64
	Processed int64
}

// Record counts one finished delivery and returns the snapshot it produced.
func (t *Tally) Record(ok bool) Snapshot {
	if ok {
		t.succeeded.Add(1)
	} else {
		t.failed.Add(1)
	}
	p := t.processed.Add(1)
	return Snapshot{Succeeded: t.succeeded.Load(), Failed: t.failed.Load(), Processed: p}
}

func (t *Tally) Snapshot() Snapshot {
	return Snapshot{
		Succeeded: t.succeeded.Load(),
		Failed:    t.failed.Load(),
		Processed: t.processed.Load(),
	}
}
