package broadcast

import (
	"context"
	"fmt"

	"castbot/internal/storage"
	logx "castbot/pkg/logx"
)

// RecipientSource yields recipient ids for one run.
type RecipientSource interface {
	// Stream opens a fresh pass over the recipients. The channel is closed
	// when the pass ends; the returned func reports why (nil on exhaustion)
	// and must only be called after the channel is closed.
	Stream(ctx context.Context) (<-chan storage.RecipientID, func() error)
}

// Source streams ids from a storage cursor through a small prefetch buffer.
type Source struct {
	store    storage.Store
	prefetch int
	log      logx.Logger
}

func NewSource(store storage.Store, prefetch int, log logx.Logger) *Source {
	if prefetch <= 0 {
		prefetch = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{store: store, prefetch: prefetch, log: log}
}

func (s *Source) Stream(ctx context.Context) (<-chan storage.RecipientID, func() error) {
	out := make(chan storage.RecipientID, s.prefetch)
	var err error
	go func() {
		defer close(out)
		cur, oerr := s.store.OpenCursor(ctx)
		if oerr != nil {
			err = fmt.Errorf("%w: %v", ErrStoreUnavailable, oerr)
			return
		}
		defer cur.Close()

		n := 0
		for cur.Next() {
			select {
			case out <- cur.ID():
				n++
			case <-ctx.Done():
				err = ctx.Err()
				return
			}
		}
		if cerr := cur.Err(); cerr != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
				return
			}
			err = fmt.Errorf("%w: %v", ErrStoreUnavailable, cerr)
			s.log.Warn("recipient cursor ended early", logx.Int("read", n), logx.Err(cerr))
			return
		}
		s.log.Debug("recipient cursor exhausted", logx.Int("read", n))
	}()
	return out, func() error { return err }
}
