package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	logx "castbot/pkg/logx"
)

var (
	recipientPrefix = []byte("rcp:")
	auditPrefix     = []byte("aud:")
)

// badgerStore keeps one key per recipient ("rcp:" + big-endian id) holding
// the JSON record, and one key per audit entry ("aud:" + time + uuid).
type badgerStore struct {
	db       *badger.DB
	log      logx.Logger
	pageSize int
	closed   atomic.Bool
}

// InMemoryPath opens badger without touching disk.
const InMemoryPath = ":memory:"

func openBadger(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for badger driver")
	}
	opts := badger.DefaultOptions(path)
	if path == InMemoryPath {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{log: log}).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	log.Info("badger store opened", logx.String("path", path))
	return &badgerStore{db: db, log: log, pageSize: cfg.PageSize}, nil
}

func (s *badgerStore) Driver() string { return "badger" }

func (s *badgerStore) Close() error {
	if s == nil || s.db == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *badgerStore) usable() error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func recipientKey(id RecipientID) []byte {
	k := make([]byte, len(recipientPrefix)+8)
	copy(k, recipientPrefix)
	binary.BigEndian.PutUint64(k[len(recipientPrefix):], uint64(id))
	return k
}

func recipientIDFromKey(k []byte) RecipientID {
	return RecipientID(binary.BigEndian.Uint64(k[len(recipientPrefix):]))
}

func (s *badgerStore) Count(ctx context.Context, f Filter) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recipientPrefix
		opts.PrefetchValues = !f.JoinedSince.IsZero()
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if f.JoinedSince.IsZero() {
				n++
				continue
			}
			var r Recipient
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &r) }); err != nil {
				return err
			}
			if !r.JoinedAt.Before(f.JoinedSince) {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger count: %w", err)
	}
	return n, nil
}

func (s *badgerStore) OpenCursor(ctx context.Context) (Cursor, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	return newPagedCursor(ctx, s.pageSize, func(ctx context.Context, token string, limit int) ([]RecipientID, string, bool, error) {
		if err := s.usable(); err != nil {
			return nil, "", true, err
		}
		ids := make([]RecipientID, 0, limit)
		var last []byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = recipientPrefix
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			start := recipientPrefix
			if token != "" {
				start = []byte(token)
			}
			for it.Seek(start); it.Valid() && len(ids) < limit; it.Next() {
				k := it.Item().Key()
				if token != "" && bytes.Equal(k, start) {
					continue
				}
				ids = append(ids, recipientIDFromKey(k))
				last = it.Item().KeyCopy(last[:0])
			}
			return nil
		})
		if err != nil {
			return nil, "", true, fmt.Errorf("badger cursor: %w", err)
		}
		if len(ids) < limit {
			return ids, "", true, nil
		}
		return ids, string(last), false, nil
	}), nil
}

func (s *badgerStore) UpsertIfAbsent(ctx context.Context, r Recipient) (bool, error) {
	if err := s.usable(); err != nil {
		return false, err
	}
	if r.JoinedAt.IsZero() {
		r.JoinedAt = time.Now()
	}
	val, err := json.Marshal(r)
	if err != nil {
		return false, err
	}
	key := recipientKey(r.ID)

	// Concurrent first contacts for the same id can conflict; retry a few times.
	for attempt := 0; ; attempt++ {
		created := false
		err = s.db.Update(func(txn *badger.Txn) error {
			_, gerr := txn.Get(key)
			if gerr == nil {
				return nil
			}
			if !errors.Is(gerr, badger.ErrKeyNotFound) {
				return gerr
			}
			created = true
			return txn.Set(key, val)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < 3 && ctx.Err() == nil {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("badger upsert: %w", err)
		}
		return created, nil
	}
}

func (s *badgerStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := s.usable(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	id := uuid.New()
	key := make([]byte, 0, len(auditPrefix)+8+len(id))
	key = append(key, auditPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(e.At.UnixNano()))
	key = append(key, id[:]...)
	return s.db.Update(func(txn *badger.Txn) error { return txn.Set(key, val) })
}

// badgerLogger routes badger's internal logging into logx.
type badgerLogger struct{ log logx.Logger }

func (l badgerLogger) Errorf(f string, args ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(f, args...)))
}
func (l badgerLogger) Warningf(f string, args ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(f, args...)))
}
func (l badgerLogger) Infof(f string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(f, args...)))
}
func (l badgerLogger) Debugf(f string, args ...interface{}) {
	l.log.Trace(strings.TrimSpace(fmt.Sprintf(f, args...)))
}
