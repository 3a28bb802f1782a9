package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	logx "castbot/pkg/logx"
)

const auditListMax = 1000

// redisStore keeps recipients in a sorted set scored by join time (unix
// seconds) plus one hash per recipient; audit entries go to a capped list.
type redisStore struct {
	rdb      redis.UniversalClient
	ns       string
	log      logx.Logger
	pageSize int
	closed   atomic.Bool
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("storage.redis_addr is required for redis driver")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Info("redis store opened", logx.String("addr", addr), logx.Int("db", cfg.RedisDB))
	return NewRedis(rdb, cfg.Namespace, cfg.PageSize, log), nil
}

// NewRedis wraps an existing client. ns prefixes every key.
func NewRedis(rdb redis.UniversalClient, ns string, pageSize int, log logx.Logger) Store {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		ns = "castbot"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{rdb: rdb, ns: ns, log: log, pageSize: pageSize}
}

func (s *redisStore) Driver() string { return "redis" }

func (s *redisStore) recipientsKey() string { return s.ns + ":recipients" }
func (s *redisStore) auditKey() string      { return s.ns + ":audit" }
func (s *redisStore) recipientKey(id RecipientID) string {
	return s.ns + ":recipient:" + strconv.FormatInt(int64(id), 10)
}

func (s *redisStore) Close() error {
	if s == nil || s.rdb == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.rdb.Close()
}

func (s *redisStore) usable() error {
	if s == nil || s.rdb == nil {
		return ErrDisabled
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *redisStore) Count(ctx context.Context, f Filter) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	var (
		n   int64
		err error
	)
	if f.JoinedSince.IsZero() {
		n, err = s.rdb.ZCard(ctx, s.recipientsKey()).Result()
	} else {
		since := strconv.FormatInt(f.JoinedSince.Unix(), 10)
		n, err = s.rdb.ZCount(ctx, s.recipientsKey(), since, "+inf").Result()
	}
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return int(n), nil
}

// OpenCursor walks the sorted set with ZSCAN. Members added or removed
// during the walk may be returned zero or more times.
func (s *redisStore) OpenCursor(ctx context.Context) (Cursor, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	started := false
	return newPagedCursor(ctx, s.pageSize, func(ctx context.Context, token string, limit int) ([]RecipientID, string, bool, error) {
		if err := s.usable(); err != nil {
			return nil, "", true, err
		}
		var cur uint64
		if token != "" {
			v, err := strconv.ParseUint(token, 10, 64)
			if err != nil {
				return nil, "", true, err
			}
			cur = v
		} else if started {
			return nil, "", true, nil
		}
		started = true

		kv, next, err := s.rdb.ZScan(ctx, s.recipientsKey(), cur, "", int64(limit)).Result()
		if err != nil {
			return nil, "", true, fmt.Errorf("redis cursor: %w", err)
		}
		// ZSCAN replies with member, score pairs.
		ids := make([]RecipientID, 0, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			id, err := strconv.ParseInt(kv[i], 10, 64)
			if err != nil {
				s.log.Debug("redis cursor: skipping malformed member", logx.String("member", kv[i]))
				continue
			}
			ids = append(ids, RecipientID(id))
		}
		if next == 0 {
			return ids, "", true, nil
		}
		return ids, strconv.FormatUint(next, 10), false, nil
	}), nil
}

func (s *redisStore) UpsertIfAbsent(ctx context.Context, r Recipient) (bool, error) {
	if err := s.usable(); err != nil {
		return false, err
	}
	if r.JoinedAt.IsZero() {
		r.JoinedAt = time.Now()
	}
	member := strconv.FormatInt(int64(r.ID), 10)
	added, err := s.rdb.ZAddNX(ctx, s.recipientsKey(), redis.Z{
		Score:  float64(r.JoinedAt.Unix()),
		Member: member,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("redis upsert: %w", err)
	}
	if added == 0 {
		return false, nil
	}
	if err := s.rdb.HSet(ctx, s.recipientKey(r.ID),
		"first_name", r.FirstName,
		"username", r.Username,
		"joined_at", r.JoinedAt.UTC().Format(time.RFC3339),
	).Err(); err != nil {
		// the id is registered; profile details are best effort
		s.log.Warn("redis recipient profile write failed", logx.Int64("id", int64(r.ID)), logx.Err(err))
	}
	return true, nil
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := s.usable(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, s.auditKey(), b)
	pipe.LTrim(ctx, s.auditKey(), 0, auditListMax-1)
	_, err = pipe.Exec(ctx)
	return err
}
