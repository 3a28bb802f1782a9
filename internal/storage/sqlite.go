package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "castbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

const defaultSQLitePath = "./castbot.db"

type sqliteStore struct {
	db       *sql.DB
	log      logx.Logger
	pageSize int
	closed   atomic.Bool
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; cursors page so they never hold it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log, pageSize: cfg.PageSize}
	if _, err := db.ExecContext(ctx, migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Driver() string { return "sqlite" }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) usable() error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *sqliteStore) Count(ctx context.Context, f Filter) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	var n int
	var err error
	if f.JoinedSince.IsZero() {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM recipients WHERE joined_at >= ?`, f.JoinedSince.UnixMilli()).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) OpenCursor(ctx context.Context) (Cursor, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	// keyset pagination: each page is a short query, ordered by primary key
	return newPagedCursor(ctx, s.pageSize, func(ctx context.Context, token string, limit int) ([]RecipientID, string, bool, error) {
		if err := s.usable(); err != nil {
			return nil, "", true, err
		}
		var (
			rows *sql.Rows
			err  error
		)
		if token == "" {
			rows, err = s.db.QueryContext(ctx, `SELECT id FROM recipients ORDER BY id LIMIT ?`, limit)
		} else {
			after, perr := strconv.ParseInt(token, 10, 64)
			if perr != nil {
				return nil, "", true, perr
			}
			rows, err = s.db.QueryContext(ctx, `SELECT id FROM recipients WHERE id > ? ORDER BY id LIMIT ?`, after, limit)
		}
		if err != nil {
			return nil, "", true, fmt.Errorf("sqlite cursor: %w", err)
		}
		defer rows.Close()

		ids := make([]RecipientID, 0, limit)
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, "", true, err
			}
			ids = append(ids, RecipientID(id))
		}
		if err := rows.Err(); err != nil {
			return nil, "", true, err
		}
		if len(ids) < limit {
			return ids, "", true, nil
		}
		return ids, strconv.FormatInt(int64(ids[len(ids)-1]), 10), false, nil
	}), nil
}

func (s *sqliteStore) UpsertIfAbsent(ctx context.Context, r Recipient) (bool, error) {
	if err := s.usable(); err != nil {
		return false, err
	}
	if r.JoinedAt.IsZero() {
		r.JoinedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(id, first_name, username, joined_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		int64(r.ID), nullStr(r.FirstName), nullStr(r.Username), r.JoinedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite upsert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := s.usable(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername),
		e.Action, nullStr(e.Target), e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
