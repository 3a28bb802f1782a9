package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrClosed        = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values: "sqlite" (default), "badger", "redis", "memory".
// "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Namespace     string // redis key prefix

	// PageSize bounds how many ids a cursor fetches per round trip.
	PageSize int
}

// RecipientID is an opaque chat id a message can be delivered to.
type RecipientID int64

type Recipient struct {
	ID        RecipientID `json:"id"`
	FirstName string      `json:"first_name,omitempty"`
	Username  string      `json:"username,omitempty"`
	JoinedAt  time.Time   `json:"joined_at"`
}

// Filter narrows Count. The zero value counts everyone.
type Filter struct {
	JoinedSince time.Time
}

// Cursor iterates recipient ids. It is single-use and not safe for
// concurrent use.
type Cursor interface {
	Next() bool
	ID() RecipientID
	Err() error
	Close() error
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	OK            int       `json:"ok"`
	Fail          int       `json:"fail"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
	MetaJSON      string    `json:"meta,omitempty"`
}

// Store is the persistence API used by the bot and the CLI.
type Store interface {
	Count(ctx context.Context, f Filter) (int, error)
	// OpenCursor returns a fresh cursor over every recipient id. The cursor
	// stops early if ctx is canceled.
	OpenCursor(ctx context.Context) (Cursor, error)
	// UpsertIfAbsent stores r unless its id is already known; existing rows
	// are left untouched. created reports whether a new row was written.
	UpsertIfAbsent(ctx context.Context, r Recipient) (created bool, err error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Driver() string
	Close() error
}

const defaultPageSize = 500
