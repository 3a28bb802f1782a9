package storage

import "context"

// pageFunc fetches the page after token. An empty token means the first
// page; done reports that no further pages exist.
type pageFunc func(ctx context.Context, token string, limit int) (ids []RecipientID, next string, done bool, err error)

// pagedCursor turns a page fetcher into a Cursor.
type pagedCursor struct {
	ctx   context.Context
	fetch pageFunc
	limit int

	buf    []RecipientID
	pos    int
	token  string
	done   bool
	cur    RecipientID
	err    error
	closed bool
}

func newPagedCursor(ctx context.Context, limit int, fetch pageFunc) *pagedCursor {
	if limit <= 0 {
		limit = defaultPageSize
	}
	return &pagedCursor{ctx: ctx, fetch: fetch, limit: limit, pos: -1}
}

func (c *pagedCursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	for {
		if err := c.ctx.Err(); err != nil {
			c.err = err
			return false
		}
		if c.pos+1 < len(c.buf) {
			c.pos++
			c.cur = c.buf[c.pos]
			return true
		}
		if c.done {
			return false
		}
		ids, next, done, err := c.fetch(c.ctx, c.token, c.limit)
		if err != nil {
			c.err = err
			return false
		}
		c.buf, c.pos, c.token, c.done = ids, -1, next, done
	}
}

func (c *pagedCursor) ID() RecipientID { return c.cur }
func (c *pagedCursor) Err() error      { return c.err }

func (c *pagedCursor) Close() error {
	c.closed = true
	c.buf = nil
	return nil
}
