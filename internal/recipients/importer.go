package recipients

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"castbot/internal/storage"
)

// BadLine is an input line that is not a chat id.
type BadLine struct {
	Line int
	Text string
}

// ParseIDs reads one chat id per line. Blank lines and lines starting with
// '#' are skipped; duplicates are dropped keeping the first occurrence.
func ParseIDs(r io.Reader) ([]storage.RecipientID, []BadLine, error) {
	var (
		ids []storage.RecipientID
		bad []BadLine
	)
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil || id == 0 {
			bad = append(bad, BadLine{Line: n, Text: line})
			continue
		}
		ids = append(ids, storage.RecipientID(id))
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read ids: %w", err)
	}
	return lo.Uniq(ids), bad, nil
}

type ImportResult struct {
	Created  int
	Existing int
}

// Import stores every id not already known. It stops at the first store
// error and reports what was written so far.
func Import(ctx context.Context, store storage.Store, ids []storage.RecipientID, now time.Time) (ImportResult, error) {
	var res ImportResult
	for _, id := range ids {
		created, err := store.UpsertIfAbsent(ctx, storage.Recipient{ID: id, JoinedAt: now.UTC()})
		if err != nil {
			return res, fmt.Errorf("upsert %d: %w", id, err)
		}
		if created {
			res.Created++
		} else {
			res.Existing++
		}
	}
	return res, nil
}
