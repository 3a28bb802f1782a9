package recipients

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"castbot/internal/storage"
	"castbot/pkg/tgui"
)

// Stats are recipient counts over calendar windows.
type Stats struct {
	Total      int
	ThisMonth  int
	LastThree  int
	ComputedAt time.Time
}

// MonthStart is midnight on the first day of now's month, in now's location.
func MonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}

// QuarterStart is the first day of the month two months before now, so the
// window covers the current month and the two before it.
func QuarterStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()-2, 1, 0, 0, 0, 0, now.Location())
}

// Collect counts recipients in every window.
func Collect(ctx context.Context, store storage.Store, now time.Time) (Stats, error) {
	total, err := store.Count(ctx, storage.Filter{})
	if err != nil {
		return Stats{}, fmt.Errorf("count all: %w", err)
	}
	month, err := store.Count(ctx, storage.Filter{JoinedSince: MonthStart(now)})
	if err != nil {
		return Stats{}, fmt.Errorf("count month: %w", err)
	}
	three, err := store.Count(ctx, storage.Filter{JoinedSince: QuarterStart(now)})
	if err != nil {
		return Stats{}, fmt.Errorf("count quarter: %w", err)
	}
	return Stats{Total: total, ThisMonth: month, LastThree: three, ComputedAt: now}, nil
}

// Message renders s for Telegram.
func (s Stats) Message() tgui.Message {
	return tgui.New().
		Title("📊", "Bot statistics").
		KV("Total users", humanize.Comma(int64(s.Total))).
		KV("Joined this month", humanize.Comma(int64(s.ThisMonth))).
		KV("Joined in the last 3 months", humanize.Comma(int64(s.LastThree))).
		Build()
}
