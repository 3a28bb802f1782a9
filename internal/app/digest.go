package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"castbot/internal/config"
	"castbot/internal/recipients"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
	"castbot/pkg/tgui"
)

// digest periodically sends the recipient statistics to every owner.
type digest struct {
	store  storage.Store
	sender tgui.Sender
	owners func() []int64
	log    logx.Logger
	now    func() time.Time

	parser cron.Parser

	mu   sync.Mutex
	c    *cron.Cron
	spec string
	tz   string
}

func newDigest(store storage.Store, sender tgui.Sender, owners func() []int64, log logx.Logger) *digest {
	return &digest{
		store:  store,
		sender: sender,
		owners: owners,
		log:    log.With(logx.String("comp", "digest")),
		now:    time.Now,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Apply (re)schedules the digest. An empty spec stops it.
func (d *digest) Apply(cfg config.DigestConfig) {
	spec := strings.TrimSpace(cfg.Cron)
	tz := strings.TrimSpace(cfg.Timezone)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil && spec == d.spec && tz == d.tz {
		return
	}
	d.stopLocked(context.Background())
	d.spec, d.tz = spec, tz
	if spec == "" {
		return
	}

	loc := time.Local
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			d.log.Warn("invalid digest timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	c := cron.New(cron.WithParser(d.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, d.fire); err != nil {
		d.log.Warn("invalid digest schedule", logx.String("cron", spec), logx.Err(err))
		return
	}
	c.Start()
	d.c = c
	d.log.Info("digest scheduled", logx.String("cron", spec), logx.String("tz", loc.String()))
}

func (d *digest) Stop(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked(ctx)
}

func (d *digest) stopLocked(ctx context.Context) {
	if d.c == nil {
		return
	}
	select {
	case <-d.c.Stop().Done():
	case <-ctx.Done():
	}
	d.c = nil
}

func (d *digest) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.Send(ctx); err != nil {
		d.log.Warn("digest failed", logx.Err(err))
	}
}

// Send delivers one digest now.
func (d *digest) Send(ctx context.Context) error {
	st, err := recipients.Collect(ctx, d.store, d.now())
	if err != nil {
		return err
	}
	msg := st.Message()
	var firstErr error
	for _, id := range d.owners() {
		if _, err := msg.Send(ctx, d.sender, kit.ChatTarget{ChatID: id}); err != nil {
			d.log.Debug("digest send failed", logx.Int64("owner", id), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
