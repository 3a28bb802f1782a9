package recipients

import (
	"context"
	"errors"
	"time"

	"castbot/internal/eventbus"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

// Joined is published on the bus when a new recipient is stored.
type Joined struct {
	Recipient storage.Recipient
}

// Registrar adds message senders to the recipient store.
type Registrar struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func NewRegistrar(store storage.Store, bus eventbus.Bus, log logx.Logger) *Registrar {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registrar{store: store, bus: bus, log: log.With(logx.String("comp", "recipients")), now: time.Now}
}

// Observe stores the sender of a private message if it is not known yet.
// Failures are logged and never reach the caller.
func (r *Registrar) Observe(ctx context.Context, msg *kit.Message) {
	if r == nil || r.store == nil || msg == nil || !msg.IsPrivate || msg.FromID <= 0 {
		return
	}
	rec := storage.Recipient{
		ID:        storage.RecipientID(msg.FromID),
		FirstName: msg.FromFirstName,
		Username:  msg.FromUsername,
		JoinedAt:  r.now().UTC(),
	}
	created, err := r.store.UpsertIfAbsent(ctx, rec)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.Warn("register recipient failed", logx.Int64("user_id", msg.FromID), logx.Err(err))
		}
		return
	}
	if created {
		r.log.Debug("recipient joined", logx.Int64("user_id", msg.FromID))
		r.bus.Publish(eventbus.Event{Type: eventbus.RecipientJoined, Time: rec.JoinedAt, Data: Joined{Recipient: rec}})
	}
}
