// Package dispatch records in-app notifications and pushes them to the
// recipients' devices.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mithileshchellappan/pushrelay/internal/delivery"
	"github.com/mithileshchellappan/pushrelay/internal/event"
	"github.com/mithileshchellappan/pushrelay/internal/recipient"
	"github.com/mithileshchellappan/pushrelay/internal/storage"
)

const adminRole = string(storage.RoleAdmin)

// Report aggregates one dispatch across all recipients.
type Report struct {
	Recipients    int `json:"recipients"`
	Notifications int `json:"notifications"`
	Total         int `json:"total"`
	Sent          int `json:"sent"`
	Failed        int `json:"failed"`
	Unresolved    int `json:"unresolved"`
}

func (r *Report) addDelivery(res delivery.Result) {
	r.Total += res.TotalTokens
	r.Sent += res.SuccessCount
	r.Failed += res.FailureCount
}

type Dispatcher struct {
	store    storage.Store
	resolver *recipient.Resolver
	batcher  *delivery.Batcher
	now      func() time.Time
	log      zerolog.Logger
}

func New(store storage.Store, resolver *recipient.Resolver, batcher *delivery.Batcher, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		resolver: resolver,
		batcher:  batcher,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "dispatch").Logger(),
	}
}

// Dispatch persists one notification per recipient and delivers the push.
// The log entry is written even when the recipient has no token. Counts
// gathered before a gateway failure are returned with the error.
func (d *Dispatcher) Dispatch(ctx context.Context, out event.Outcome) (Report, error) {
	var rep Report
	if out.Class == event.NoOp {
		return rep, nil
	}

	msg := delivery.NewMessage(out.Title, out.Body, map[string]any{
		"type":   out.Meta["kind"],
		"taskId": out.Meta["taskId"],
	})

	if out.ToAdmins {
		return d.toAdmins(ctx, out, msg)
	}

	for _, username := range recipient.NormalizeUsernames(out.Usernames) {
		rep.Recipients++
		if err := d.record(ctx, &storage.InAppNotification{ToUsername: username}, out); err != nil {
			return rep, err
		}
		rep.Notifications++

		res, err := d.resolver.Usernames(ctx, []string{username}, recipient.LookupByOwnerID)
		if err != nil {
			return rep, err
		}
		rep.Unresolved += res.Unresolved

		dr, err := d.batcher.Deliver(ctx, res.Tokens.Slice(), msg)
		rep.addDelivery(dr)
		if err != nil {
			return rep, err
		}
	}

	d.log.Info().Str("class", out.Class.String()).Interface("task_id", out.Meta["taskId"]).
		Int("recipients", rep.Recipients).Int("sent", rep.Sent).Int("failed", rep.Failed).
		Int("unresolved", rep.Unresolved).Msg("task notification dispatched")
	return rep, nil
}

func (d *Dispatcher) toAdmins(ctx context.Context, out event.Outcome, msg delivery.Message) (Report, error) {
	rep := Report{Recipients: 1}
	if err := d.record(ctx, &storage.InAppNotification{ToRole: adminRole}, out); err != nil {
		return rep, err
	}
	rep.Notifications++

	set, err := d.resolver.Admins(ctx, "", "")
	if err != nil {
		return rep, err
	}

	dr, err := d.batcher.Deliver(ctx, set.Slice(), msg)
	rep.addDelivery(dr)
	if err != nil {
		return rep, err
	}

	d.log.Info().Str("class", out.Class.String()).Interface("task_id", out.Meta["taskId"]).
		Int("admins", dr.TotalTokens).Int("sent", rep.Sent).Int("failed", rep.Failed).
		Msg("admin notification dispatched")
	return rep, nil
}

func (d *Dispatcher) record(ctx context.Context, n *storage.InAppNotification, out event.Outcome) error {
	n.Title = out.Title
	n.Body = out.Body
	n.Read = false
	n.CreatedAt = d.now()
	n.Meta = out.Meta
	return d.store.AddNotification(ctx, n)
}
