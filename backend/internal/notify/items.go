package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// RunItemNotifications tells the other members of a list when an item is
// added or checked off, until ctx is done.
func (d *Dispatcher) RunItemNotifications(ctx context.Context) error {
	sub, err := d.store.WatchItemChanges(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	slog.InfoContext(ctx, "item notifications started")
	for c := range sub.C {
		d.itemChanged(ctx, &c)
	}
	if err := sub.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (d *Dispatcher) itemChanged(ctx context.Context, c *docstore.ItemChange) {
	m, actor := itemMessage(c)
	if m == nil {
		return
	}
	l, err := d.store.GetList(ctx, c.ListID)
	if errors.Is(err, docstore.ErrNotFound) {
		slog.WarnContext(ctx, "notify: list not found", "list", c.ListID)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "notify: list lookup failed", "list", c.ListID, "err", err)
		return
	}
	m.Title = l.Name
	d.Deliver(ctx, recipients(l.MemberIDs, actor), m)
}

// itemMessage builds the message for c and returns the acting user, or nil
// when the change is not worth a notification.
func itemMessage(c *docstore.ItemChange) (*Message, string) {
	it := c.After
	switch {
	case c.Added():
		return &Message{
			Type: entity.NotifItemAdded,
			Body: fmt.Sprintf("%s added %q", it.AddedByName, it.Name),
			Data: map[string]string{"type": string(entity.NotifItemAdded), "listId": c.ListID, "itemId": c.ItemID},
		}, it.AddedBy
	case c.Completed():
		return &Message{
			Type: entity.NotifItemCompleted,
			Body: fmt.Sprintf("%s completed %q", it.CompletedByName, it.Name),
			Data: map[string]string{"type": string(entity.NotifItemCompleted), "listId": c.ListID, "itemId": c.ItemID},
		}, it.CompletedBy
	default:
		return nil, ""
	}
}
