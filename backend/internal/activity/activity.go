// Package activity records an entry in a list's activity log for every item
// write.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

// Recorder is told about every entry written or dropped.
type Recorder interface {
	ActivityLogged(typ entity.ActivityType, err error)
}

// Logger turns item changes into activity entries.
type Logger struct {
	store    docstore.Store
	recorder Recorder
	now      func() time.Time
}

// New returns a Logger. recorder may be nil.
func New(store docstore.Store, recorder Recorder) *Logger {
	return &Logger{store: store, recorder: recorder, now: time.Now}
}

// Classify returns the entry describing c, without id and timestamp, or nil
// when the change cannot be attributed to anyone.
//
// Deletions and plain edits are attributed to the user who added the item,
// since items do not record who deleted or edited them. A completion is
// attributed to the completer when known.
func Classify(c *docstore.ItemChange) *entity.Activity {
	a := &entity.Activity{ListID: c.ListID}
	var it *entity.Item
	switch {
	case c.Before == nil && c.After == nil:
		return nil
	case c.Before == nil:
		it = c.After
		a.Type = entity.ActivityItemAdded
	case c.After == nil:
		it = c.Before
		a.Type = entity.ActivityItemDeleted
	case c.Before.IsCompleted != c.After.IsCompleted:
		it = c.After
		if it.IsCompleted {
			a.Type = entity.ActivityItemCompleted
			a.UserID, a.UserName = it.CompletedBy, it.CompletedByName
		} else {
			a.Type = entity.ActivityItemUncompleted
		}
	default:
		it = c.After
		a.Type = entity.ActivityItemUpdated
	}
	if a.UserID == "" {
		a.UserID, a.UserName = it.AddedBy, it.AddedByName
	} else if a.UserName == "" {
		a.UserName = it.AddedByName
	}
	if a.UserID == "" {
		return nil
	}
	a.Details = entity.ActivityDetails{ItemID: c.ItemID, ItemName: it.Name}
	return a
}

// Record writes the entry for c. It returns the entry, or nil when c is not
// logged.
func (l *Logger) Record(ctx context.Context, c *docstore.ItemChange) (*entity.Activity, error) {
	a := Classify(c)
	if a == nil {
		return nil, nil
	}
	a.ID = l.store.NewID()
	a.Timestamp = l.now()
	err := l.store.AppendActivity(ctx, a)
	if l.recorder != nil {
		l.recorder.ActivityLogged(a.Type, err)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Run logs every item write until ctx is done. Failures are logged and the
// change is dropped.
func (l *Logger) Run(ctx context.Context) error {
	sub, err := l.store.WatchItemChanges(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()
	slog.InfoContext(ctx, "activity logger started")
	for c := range sub.C {
		a, err := l.Record(ctx, &c)
		switch {
		case err != nil:
			slog.ErrorContext(ctx, "activity not logged", "list", c.ListID, "item", c.ItemID, "err", err)
		case a != nil:
			slog.DebugContext(ctx, "activity logged", "list", a.ListID, "type", a.Type, "user", a.UserID)
		}
	}
	if err := sub.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
