package entity

import (
	"errors"
	"time"
)

// ActivityType names an entry of a list's activity log.
type ActivityType string

// Activity types, one per kind of item write.
const (
	ActivityItemAdded       ActivityType = "item_added"
	ActivityItemDeleted     ActivityType = "item_deleted"
	ActivityItemCompleted   ActivityType = "item_completed"
	ActivityItemUncompleted ActivityType = "item_uncompleted"
	ActivityItemUpdated     ActivityType = "item_updated"
)

// ActivityDetails identifies the item an entry is about. The name is copied so
// the entry stays readable after the item is deleted.
type ActivityDetails struct {
	ItemID   string `json:"itemId" firestore:"itemId"`
	ItemName string `json:"itemName" firestore:"itemName"`
}

// Activity is an entry of lists/{listId}/activity. Entries are append-only.
type Activity struct {
	ID       string       `json:"id" firestore:"-" jsonschema:"description=Unique entry identifier"`
	ListID   string       `json:"listId" firestore:"-" jsonschema:"description=Parent list"`
	Type     ActivityType `json:"type" firestore:"type" jsonschema:"description=Kind of item write"`
	UserID   string       `json:"userId" firestore:"userId" jsonschema:"description=User the write is attributed to"`
	UserName string       `json:"userName" firestore:"userName" jsonschema:"description=Display name of that user"`
	// Timestamp is filled by the server on Firestore when left zero.
	Timestamp time.Time       `json:"timestamp" firestore:"timestamp,serverTimestamp" jsonschema:"description=When the write was logged"`
	Details   ActivityDetails `json:"details" firestore:"details"`
}

// Clone returns a copy of the Activity.
func (a *Activity) Clone() *Activity {
	c := *a
	return &c
}

// GetID returns the Activity's ID.
func (a *Activity) GetID() string {
	return a.ID
}

// Validate checks that the Activity is valid.
func (a *Activity) Validate() error {
	if a.ID == "" {
		return errIDRequired
	}
	if a.ListID == "" {
		return errListIDEmpty
	}
	if a.UserID == "" {
		return errActivityUser
	}
	switch a.Type {
	case ActivityItemAdded, ActivityItemDeleted, ActivityItemCompleted, ActivityItemUncompleted, ActivityItemUpdated:
		return nil
	default:
		return errActivityType
	}
}

var (
	errActivityUser = errors.New("activity must name a user")
	errActivityType = errors.New("unknown activity type")
)
