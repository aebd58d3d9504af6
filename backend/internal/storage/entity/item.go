package entity

import (
	"errors"
	"time"
)

// Item is an entry of a list, stored under lists/{listId}/items.
type Item struct {
	ID              string     `json:"id" firestore:"-" jsonschema:"description=Unique item identifier"`
	ListID          string     `json:"listId" firestore:"listId" jsonschema:"description=Parent list"`
	Name            string     `json:"name" firestore:"name" jsonschema:"description=Item name"`
	Note            string     `json:"note,omitempty" firestore:"note,omitempty" jsonschema:"description=Free form note"`
	Quantity        string     `json:"quantity,omitempty" firestore:"quantity,omitempty" jsonschema:"description=Free form quantity"`
	AddedBy         string     `json:"addedBy" firestore:"addedBy" jsonschema:"description=User who added the item"`
	AddedByName     string     `json:"addedByName" firestore:"addedByName" jsonschema:"description=Display name of the user who added the item"`
	IsCompleted     bool       `json:"isCompleted" firestore:"isCompleted" jsonschema:"description=Whether the item is checked off"`
	CompletedBy     string     `json:"completedBy,omitempty" firestore:"completedBy,omitempty" jsonschema:"description=User who completed the item"`
	CompletedByName string     `json:"completedByName,omitempty" firestore:"completedByName,omitempty" jsonschema:"description=Display name of the completer"`
	CompletedAt     *time.Time `json:"completedAt,omitempty" firestore:"completedAt,omitempty" jsonschema:"description=Completion timestamp"`
	CreatedAt       time.Time  `json:"createdAt" firestore:"createdAt" jsonschema:"description=Creation timestamp"`
	UpdatedAt       time.Time  `json:"updatedAt" firestore:"updatedAt" jsonschema:"description=Last modification timestamp"`
}

// Clone returns a deep copy of the Item.
func (i *Item) Clone() *Item {
	c := *i
	c.CompletedAt = cloneTime(i.CompletedAt)
	return &c
}

// GetID returns the Item's ID.
func (i *Item) GetID() string {
	return i.ID
}

// Validate checks that the Item is valid.
func (i *Item) Validate() error {
	if i.ID == "" {
		return errIDRequired
	}
	if i.ListID == "" {
		return errListIDEmpty
	}
	if i.Name == "" {
		return errItemNameEmpty
	}
	if i.IsCompleted && i.CompletedBy == "" {
		return errCompletedByEmpty
	}
	return nil
}

// SetCompleted flips the completion flag and its audit fields.
func (i *Item) SetCompleted(done bool, userID, userName string, now time.Time) {
	i.IsCompleted = done
	i.UpdatedAt = now
	if done {
		t := now
		i.CompletedAt = &t
		i.CompletedBy = userID
		i.CompletedByName = userName
		return
	}
	i.CompletedAt = nil
	i.CompletedBy = ""
	i.CompletedByName = ""
}

//

var (
	errItemNameEmpty    = errors.New("item name cannot be empty")
	errCompletedByEmpty = errors.New("completed item must record who completed it")
)
