// Defines shared service dependencies for handlers.

package handlers

import (
	"github.com/almostout/almostout/backend/internal/invite"
	"github.com/almostout/almostout/backend/internal/lists"
	"github.com/almostout/almostout/backend/internal/storage/docstore"
)

// Services holds all service dependencies for handlers.
type Services struct {
	Store   docstore.Store
	Lists   *lists.Service
	Invites *invite.Service
}

// Config holds configuration values needed by handlers.
type Config struct {
	Version string
	Backend string
	// AppDomain hosts the web fallback page of share links.
	AppDomain string
}
