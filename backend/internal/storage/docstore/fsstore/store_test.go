package fsstore

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/almostout/almostout/backend/internal/storage/docstore"
	"github.com/almostout/almostout/backend/internal/storage/docstore/storetest"
	"github.com/almostout/almostout/backend/internal/storage/entity"
)

var runID atomic.Int64

// TestConformance needs the Firestore emulator:
//
//	gcloud emulators firestore start --host-port=localhost:8686
//	FIRESTORE_EMULATOR_HOST=localhost:8686 go test ./...
func TestConformance(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	storetest.Run(t, func(t *testing.T) docstore.Store {
		client, err := firestore.NewClient(t.Context(), "almostout-test")
		if err != nil {
			t.Fatal(err)
		}
		prefix := fmt.Sprintf("t%d_%d_", time.Now().UnixNano(), runID.Add(1))
		return newStore(client, prefix)
	})
}

func TestNewest(t *testing.T) {
	at := func(h int, st entity.Status) *entity.Invitation {
		return &entity.Invitation{ID: fmt.Sprintf("%d-%s", h, st), Status: st, CreatedAt: storetest.Now.Add(time.Duration(h) * time.Hour)}
	}
	tests := []struct {
		name string
		in   []*entity.Invitation
		want string
	}{
		{"empty", nil, ""},
		{"single", []*entity.Invitation{at(1, entity.StatusAccepted)}, "1-accepted"},
		{"newest wins", []*entity.Invitation{at(1, entity.StatusPending), at(3, entity.StatusPending), at(2, entity.StatusPending)}, "3-pending"},
		{"pending preferred", []*entity.Invitation{at(5, entity.StatusCancelled), at(1, entity.StatusPending)}, "1-pending"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newest(tt.in)
			id := ""
			if got != nil {
				id = got.ID
			}
			if id != tt.want {
				t.Errorf("newest() = %q, want %q", id, tt.want)
			}
		})
	}
}

func TestInvitationDoc(t *testing.T) {
	t.Run("status stored by name", func(t *testing.T) {
		d := toInvitationDoc(&entity.Invitation{ID: "i1", Status: entity.StatusExpired, Role: entity.RoleViewer})
		if d.Status != "expired" || d.Role != "viewer" {
			t.Errorf("doc = %+v", d)
		}
		inv, err := d.toEntity("i1")
		if err != nil {
			t.Fatal(err)
		}
		if inv.ID != "i1" || inv.Status != entity.StatusExpired {
			t.Errorf("entity = %+v", inv)
		}
	})
	t.Run("unknown status", func(t *testing.T) {
		d := &invitationDoc{Status: "bogus"}
		if _, err := d.toEntity("i1"); err == nil {
			t.Error("expected error")
		}
	})
}
