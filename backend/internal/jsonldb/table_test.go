package jsonldb

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// testRow is a simple row type for testing.
type testRow struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`
}

func (r *testRow) Clone() *testRow {
	c := *r
	c.Tags = slices.Clone(r.Tags)
	return &c
}

func (r *testRow) GetID() string {
	return r.ID
}

func (r *testRow) Validate() error {
	if r.Name == "invalid" {
		return errors.New("name is invalid")
	}
	return nil
}

// setupTable creates a table in the test's temp directory.
func setupTable(t *testing.T) (*Table[*testRow], string) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	table, err := NewTable[*testRow](path)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	return table, path
}

func TestTable(t *testing.T) {
	t.Run("Len", func(t *testing.T) {
		table, _ := setupTable(t)
		tests := []struct {
			name    string
			setup   func()
			wantLen int
		}{
			{"empty table", func() {}, 0},
			{"one row", func() {
				_ = table.Append(&testRow{ID: "a", Name: "One"})
			}, 1},
			{"two rows", func() {
				_ = table.Append(&testRow{ID: "b", Name: "Two"})
			}, 2},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tt.setup()
				if got := table.Len(); got != tt.wantLen {
					t.Errorf("Len() = %d, want %d", got, tt.wantLen)
				}
			})
		}
	})

	t.Run("Get", func(t *testing.T) {
		table, _ := setupTable(t)
		_ = table.Append(&testRow{ID: "ten", Name: "Ten", Tags: []string{"x"}})
		tests := []struct {
			name  string
			id    string
			found bool
		}{
			{"existing", "ten", true},
			{"missing", "nope", false},
			{"empty", "", false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got := table.Get(tt.id)
				if (got != nil) != tt.found {
					t.Errorf("Get(%q) = %+v, found want %v", tt.id, got, tt.found)
				}
			})
		}
		t.Run("returns clone", func(t *testing.T) {
			got := table.Get("ten")
			got.Name = "Modified"
			got.Tags[0] = "y"
			again := table.Get("ten")
			if again.Name != "Ten" || again.Tags[0] != "x" {
				t.Errorf("Get() returned reference instead of clone: %+v", again)
			}
		})
	})

	t.Run("Append", func(t *testing.T) {
		t.Run("duplicate", func(t *testing.T) {
			table, _ := setupTable(t)
			if err := table.Append(&testRow{ID: "a", Name: "A"}); err != nil {
				t.Fatal(err)
			}
			if err := table.Append(&testRow{ID: "a", Name: "B"}); !errors.Is(err, ErrDuplicateID) {
				t.Errorf("Append duplicate = %v, want ErrDuplicateID", err)
			}
		})
		t.Run("invalid", func(t *testing.T) {
			table, _ := setupTable(t)
			if err := table.Append(&testRow{ID: "a", Name: "invalid"}); !errors.Is(err, ErrInvalidRow) {
				t.Errorf("Append invalid = %v, want ErrInvalidRow", err)
			}
			if err := table.Append(&testRow{Name: "noid"}); !errors.Is(err, ErrMissingID) {
				t.Errorf("Append without id = %v, want ErrMissingID", err)
			}
			if table.Len() != 0 {
				t.Errorf("Len() = %d, want 0", table.Len())
			}
		})
	})

	t.Run("Modify", func(t *testing.T) {
		table, _ := setupTable(t)
		_ = table.Append(&testRow{ID: "a", Name: "A"})
		got, err := table.Modify("a", func(r *testRow) error {
			r.Name = "AA"
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.Name != "AA" || table.Get("a").Name != "AA" {
			t.Errorf("Modify did not apply: %+v", got)
		}
		t.Run("fn error leaves row", func(t *testing.T) {
			boom := errors.New("boom")
			if _, err := table.Modify("a", func(r *testRow) error {
				r.Name = "lost"
				return boom
			}); !errors.Is(err, boom) {
				t.Fatalf("Modify = %v, want boom", err)
			}
			if table.Get("a").Name != "AA" {
				t.Error("failed Modify changed the row")
			}
		})
		t.Run("missing", func(t *testing.T) {
			if _, err := table.Modify("zz", func(*testRow) error { return nil }); !errors.Is(err, ErrNotFound) {
				t.Errorf("Modify missing = %v, want ErrNotFound", err)
			}
		})
		t.Run("id change rejected", func(t *testing.T) {
			if _, err := table.Modify("a", func(r *testRow) error {
				r.ID = "b"
				return nil
			}); err == nil {
				t.Error("expected error when changing id")
			}
		})
	})

	t.Run("Delete", func(t *testing.T) {
		table, _ := setupTable(t)
		_ = table.Append(&testRow{ID: "a", Name: "A"})
		_ = table.Append(&testRow{ID: "b", Name: "B"})
		_ = table.Append(&testRow{ID: "c", Name: "C"})
		if _, err := table.Delete("b"); err != nil {
			t.Fatal(err)
		}
		var ids []string
		for r := range table.All() {
			ids = append(ids, r.ID)
		}
		if !slices.Equal(ids, []string{"a", "c"}) {
			t.Errorf("All() = %v, want [a c]", ids)
		}
		if table.Get("c") == nil {
			t.Error("Get(c) after delete of b = nil")
		}
		if _, err := table.Delete("b"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second Delete = %v, want ErrNotFound", err)
		}
	})

	t.Run("persistence", func(t *testing.T) {
		table, path := setupTable(t)
		_ = table.Append(&testRow{ID: "a", Name: "A"})
		_ = table.Append(&testRow{ID: "b", Name: "B"})
		if _, err := table.Update(&testRow{ID: "a", Name: "A2"}); err != nil {
			t.Fatal(err)
		}
		if _, err := table.Delete("b"); err != nil {
			t.Fatal(err)
		}
		_ = table.Append(&testRow{ID: "c", Name: "C"})

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 3 || !isSchemaHeader([]byte(lines[0])) {
			t.Fatalf("unexpected file content:\n%s", data)
		}

		reloaded, err := NewTable[*testRow](path)
		if err != nil {
			t.Fatal(err)
		}
		if reloaded.Len() != 2 || reloaded.Get("a").Name != "A2" || reloaded.Get("c") == nil {
			t.Errorf("reloaded table mismatch: len=%d", reloaded.Len())
		}
	})

	t.Run("headerless file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "legacy.jsonl")
		if err := os.WriteFile(path, []byte(`{"id":"x","name":"X"}`+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		table, err := NewTable[*testRow](path)
		if err != nil {
			t.Fatal(err)
		}
		if got := table.Get("x"); got == nil || got.Name != "X" {
			t.Errorf("Get(x) = %+v", got)
		}
	})

	t.Run("memory only", func(t *testing.T) {
		table, err := NewTable[*testRow]("")
		if err != nil {
			t.Fatal(err)
		}
		_ = table.Append(&testRow{ID: "a", Name: "A"})
		if _, err := table.Delete("a"); err != nil {
			t.Fatal(err)
		}
		if table.Len() != 0 {
			t.Errorf("Len() = %d, want 0", table.Len())
		}
	})
}
