package client

import (
	"fmt"
	"testing"
)

func TestPendingTableAddTake(t *testing.T) {
	table := NewPendingTable()

	id := table.Add("GetChargers")
	if id == "" {
		t.Fatal("expected a correlation id")
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", table.Len())
	}

	kind, ok := table.Take(id)
	if !ok || kind != "getchargers" {
		t.Fatalf("Take = (%q, %v), want lowercased kind", kind, ok)
	}
	if _, ok := table.Take(id); ok {
		t.Fatal("second take of the same id must miss")
	}
}

func TestPendingTableUniqueIDs(t *testing.T) {
	table := NewPendingTable()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := table.Add("ping")
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate correlation id %q", id)
		}
		seen[id] = struct{}{}
	}
	if table.Len() != 100 {
		t.Fatalf("expected 100 entries, got %d", table.Len())
	}
}

func TestPendingTableClearAbandonsAll(t *testing.T) {
	table := NewPendingTable()
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, table.Add(fmt.Sprintf("kind-%d", i)))
	}

	table.Clear()
	if table.Len() != 0 {
		t.Fatalf("expected empty table, got %d entries", table.Len())
	}
	for _, id := range ids {
		if _, ok := table.Take(id); ok {
			t.Fatalf("entry %q survived clear", id)
		}
	}
}

func TestPendingTableRemove(t *testing.T) {
	table := NewPendingTable()
	id := table.Add("getcars")
	table.Remove(id)
	if table.Len() != 0 {
		t.Fatal("expected entry removed")
	}
	table.Remove("never-existed")
}
