package things

import "testing"

func TestKeyResolution(t *testing.T) {
	tests := []struct {
		name   string
		source any
		want   string
		ok     bool
	}{
		{"raw string", "charger-1", "charger-1", true},
		{"empty string", "", "", false},
		{"thingId field", Thing{"thingId": "t-1", "id": "i-1"}, "t-1", true},
		{"id fallback", Thing{"id": "i-1"}, "i-1", true},
		{"no identifier", Thing{"name": "Garage"}, "", false},
		{"non-string id", Thing{"id": 42.0}, "", false},
		{"unsupported type", 42, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Key(tc.source)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("Key(%v) = (%q, %v), want (%q, %v)", tc.source, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestUpsertMergesFields(t *testing.T) {
	col := NewCollection()

	created, ok := col.Upsert(Thing{"id": "x", "v": 1.0, "name": "first"})
	if !ok || !created {
		t.Fatalf("first upsert: created=%v ok=%v", created, ok)
	}

	created, ok = col.Upsert(Thing{"id": "x", "v": 2.0})
	if !ok || created {
		t.Fatalf("second upsert: created=%v ok=%v", created, ok)
	}

	if col.Len() != 1 {
		t.Fatalf("expected 1 entity, got %d", col.Len())
	}

	got, _ := col.Get("x")
	if got["v"] != 2.0 {
		t.Fatalf("expected incoming field to win, got v=%v", got["v"])
	}
	if got["name"] != "first" {
		t.Fatalf("expected previous field preserved, got name=%v", got["name"])
	}
	if got["thingId"] != "x" {
		t.Fatalf("expected key normalized onto thingId, got %v", got["thingId"])
	}
}

func TestUpsertWithoutIdentifierRejected(t *testing.T) {
	col := NewCollection()
	if _, ok := col.Upsert(Thing{"name": "orphan"}); ok {
		t.Fatal("expected upsert without identifier to be rejected")
	}
	if col.Len() != 0 {
		t.Fatalf("expected empty collection, got %d entries", col.Len())
	}
}

func TestReplaceAllIsAuthoritative(t *testing.T) {
	col := NewCollection()
	col.ReplaceAll([]Thing{
		{"id": "a", "name": "A"},
		{"id": "b", "name": "B"},
		{"id": "c", "name": "C"},
	})
	if col.Len() != 3 {
		t.Fatalf("expected 3 entities, got %d", col.Len())
	}

	created, removed := col.ReplaceAll([]Thing{
		{"id": "a", "name": "A2"},
		{"id": "c", "name": "C"},
	})
	if created != 0 || removed != 1 {
		t.Fatalf("expected created=0 removed=1, got created=%d removed=%d", created, removed)
	}

	if _, ok := col.Get("b"); ok {
		t.Fatal("expected b to be removed by authoritative snapshot")
	}
	a, _ := col.Get("a")
	if a["name"] != "A2" {
		t.Fatalf("expected a to carry latest fields, got %v", a["name"])
	}
	if _, ok := col.Get("c"); !ok {
		t.Fatal("expected c to survive")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	col := NewCollection()
	col.Upsert(Thing{"id": "x"})

	if col.Remove("missing-key") {
		t.Fatal("removing an absent key should report false")
	}
	if col.Len() != 1 {
		t.Fatalf("removing an absent key changed the collection size: %d", col.Len())
	}

	if !col.Remove("x") {
		t.Fatal("expected removal of existing key")
	}
	if col.Remove("x") {
		t.Fatal("second removal should be a no-op")
	}
	if col.Remove(Thing{"name": "no key"}) {
		t.Fatal("removal without usable identifier should be a no-op")
	}
}

func TestRemoveThenAddRecreatesFresh(t *testing.T) {
	col := NewCollection()
	col.Upsert(Thing{"id": "C1", "name": "old", "temperature": 30.0})

	col.Remove("C1")
	if _, ok := col.Get("C1"); ok {
		t.Fatal("expected C1 gone after removal")
	}

	created, _ := col.Upsert(Thing{"id": "C1", "name": "X"})
	if !created {
		t.Fatal("expected recreation to be a create")
	}
	got, _ := col.Get("C1")
	if _, stale := got["temperature"]; stale {
		t.Fatal("recreated entity must not inherit pre-removal fields")
	}
	if got["name"] != "X" {
		t.Fatalf("expected fresh fields, got name=%v", got["name"])
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	col := NewCollection()
	col.Upsert(Thing{"id": "b"})
	col.Upsert(Thing{"id": "a"})

	snap := col.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(snap))
	}
	if snap[0]["thingId"] != "a" || snap[1]["thingId"] != "b" {
		t.Fatalf("expected key-ordered snapshot, got %v", snap)
	}

	snap[0]["mutated"] = true
	got, _ := col.Get("a")
	if _, leaked := got["mutated"]; leaked {
		t.Fatal("snapshot mutation leaked into the collection")
	}
}

func TestCloneThingIsIndependent(t *testing.T) {
	original := Thing{"thingId": "c1", "status": "Charging"}
	clone := CloneThing(original)

	clone["status"] = "Idle"
	clone["extra"] = true

	if original["status"] != "Charging" {
		t.Fatalf("clone mutation leaked, status=%v", original["status"])
	}
	if _, ok := original["extra"]; ok {
		t.Fatal("clone mutation leaked a new field")
	}
}

func TestSessionListReplaceAndCallback(t *testing.T) {
	var observed [][]Thing
	list := NewSessionList(func(sessions []Thing) {
		observed = append(observed, sessions)
	})

	list.Replace([]Thing{{"sessionId": "s1"}, {"sessionId": "s2"}})
	if list.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", list.Len())
	}
	if len(observed) != 1 || len(observed[0]) != 2 {
		t.Fatalf("expected one callback with 2 sessions, got %v", observed)
	}

	list.Replace([]Thing{{"sessionId": "s3"}})
	snap := list.Snapshot()
	if len(snap) != 1 || snap[0]["sessionId"] != "s3" {
		t.Fatalf("expected wholesale replacement, got %v", snap)
	}

	list.Clear()
	if list.Len() != 0 {
		t.Fatal("expected empty list after clear")
	}
	if len(observed) != 2 {
		t.Fatalf("clear must not fire the callback, got %d calls", len(observed))
	}
}
