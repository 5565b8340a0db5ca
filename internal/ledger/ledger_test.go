package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T, capacity int) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "processed_emails.json")
	l, err := Open(path, capacity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l, path
}

func readIDs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	return ids
}

func TestRecordAndContains(t *testing.T) {
	l, path := openTemp(t, DefaultCapacity)

	if l.Contains("m1") {
		t.Fatalf("empty ledger must not contain m1")
	}
	if err := l.Record("m1"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !l.Contains("m1") {
		t.Fatalf("m1 not recorded")
	}

	reopened, err := Open(path, DefaultCapacity)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.Contains("m1") {
		t.Fatalf("m1 not persisted")
	}
}

func TestRecordIsIdempotent(t *testing.T) {
	l, path := openTemp(t, DefaultCapacity)

	for i := 0; i < 3; i++ {
		if err := l.Record("same"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if got := readIDs(t, path); len(got) != 1 {
		t.Fatalf("persisted %v, want a single entry", got)
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestRecordEvictsOldest(t *testing.T) {
	l, path := openTemp(t, DefaultCapacity)

	for i := 0; i <= DefaultCapacity; i++ {
		if err := l.Record(fmt.Sprintf("msg-%04d", i)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	ids := readIDs(t, path)
	if len(ids) != DefaultCapacity {
		t.Fatalf("persisted %d ids, want %d", len(ids), DefaultCapacity)
	}
	if l.Contains("msg-0000") {
		t.Errorf("oldest id was not evicted")
	}
	if ids[0] != "msg-0001" || ids[len(ids)-1] != fmt.Sprintf("msg-%04d", DefaultCapacity) {
		t.Errorf("unexpected order: first=%s last=%s", ids[0], ids[len(ids)-1])
	}
}

func TestCorruptedFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_emails.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("Len = %d, want 0", l.Len())
	}

	if err := l.Record("fresh"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got := readIDs(t, path); len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("persisted %v, want [fresh]", got)
	}
}

func TestRecordKeepsExternalEntries(t *testing.T) {
	l, path := openTemp(t, 5)

	// Another run wrote an entry after this ledger was opened.
	if err := os.WriteFile(path, []byte(`["external"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Record("local"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got := readIDs(t, path)
	if len(got) != 2 || got[0] != "external" || got[1] != "local" {
		t.Fatalf("persisted %v", got)
	}
	if !l.Contains("external") {
		t.Errorf("reloaded entry not visible through Contains")
	}
}
