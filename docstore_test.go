package ecgstore

import (
	"context"
	"testing"
)

func TestDocStore_ETagConflict(t *testing.T) {
	ctx := context.Background()
	store := NewDocStore(NewFilesystemBackend(t.TempDir()))

	key := "exams/doc.json"
	if err := store.PutDoc(ctx, key, map[string]string{"v": "1"}); err != nil {
		t.Fatalf("PutDoc failed: %v", err)
	}

	var doc map[string]string
	etag, err := store.GetDocWithETag(ctx, key, &doc)
	if err != nil {
		t.Fatalf("GetDocWithETag failed: %v", err)
	}
	if etag == "" {
		t.Fatal("empty etag")
	}

	// A write through the current etag succeeds and rotates it
	etag2, err := store.PutDocIfMatch(ctx, key, map[string]string{"v": "2"}, etag)
	if err != nil {
		t.Fatalf("PutDocIfMatch failed: %v", err)
	}
	if etag2 == etag {
		t.Error("etag did not change across write")
	}

	// A write through the stale etag is rejected
	if _, err := store.PutDocIfMatch(ctx, key, map[string]string{"v": "3"}, etag); !IsConflict(err) {
		t.Errorf("stale write = %v, want conflict", err)
	}
}

func TestDocStore_ScanDocs(t *testing.T) {
	ctx := context.Background()
	store := NewDocStore(NewFilesystemBackend(t.TempDir()))
	kb := NewKeyBuilder("exams")

	for _, id := range []string{"a", "b", "c"} {
		if err := store.PutDoc(ctx, kb.Key(id), map[string]string{"id": id}); err != nil {
			t.Fatalf("PutDoc failed: %v", err)
		}
	}
	// Corrupt documents are skipped, not fatal
	if err := store.Backend().Put(ctx, kb.Key("broken"), []byte("{not json")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	seen := map[string]bool{}
	err := store.ScanDocs(ctx, kb, func(id string, doc map[string]interface{}) (bool, error) {
		seen[id] = true
		return true, nil
	})
	if err != nil {
		t.Fatalf("ScanDocs failed: %v", err)
	}
	if len(seen) != 3 || !seen["a"] || !seen["b"] || !seen["c"] {
		t.Errorf("scanned %v", seen)
	}

	// Early stop
	count := 0
	err = store.ScanDocs(ctx, kb, func(string, map[string]interface{}) (bool, error) {
		count++
		return false, nil
	})
	if err != nil {
		t.Fatalf("ScanDocs failed: %v", err)
	}
	if count != 1 {
		t.Errorf("scan visited %d docs after stop, want 1", count)
	}
}

func TestKeyBuilder(t *testing.T) {
	kb := NewKeyBuilder("exams")

	if got := kb.Key("abc"); got != "exams/abc.json" {
		t.Errorf("Key = %q", got)
	}
	if got := kb.ID("exams/abc.json"); got != "abc" {
		t.Errorf("ID = %q", got)
	}
	if got := kb.ID("users/abc.json"); got != "" {
		t.Errorf("foreign key parsed as %q", got)
	}
	if got := kb.ID("exams/abc.meta"); got != "" {
		t.Errorf("non-document key parsed as %q", got)
	}
}
