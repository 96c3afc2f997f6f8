package ecgstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(NewFilesystemBackend(t.TempDir()), nil)

	content := []byte("fake ecg recording bytes")
	info, err := fs.Upload(ctx, "recording.png", "image/png", int64(len(content)),
		bytes.NewReader(content), map[string]string{"examId": "x"})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if info.ID == "" || info.Filename != "recording.png" {
		t.Fatalf("descriptor = %+v", info)
	}

	got, rc, err := fs.Download(ctx, info.ID)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("content mismatch after round trip")
	}
	if got.ContentType != "image/png" || got.Metadata["examId"] != "x" {
		t.Errorf("descriptor after round trip = %+v", got)
	}
}

func TestFileStore_UpdateMetadataAndDelete(t *testing.T) {
	ctx := context.Background()
	fs := NewFileStore(NewFilesystemBackend(t.TempDir()), nil)

	info, err := fs.Upload(ctx, "r.png", "image/png", 4, strings.NewReader("abcd"), nil)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	updated, err := fs.UpdateMetadata(ctx, info.ID, map[string]string{"reviewed": "true"})
	if err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}
	if updated.Metadata["reviewed"] != "true" {
		t.Errorf("metadata = %v", updated.Metadata)
	}

	if err := fs.Delete(ctx, info.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := fs.Stat(ctx, info.ID); !IsNotFound(err) {
		t.Errorf("Stat after delete = %v, want ErrNotFound", err)
	}
	if err := fs.Delete(ctx, info.ID); !IsNotFound(err) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestExamService_ImageLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newExamService(t)

	content := []byte("recording")
	created, err := svc.CreateWithImage(ctx, testExam(1.0),
		"trace.png", "image/png", int64(len(content)), bytes.NewReader(content))
	if err != nil {
		t.Fatalf("CreateWithImage failed: %v", err)
	}
	if created.ImageID == "" || created.ImageURL == "" {
		t.Fatalf("image not linked: %+v", created)
	}

	info, rc, err := svc.DownloadImage(ctx, created.ID)
	if err != nil {
		t.Fatalf("DownloadImage failed: %v", err)
	}
	rc.Close()
	if info.Filename != "trace.png" {
		t.Errorf("descriptor = %+v", info)
	}

	// Hard delete removes the recording with the exam
	if _, err := svc.HardDelete(ctx, created.ID); err != nil {
		t.Fatalf("HardDelete failed: %v", err)
	}
	if _, err := svc.Files().Stat(ctx, created.ImageID); !IsNotFound(err) {
		t.Errorf("recording survived exam hard delete: %v", err)
	}
}

func TestExamService_ImageCleanupOnFailedCreate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newExamService(t)

	// Missing examDate fails validation after the upload
	bad := &Exam{Report: "no date"}
	_, err := svc.CreateWithImage(ctx, bad, "t.png", "image/png", 1, strings.NewReader("x"))
	if !IsValidation(err) {
		t.Fatalf("CreateWithImage = %v, want validation error", err)
	}

	// No orphaned content remains
	keys, err := svc.Repository().Store().Backend().List(ctx, "files/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("orphaned attachment objects: %v", keys)
	}
}

func TestAuditLog_RecordAndReadDay(t *testing.T) {
	ctx := context.Background()
	backend := NewFilesystemBackend(t.TempDir())
	audit := NewAuditLog(backend, nil)

	for _, op := range []string{"create", "update", "delete"} {
		audit.Record(ctx, AuditEntry{Op: op, Entity: "exams", EntityID: "some-id"})
	}

	entries, err := audit.ReadDay(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ReadDay failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("ReadDay returned %d entries, want 3", len(entries))
	}
	for i, op := range []string{"create", "update", "delete"} {
		if entries[i].Op != op {
			t.Errorf("entry %d op = %q, want %q", i, entries[i].Op, op)
		}
		if entries[i].ID == "" || entries[i].At.IsZero() {
			t.Errorf("entry %d missing id or timestamp: %+v", i, entries[i])
		}
	}

	// A day with no activity reads back empty
	empty, err := audit.ReadDay(ctx, time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("ReadDay failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty day returned %d entries", len(empty))
	}
}
