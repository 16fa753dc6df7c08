package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	body := []byte(`{"ok":true}`)
	if err := m.Put(ctx, "a/b.json", body, "application/json"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	body[0] = 'X'

	got, err := m.Get(ctx, "a/b.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"ok":true}` {
		t.Errorf("Get returned %q, store should keep its own copy", got)
	}
	if m.ContentType("a/b.json") != "application/json" {
		t.Errorf("ContentType = %q", m.ContentType("a/b.json"))
	}

	if err := m.Delete(ctx, "a/b.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(ctx, "a/b.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := m.Delete(ctx, "missing"); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

func TestKeys(t *testing.T) {
	tenant := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	job := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	if got := BackupKey(tenant, job); got != "backups/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222.json" {
		t.Errorf("BackupKey = %q", got)
	}
	if got := ExportKey(tenant, job, "csv"); got != "exports/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222.csv" {
		t.Errorf("ExportKey = %q", got)
	}
}

func TestS3Config_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     S3Config
		wantErr bool
	}{
		{"valid", S3Config{Bucket: "aegis"}, false},
		{"valid with endpoint", S3Config{Bucket: "aegis", Endpoint: "http://minio:9000", AccessKeyID: "k", SecretAccessKey: "s"}, false},
		{"missing bucket", S3Config{}, true},
		{"half credentials", S3Config{Bucket: "aegis", AccessKeyID: "k"}, true},
		{"bad endpoint", S3Config{Bucket: "aegis", Endpoint: "minio:9000"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
