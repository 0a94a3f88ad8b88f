package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	blobs := NewBlobStore()
	payload := []byte(`{"version":1}`)
	uri, err := blobs.PutObject(context.Background(), "blueprints/s1/v1.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://blueprints/s1/v1.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = '['
	stored, contentType, ok := blobs.Object("blueprints/s1/v1.json")
	if !ok || string(stored) != `{"version":1}` {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if contentType != "application/json" {
		t.Fatalf("unexpected content type %q", contentType)
	}
	if _, err := blobs.PutObject(context.Background(), " ", "", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error for empty path")
	}
}
