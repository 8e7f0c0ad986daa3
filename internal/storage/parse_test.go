package storage

import (
	"context"
	"testing"
)

func TestNewDB_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := NewDB(context.Background(), Config{URL: "://not-a-url"})
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}
