package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPendingActionStore_DeleteExpired(t *testing.T) {
	s := NewMemoryPendingActionStore()
	ctx := context.Background()

	if err := s.Set(ctx, &PendingActionRow{UserID: "u1", ExpiresAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("set u1: %v", err)
	}
	if err := s.Set(ctx, &PendingActionRow{UserID: "u2", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("set u2: %v", err)
	}

	n, err := s.DeleteExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired row removed, got %d", n)
	}

	if _, err := s.Get(ctx, "u1"); err != ErrNotFound {
		t.Errorf("expected u1 to be gone, got err=%v", err)
	}
	if _, err := s.Get(ctx, "u2"); err != nil {
		t.Errorf("expected u2 to remain live, got err=%v", err)
	}
}

func TestMemoryPendingActionStore_GetLazyExpiry(t *testing.T) {
	s := NewMemoryPendingActionStore()
	ctx := context.Background()
	_ = s.Set(ctx, &PendingActionRow{UserID: "u1", ExpiresAt: time.Now().Add(-time.Second)})

	if _, err := s.Get(ctx, "u1"); err != ErrNotFound {
		t.Errorf("expected expired entry to read as not found, got %v", err)
	}
}
