package recordstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cortexdata/cortex/internal/domain"
)

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := domain.ExecutionRecord{ExecutionID: "e1", Status: domain.StatusPending, CreatedAt: time.Now()}

	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put() = %v", err)
	}
	got, err := s.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("Status = %v, want %v", got.Status, domain.StatusPending)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUpdateStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec := domain.ExecutionRecord{ExecutionID: "e1", Status: domain.StatusPending, CreatedAt: time.Now()}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	stdout := "hello"
	elapsed := int64(42)
	if err := s.UpdateStatus(ctx, "e1", StatusUpdate{
		Status: domain.StatusSuccess, Stdout: &stdout, ElapsedMs: &elapsed,
	}); err != nil {
		t.Fatalf("UpdateStatus() = %v", err)
	}

	got, err := s.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if got.Status != domain.StatusSuccess || got.Stdout != "hello" || *got.ElapsedMs != 42 {
		t.Fatalf("unexpected record after update: %+v", got)
	}
}

func TestMemoryStoreUpdateStatusMissing(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateStatus(context.Background(), "missing", StatusUpdate{Status: domain.StatusFailed})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateStatus() = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListBySessionOrdersNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		rec := domain.ExecutionRecord{
			ExecutionID: id, SessionID: "sess1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put() = %v", err)
		}
	}
	if err := s.Put(ctx, domain.ExecutionRecord{ExecutionID: "other", SessionID: "sess2", CreatedAt: base}); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	got, err := s.ListBySession(ctx, "sess1", 0)
	if err != nil {
		t.Fatalf("ListBySession() = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	if got[0].ExecutionID != "c" {
		t.Fatalf("got[0].ExecutionID = %q, want newest-first order", got[0].ExecutionID)
	}
}

func TestMemoryStoreListBySessionRespectsLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		rec := domain.ExecutionRecord{ExecutionID: id, SessionID: "sess1", CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put() = %v", err)
		}
	}
	got, err := s.ListBySession(ctx, "sess1", 2)
	if err != nil {
		t.Fatalf("ListBySession() = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}
