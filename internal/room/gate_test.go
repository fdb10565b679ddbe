package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAdmit(t *testing.T) {
	store, track := newTestStore(t, 60*time.Second)
	gate := NewGate(store.Client())
	ctx := context.Background()

	rm, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	track(rm.ID)

	first, err := gate.Admit(ctx, rm.ID, "")
	if err != nil {
		t.Fatalf("first Admit() error: %v", err)
	}
	if first == "" {
		t.Fatal("expected a minted token")
	}

	second, err := gate.Admit(ctx, rm.ID, "")
	if err != nil {
		t.Fatalf("second Admit() error: %v", err)
	}
	if second == first {
		t.Fatal("second admission should mint a distinct token")
	}

	if _, err := gate.Admit(ctx, rm.ID, ""); !errors.Is(err, ErrRoomFull) {
		t.Errorf("third Admit(): expected ErrRoomFull, got %v", err)
	}

	got, err := store.Get(ctx, rm.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(got.Connected) != MaxMembers {
		t.Errorf("expected %d members, got %v", MaxMembers, got.Connected)
	}
	if !got.IsMember(first) || !got.IsMember(second) {
		t.Errorf("admitted tokens missing from member set %v", got.Connected)
	}
}

func TestAdmit_Reentry(t *testing.T) {
	store, track := newTestStore(t, 60*time.Second)
	gate := NewGate(store.Client())
	ctx := context.Background()

	rm, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	track(rm.ID)

	token, err := gate.Admit(ctx, rm.ID, "")
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	if _, err := gate.Admit(ctx, rm.ID, ""); err != nil {
		t.Fatalf("Admit() error: %v", err)
	}

	// Re-presenting an admitted token succeeds even though the room is full.
	again, err := gate.Admit(ctx, rm.ID, token)
	if err != nil {
		t.Fatalf("re-entry Admit() error: %v", err)
	}
	if again != token {
		t.Errorf("re-entry returned %q, want %q", again, token)
	}

	got, _ := store.Get(ctx, rm.ID)
	if len(got.Connected) != MaxMembers {
		t.Errorf("re-entry must not grow the member set: %v", got.Connected)
	}
}

func TestAdmit_MissingRoom(t *testing.T) {
	store, _ := newTestStore(t, 60*time.Second)
	gate := NewGate(store.Client())

	_, err := gate.Admit(context.Background(), "no-such-room", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestAdmit_Concurrent drives N simultaneous admissions at a fresh room and
// verifies that exactly MaxMembers succeed with distinct tokens while the
// rest fail with ErrRoomFull.
func TestAdmit_Concurrent(t *testing.T) {
	store, track := newTestStore(t, 60*time.Second)
	gate := NewGate(store.Client())
	ctx := context.Background()

	rm, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	track(rm.ID)

	const n = 8
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = gate.Admit(ctx, rm.ID, "")
		}(i)
	}
	wg.Wait()

	admitted := map[string]bool{}
	full := 0
	for i := 0; i < n; i++ {
		switch {
		case errs[i] == nil:
			admitted[tokens[i]] = true
		case errors.Is(errs[i], ErrRoomFull):
			full++
		default:
			t.Errorf("admission %d: unexpected error %v", i, errs[i])
		}
	}

	if len(admitted) != MaxMembers {
		t.Errorf("expected %d distinct admitted tokens, got %d", MaxMembers, len(admitted))
	}
	if full != n-MaxMembers {
		t.Errorf("expected %d ErrRoomFull, got %d", n-MaxMembers, full)
	}

	got, err := store.Get(ctx, rm.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(got.Connected) != MaxMembers {
		t.Errorf("member set exceeded cap under concurrency: %v", got.Connected)
	}
}
