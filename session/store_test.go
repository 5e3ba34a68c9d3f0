package session

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T, ttl time.Duration) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(ttl)
	t.Cleanup(s.Teardown)
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t, time.Minute)
	sess := Session{
		MeetingID:             "m1",
		CollaborationID:       "collab-1",
		InitiatorConnectionID: "conn-A",
		TenantID:              42,
		RoomID:                "r1",
		AccessMode:            AccessEdit,
		Status:                StatusPending,
	}
	if err := store.Create("m1", sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, version, ok := store.Get("m1")
	if !ok {
		t.Fatalf("Get: no session after Create")
	}
	if version != 1 {
		t.Errorf("Get: version got %d want 1", version)
	}
	if got != sess {
		t.Errorf("Get: got %+v want %+v", got, sess)
	}

	// second Create for the same meeting must be rejected
	if err := store.Create("m1", sess); !errors.Is(err, ErrSessionExists) {
		t.Errorf("second Create: got %v want ErrSessionExists", err)
	}

	store.Remove("m1")
	if _, _, ok := store.Get("m1"); ok {
		t.Errorf("Get after Remove: session still present")
	}
	// removing twice is fine
	store.Remove("m1")
}

func TestStoreReturnsCopies(t *testing.T) {
	store := newTestStore(t, time.Minute)
	sess := Session{MeetingID: "m1", RoomID: "r1", Status: StatusPending}
	if err := store.Create("m1", sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, _, _ := store.Get("m1")
	got.Status = StatusInFile
	got.FileID = "f1"
	again, _, _ := store.Get("m1")
	if again.Status != StatusPending || again.FileID != "" {
		t.Errorf("mutating a returned session leaked into the store: %+v", again)
	}
}

func TestStoreVersionedUpdate(t *testing.T) {
	store := newTestStore(t, time.Minute)
	sess := Session{MeetingID: "m1", RoomID: "r1", Status: StatusPending}
	if err := store.Create("m1", sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, v1, _ := store.Get("m1")
	got.Status = StatusInFile
	got.FileID = "f1"
	if err := store.Update("m1", got, v1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// the stale token must now be rejected
	if err := store.Update("m1", got, v1); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("stale Update: got %v want ErrVersionMismatch", err)
	}
	got2, v2, _ := store.Get("m1")
	if v2 != v1+1 {
		t.Errorf("version after Update: got %d want %d", v2, v1+1)
	}
	if got2.FileID != "f1" || got2.Status != StatusInFile {
		t.Errorf("Update lost fields: %+v", got2)
	}

	if err := store.Update("absent", got, 1); !errors.Is(err, ErrNoSession) {
		t.Errorf("Update on absent meeting: got %v want ErrNoSession", err)
	}
}

func TestStoreConcurrentCreate(t *testing.T) {
	store := newTestStore(t, time.Minute)
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			errs <- store.Create("m1", Session{MeetingID: "m1", RoomID: "r1"})
		}()
	}
	created := 0
	for i := 0; i < 10; i++ {
		if err := <-errs; err == nil {
			created++
		}
	}
	if created != 1 {
		t.Errorf("concurrent Create: %d succeeded, want exactly 1", created)
	}
}

func TestStoreSlidingExpiry(t *testing.T) {
	store := newTestStore(t, 100*time.Millisecond)
	if err := store.Create("m1", Session{MeetingID: "m1", RoomID: "r1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// keep touching within the window; the session must survive well past the
	// original deadline
	for i := 0; i < 4; i++ {
		time.Sleep(50 * time.Millisecond)
		if _, _, ok := store.Get("m1"); !ok {
			t.Fatalf("session expired despite being touched (iteration %d)", i)
		}
	}
	// go idle past the window; the session must be reaped
	time.Sleep(250 * time.Millisecond)
	if _, _, ok := store.Get("m1"); ok {
		t.Errorf("session still present after idling past the TTL")
	}
}
