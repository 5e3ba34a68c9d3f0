package pubsub

import (
	"sync"
	"testing"
	"time"
)

// records typed dispatches from CollabSub
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) OnCollabStarting(p *CollabStarting) { r.record("starting:" + p.MeetingID) }
func (r *recorder) OnCollabSnapshot(p *CollabSnapshot) { r.record("snapshot:" + p.MeetingID) }
func (r *recorder) OnCollabChanging(p *CollabChanging) { r.record("changing:" + p.MeetingID) }
func (r *recorder) OnCollabQuotaHit(p *CollabQuotaHit) { r.record("quota:" + p.MeetingID) }

func TestCollabSubDispatch(t *testing.T) {
	ps := NewPubSub(10)
	rec := &recorder{}
	sub := NewCollabSub(ps, rec)
	listening := make(chan struct{})
	go func() {
		close(listening)
		sub.Listen()
	}()
	<-listening

	payloads := []Payload{
		&CollabStarting{MeetingID: "m1"},
		&CollabSnapshot{MeetingID: "m1", RoomID: "r1", Status: "pending"},
		&CollabChanging{MeetingID: "m1"},
		&CollabQuotaHit{MeetingID: "m1"},
	}
	for _, p := range payloads {
		if err := ps.Notify(ChanCollab, p); err != nil {
			t.Fatalf("Notify(%s): %v", p.Type(), err)
		}
	}

	want := []string{"starting:m1", "snapshot:m1", "changing:m1", "quota:m1"}
	deadline := time.After(2 * time.Second)
	for {
		got := rec.snapshot()
		if len(got) == len(want) {
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("dispatches: got %v want %v", got, want)
				}
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("dispatches never arrived: got %v want %v", rec.snapshot(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
	sub.Teardown()
}

func TestNotifyAfterClose(t *testing.T) {
	ps := NewPubSub(1)
	if err := ps.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// closing twice is fine
	if err := ps.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := ps.Notify(ChanCollab, &CollabStarting{MeetingID: "m1"}); err == nil {
		t.Errorf("Notify after Close must fail")
	}
}

func TestCloseStopsListen(t *testing.T) {
	ps := NewPubSub(1)
	done := make(chan error, 1)
	go func() {
		done <- ps.Listen(ChanCollab, func(p Payload) {})
	}()
	ps.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen after Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Listen did not return after Close")
	}
}
