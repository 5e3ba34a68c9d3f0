package hub

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/pubsub"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/session"
)

type nopWS struct{}

func (nopWS) ReadMessage() (int, []byte, error)      { select {} }
func (nopWS) WriteMessage(mt int, data []byte) error { return nil }
func (nopWS) SetWriteDeadline(t time.Time) error     { return nil }
func (nopWS) SetReadDeadline(t time.Time) error      { return nil }
func (nopWS) SetPongHandler(h func(string) error)    {}
func (nopWS) Close() error                           { return nil }

func newTestConnMap(t *testing.T) *ConnMap {
	t.Helper()
	cm := NewConnMap(false, time.Minute)
	t.Cleanup(cm.Teardown)
	return cm
}

func addConn(cm *ConnMap, user, meeting, connID string) *Conn {
	conn := NewConn(Identity{UserID: user, MeetingID: meeting, ConnectionID: connID}, nopWS{})
	cm.Add(conn)
	return conn
}

// drain pops every frame currently buffered on the connection.
func drain(conn *Conn) []eventFrame {
	var out []eventFrame
	for {
		select {
		case data := <-conn.send:
			var f eventFrame
			json.Unmarshal(data, &f)
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestBroadcastScopedToMeeting(t *testing.T) {
	cm := newTestConnMap(t)
	a := addConn(cm, "u1", "m1", "conn-A")
	b := addConn(cm, "u2", "m1", "conn-B")
	c := addConn(cm, "u3", "m2", "conn-C")
	lobby := addConn(cm, "u4", "", "conn-D")

	cm.Broadcast("m1", EventCollaborationStarting, nil)

	for _, conn := range []*Conn{a, b} {
		frames := drain(conn)
		if len(frames) != 1 || frames[0].Event != EventCollaborationStarting {
			t.Errorf("conn %s: frames %+v", conn.Identity.ConnectionID, frames)
		}
	}
	for _, conn := range []*Conn{c, lobby} {
		if frames := drain(conn); len(frames) != 0 {
			t.Errorf("conn %s got frames for another meeting: %+v", conn.Identity.ConnectionID, frames)
		}
	}
}

func TestRemoveLeavesGroup(t *testing.T) {
	cm := newTestConnMap(t)
	a := addConn(cm, "u1", "m1", "conn-A")
	b := addConn(cm, "u2", "m1", "conn-B")

	cm.Remove(a)
	if cm.Conn("conn-A") != nil {
		t.Errorf("removed connection still resolvable")
	}
	cm.Broadcast("m1", EventCollaborationChanging, nil)
	if frames := drain(b); len(frames) != 1 {
		t.Errorf("remaining conn: frames %+v", frames)
	}
	if frames := drain(a); len(frames) != 0 {
		t.Errorf("removed conn still receives: %+v", frames)
	}
	// Remove closes the connection, not just the registry entry
	if err := a.TrySend([]byte("{}")); !errors.Is(err, ErrClosed) {
		t.Errorf("removed conn not closed: TrySend got %v want ErrClosed", err)
	}
	// removing twice is fine
	cm.Remove(a)
}

func TestBroadcastAfterConnTeardown(t *testing.T) {
	cm := newTestConnMap(t)
	a := addConn(cm, "u1", "m1", "conn-A")
	// the write pump tears the connection down on a write failure while the
	// registry entry may still exist; a broadcast racing that teardown must
	// shed the frame, not panic
	a.Close()
	cm.Broadcast("m1", EventCollaboration, nil)
	cm.SendTo(a, EventCollaboration, nil)
	if err := a.TrySend([]byte("{}")); !errors.Is(err, ErrClosed) {
		t.Errorf("TrySend after teardown: got %v want ErrClosed", err)
	}
	if frames := drain(a); len(frames) != 0 {
		t.Errorf("torn-down conn buffered frames: %+v", frames)
	}
}

func TestCollabListenerFanout(t *testing.T) {
	cm := newTestConnMap(t)
	a := addConn(cm, "u1", "m1", "conn-A")

	cm.OnCollabSnapshot(&pubsub.CollabSnapshot{
		MeetingID: "m1",
		RoomID:    "r1",
		FileID:    "f1",
		Status:    string(session.StatusInFile),
	})
	frames := drain(a)
	if len(frames) != 1 || frames[0].Event != EventCollaboration {
		t.Fatalf("frames: %+v", frames)
	}
	data, _ := json.Marshal(frames[0].Data)
	var snap Snapshot
	json.Unmarshal(data, &snap)
	if snap.RoomID != "r1" || snap.FileID != "f1" || snap.Status != session.StatusInFile {
		t.Errorf("snapshot payload: %+v", snap)
	}

	cm.OnCollabQuotaHit(&pubsub.CollabQuotaHit{MeetingID: "m1"})
	frames = drain(a)
	if len(frames) != 1 || frames[0].Event != EventQuotaHit {
		t.Errorf("quota frames: %+v", frames)
	}
}

func TestBroadcastBackpressure(t *testing.T) {
	cm := newTestConnMap(t)
	a := addConn(cm, "u1", "m1", "conn-A")
	// fill the send buffer; further broadcasts must drop, not block
	for i := 0; i < cap(a.send); i++ {
		if err := a.TrySend([]byte("{}")); err != nil {
			t.Fatalf("TrySend while filling: %v", err)
		}
	}
	done := make(chan struct{})
	go func() {
		cm.Broadcast("m1", EventCollaboration, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Broadcast blocked on a slow connection")
	}
}
