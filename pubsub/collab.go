package pubsub

// The channel which has Collab* payloads
const ChanCollab = "collabch"

// CollabListener receives every collaboration state change published by the
// hub. The transport layer implements this to fan payloads out to the
// meeting's connection group.
type CollabListener interface {
	OnCollabStarting(p *CollabStarting)
	OnCollabSnapshot(p *CollabSnapshot)
	OnCollabChanging(p *CollabChanging)
	OnCollabQuotaHit(p *CollabQuotaHit)
}

// CollabStarting is informational: someone began provisioning a room for this
// meeting, other participants should show a waiting state.
type CollabStarting struct {
	MeetingID string
}

func (c CollabStarting) Type() string { return "s" }

// CollabSnapshot carries the session state visible to participants.
type CollabSnapshot struct {
	MeetingID string
	RoomID    string
	FileID    string
	Status    string
}

func (c CollabSnapshot) Type() string { return "c" }

// CollabChanging is informational: the initiator is switching documents.
type CollabChanging struct {
	MeetingID string
}

func (c CollabChanging) Type() string { return "g" }

// CollabQuotaHit: a provisioning call was aborted by a tenant quota limit.
type CollabQuotaHit struct {
	MeetingID string
}

func (c CollabQuotaHit) Type() string { return "q" }

type CollabSub struct {
	listener Listener
	receiver CollabListener
}

func NewCollabSub(l Listener, recv CollabListener) *CollabSub {
	return &CollabSub{
		listener: l,
		receiver: recv,
	}
}

func (s *CollabSub) Teardown() {
	s.listener.Close()
}

func (s *CollabSub) onMessage(p Payload) {
	switch p.Type() {
	case CollabStarting{}.Type():
		s.receiver.OnCollabStarting(p.(*CollabStarting))
	case CollabSnapshot{}.Type():
		s.receiver.OnCollabSnapshot(p.(*CollabSnapshot))
	case CollabChanging{}.Type():
		s.receiver.OnCollabChanging(p.(*CollabChanging))
	case CollabQuotaHit{}.Type():
		s.receiver.OnCollabQuotaHit(p.(*CollabQuotaHit))
	}
}

func (s *CollabSub) Listen() error {
	return s.listener.Listen(ChanCollab, s.onMessage)
}
