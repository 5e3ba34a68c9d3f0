package session

// Status tracks where a collaboration is in its lifecycle. A session is
// created as Pending (room provisioned, no document yet), becomes InFile once
// a document is attached, and may drop back to Pending while the initiator
// switches documents.
type Status string

const (
	StatusPending Status = "pending"
	StatusInRoom  Status = "inroom"
	StatusInFile  Status = "infile"
)

// AccessMode is the access level granted to joining participants.
type AccessMode string

const (
	AccessEdit AccessMode = "edit"
	AccessView AccessMode = "view"
)

// Session is the cached state of one meeting's collaboration. At most one
// exists per meeting. Sessions are passed by value through the store so a
// caller can never mutate cached state without an explicit write.
type Session struct {
	MeetingID       string `json:"meetingId"`
	CollaborationID string `json:"collaborationId"`

	// The real-time connection that started the collaboration. This is the
	// sole authority allowed to mutate or end the session: authority is bound
	// to the connection, not the user, because one user may hold several
	// simultaneous connections and only the initiating one drives state.
	InitiatorConnectionID string `json:"initiatorConnectionId"`

	TenantID   int        `json:"tenantId"`
	RoomID     string     `json:"roomId"`
	FileID     string     `json:"fileId,omitempty"`
	AccessMode AccessMode `json:"accessMode"`
	Status     Status     `json:"status"`
}
