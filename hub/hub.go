package hub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/archive"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/directory"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/docspace"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/internal"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/pubsub"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/session"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Identity is the immutable authenticated context of one live connection,
// established once at connection time. Authorization decisions are pure
// functions of (Identity, Session).
type Identity struct {
	// end-user id within the conferencing host (uid claim)
	UserID string
	// meeting-id claim; empty when connecting outside a meeting
	MeetingID string
	// assigned by the transport at upgrade time, unique per connection
	ConnectionID string
}

// AccountResolver maps a conferencing-host user to their linked portal
// account. Implemented by directory.AccountsTable.
type AccountResolver interface {
	Account(zoomUID string) (*directory.Account, error)
}

// Archiver receives finished collaborations for background backup.
// Implemented by archive.Worker.
type Archiver interface {
	Enqueue(job archive.Job)
}

// ChangePayload selects the document for a collaboration. A negative numeric
// FileID means "create a new file with Title"; an existing file outside the
// session's room is copied in.
type ChangePayload struct {
	FileID     string             `json:"fileId"`
	Title      string             `json:"title"`
	AccessMode session.AccessMode `json:"accessMode"`
}

// Snapshot is the session state broadcast to participants.
type Snapshot struct {
	RoomID string         `json:"roomId"`
	FileID string         `json:"fileId,omitempty"`
	Status session.Status `json:"status"`
}

// Hub owns the collaboration session lifecycle for all meetings. It validates
// transitions, guards mutation to the initiating connection, and publishes
// every state change so the transport can fan it out to the meeting's group.
type Hub struct {
	Store    session.Store
	DocSpace docspace.Client
	Accounts AccountResolver
	Archiver Archiver
	Notifier pubsub.Notifier
}

func NewHub(store session.Store, ds docspace.Client, accounts AccountResolver, archiver Archiver, notifier pubsub.Notifier) *Hub {
	return &Hub{
		Store:    store,
		DocSpace: ds,
		Accounts: accounts,
		Archiver: archiver,
		Notifier: notifier,
	}
}

func (h *Hub) notify(ctx context.Context, p pubsub.Payload) {
	if err := h.Notifier.Notify(pubsub.ChanCollab, p); err != nil {
		internal.DecorateLogger(ctx, logger.Error().Err(err)).Str("payload", p.Type()).Msg("failed to publish collab payload")
	}
}

// CheckIfUser reports whether the caller's linked portal account has the
// restricted (view-only) role. Unlinked callers count as restricted.
func (h *Hub) CheckIfUser(ctx context.Context, id Identity) (bool, error) {
	acc, err := h.Accounts.Account(id.UserID)
	if err != nil {
		if errors.Is(err, directory.ErrNotLinked) {
			return true, nil
		}
		return false, err
	}
	return acc.IsGuest, nil
}

// CheckCollaboration reports whether a collaboration is active for the
// caller's meeting. Used by joining participants to decide between joining
// and starting fresh.
func (h *Hub) CheckCollaboration(ctx context.Context, id Identity) bool {
	_, _, ok := h.Store.Get(id.MeetingID)
	return ok
}

// GetCollaboration returns the current snapshot for the caller's meeting.
// "No session" is a valid result, not an error.
func (h *Hub) GetCollaboration(ctx context.Context, id Identity) (*Snapshot, bool) {
	sess, _, ok := h.Store.Get(id.MeetingID)
	if !ok {
		return nil, false
	}
	return snapshotOf(sess), true
}

// CheckRights re-applies the caller's own access grant for the session's room
// based on the current access mode. Idempotent; any participant may call it to
// re-sync their permission. Failures are logged, never raised.
func (h *Hub) CheckRights(ctx context.Context, id Identity) bool {
	sess, _, ok := h.Store.Get(id.MeetingID)
	if !ok || sess.RoomID == "" {
		return true
	}
	acc, err := h.Accounts.Account(id.UserID)
	if err != nil {
		internal.DecorateLogger(ctx, logger.Warn().Err(err)).Msg("CheckRights: failed to resolve account")
		return false
	}
	if err := h.grantAccess(ctx, acc, sess); err != nil {
		internal.DecorateLogger(ctx, logger.Warn().Err(err)).Msg("CheckRights: failed to set room access")
		return false
	}
	return true
}

func (h *Hub) grantAccess(ctx context.Context, acc *directory.Account, sess session.Session) error {
	access := docspace.AccessRead
	if sess.AccessMode == session.AccessEdit {
		access = docspace.AccessEditing
	}
	return h.DocSpace.SetRoomAccess(ctx, acc.AccessToken, sess.RoomID, acc.PortalUserID, access)
}

// CollaborateStart provisions a room and creates the session for the caller's
// meeting. The caller's connection becomes the initiator. On tenant quota
// exhaustion the quota notice is broadcast, nothing is persisted and no error
// is returned; any other provisioning failure is fatal to the call and leaves
// no partial session behind.
func (h *Hub) CollaborateStart(ctx context.Context, id Identity, collaborationID string, p ChangePayload) error {
	ctx, span := internal.StartSpan(ctx, "CollaborateStart")
	defer span.End()

	if collaborationID == "" {
		return &internal.PreconditionError{Reason: "collaborationId is required"}
	}
	if _, _, ok := h.Store.Get(id.MeetingID); ok {
		return &internal.PreconditionError{Reason: "a collaboration is already active for this meeting"}
	}

	// let the rest of the meeting know a room is being set up
	h.notify(ctx, &pubsub.CollabStarting{MeetingID: id.MeetingID})

	acc, err := h.Accounts.Account(id.UserID)
	if err != nil {
		return fmt.Errorf("CollaborateStart: resolve account: %w", err)
	}

	title := "Zoom Collaboration " + time.Now().UTC().Format("2006-01-02 15:04")
	roomID, err := h.DocSpace.CreateRoom(ctx, acc.AccessToken, title)
	if err != nil {
		if isQuota(err) {
			h.notify(ctx, &pubsub.CollabQuotaHit{MeetingID: id.MeetingID})
			return nil
		}
		return fmt.Errorf("CollaborateStart: create room: %w", err)
	}

	mode := p.AccessMode
	if mode == "" {
		mode = session.AccessEdit
	}
	sess := session.Session{
		MeetingID:             id.MeetingID,
		CollaborationID:       collaborationID,
		InitiatorConnectionID: id.ConnectionID,
		TenantID:              acc.TenantID,
		RoomID:                roomID,
		AccessMode:            mode,
		Status:                session.StatusPending,
	}

	// grant failures abort here: a session whose initiator cannot enter the
	// room is useless
	if err := h.grantAccess(ctx, acc, sess); err != nil {
		if isQuota(err) {
			h.notify(ctx, &pubsub.CollabQuotaHit{MeetingID: id.MeetingID})
			return nil
		}
		return fmt.Errorf("CollaborateStart: grant initiator access: %w", err)
	}

	if err := h.Store.Create(id.MeetingID, sess); err != nil {
		// lost a race with a concurrent Start; the provisioned room stays in
		// the portal for the winner's archival sweep to ignore
		return &internal.PreconditionError{Reason: "a collaboration is already active for this meeting"}
	}
	h.notify(ctx, snapshotPayload(sess))

	if p.FileID != "" {
		return h.CollaborateChange(ctx, id, p)
	}
	return nil
}

// CollaborateChanging flags the session as switching documents: status drops
// back to Pending and the file detaches. Initiator only.
func (h *Hub) CollaborateChanging(ctx context.Context, id Identity) error {
	ctx, span := internal.StartSpan(ctx, "CollaborateChanging")
	defer span.End()

	sess, version, ok := h.Store.Get(id.MeetingID)
	if !ok {
		return &internal.PreconditionError{Reason: "no active collaboration"}
	}
	if err := requireInitiator(id, sess); err != nil {
		return err
	}
	sess.Status = session.StatusPending
	sess.FileID = ""
	if err := h.Store.Update(id.MeetingID, sess, version); err != nil {
		return fmt.Errorf("CollaborateChanging: %w", err)
	}
	h.notify(ctx, &pubsub.CollabChanging{MeetingID: id.MeetingID})
	return nil
}

// CollaborateChange attaches a document to the session and moves it to
// InFile. Initiator only. A negative fileId creates a new document named
// Title inside the room; an existing document outside the room is copied in.
func (h *Hub) CollaborateChange(ctx context.Context, id Identity, p ChangePayload) error {
	ctx, span := internal.StartSpan(ctx, "CollaborateChange")
	defer span.End()

	if p.FileID == "" {
		return &internal.PreconditionError{Reason: "fileId is required"}
	}
	sess, version, ok := h.Store.Get(id.MeetingID)
	if !ok {
		return &internal.PreconditionError{Reason: "no active collaboration"}
	}
	if err := requireInitiator(id, sess); err != nil {
		return err
	}

	acc, err := h.Accounts.Account(id.UserID)
	if err != nil {
		return fmt.Errorf("CollaborateChange: resolve account: %w", err)
	}

	fileID, err := h.resolveFile(ctx, acc.AccessToken, sess.RoomID, p)
	if err != nil {
		if isQuota(err) {
			h.notify(ctx, &pubsub.CollabQuotaHit{MeetingID: id.MeetingID})
			return nil
		}
		return err
	}

	sess.FileID = fileID
	sess.Status = session.StatusInFile
	if p.AccessMode != "" {
		sess.AccessMode = p.AccessMode
	}
	internal.Assert("InFile session has a room", sess.RoomID != "")
	if err := h.Store.Update(id.MeetingID, sess, version); err != nil {
		return fmt.Errorf("CollaborateChange: %w", err)
	}
	h.notify(ctx, snapshotPayload(sess))
	return nil
}

// resolveFile returns the id of the document to collaborate on, provisioning
// or copying as needed so the document always lives inside the room.
func (h *Hub) resolveFile(ctx context.Context, accessToken, roomID string, p ChangePayload) (string, error) {
	if n, err := strconv.Atoi(p.FileID); err == nil && n < 0 {
		if p.Title == "" {
			return "", &internal.PreconditionError{Reason: "title is required for a new file"}
		}
		fileID, err := h.DocSpace.CreateFile(ctx, accessToken, roomID, p.Title)
		if err != nil {
			return "", fmt.Errorf("create file: %w", err)
		}
		return fileID, nil
	}
	fi, err := h.DocSpace.GetFile(ctx, accessToken, p.FileID)
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	if fi.FolderID == roomID {
		return fi.ID, nil
	}
	fileID, err := h.DocSpace.CopyFileToRoom(ctx, accessToken, fi.ID, roomID)
	if err != nil {
		return "", fmt.Errorf("copy file into room: %w", err)
	}
	return fileID, nil
}

// CollaborateEnd removes the session and hands the room off for background
// backup. Initiator only. Session removal never fails because of archival;
// the worker logs its own failures.
func (h *Hub) CollaborateEnd(ctx context.Context, id Identity) error {
	ctx, span := internal.StartSpan(ctx, "CollaborateEnd")
	defer span.End()

	sess, _, ok := h.Store.Get(id.MeetingID)
	if !ok {
		return &internal.PreconditionError{Reason: "no active collaboration"}
	}
	if err := requireInitiator(id, sess); err != nil {
		return err
	}
	h.Store.Remove(id.MeetingID)

	if acc, err := h.Accounts.Account(id.UserID); err == nil {
		h.Archiver.Enqueue(archive.Job{
			MeetingID:   id.MeetingID,
			RoomID:      sess.RoomID,
			TenantID:    sess.TenantID,
			AccessToken: acc.AccessToken,
		})
	} else {
		internal.DecorateLogger(ctx, logger.Error().Err(err)).Msg("CollaborateEnd: cannot resolve account for backup, skipping")
	}
	return nil
}

func requireInitiator(id Identity, sess session.Session) error {
	if id.ConnectionID != sess.InitiatorConnectionID {
		return &internal.UnauthorizedError{Reason: "not the collaboration initiator"}
	}
	return nil
}

func isQuota(err error) bool {
	var qe *internal.QuotaExceededError
	return errors.As(err, &qe)
}

func snapshotOf(sess session.Session) *Snapshot {
	return &Snapshot{
		RoomID: sess.RoomID,
		FileID: sess.FileID,
		Status: sess.Status,
	}
}

func snapshotPayload(sess session.Session) *pubsub.CollabSnapshot {
	return &pubsub.CollabSnapshot{
		MeetingID: sess.MeetingID,
		RoomID:    sess.RoomID,
		FileID:    sess.FileID,
		Status:    string(sess.Status),
	}
}
