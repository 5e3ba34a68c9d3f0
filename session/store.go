package session

import (
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL is the sliding expiry window for cached sessions. A collaboration
// idle for this long is considered abandoned and reaped without an explicit
// End.
const DefaultTTL = 20 * time.Minute

var (
	ErrNoSession       = errors.New("no session for this meeting")
	ErrSessionExists   = errors.New("a collaboration is already active for this meeting")
	ErrVersionMismatch = errors.New("session was modified concurrently")
)

// Store is the narrow key-value contract the hub needs. Every read returns a
// version token; writes carry the token back and fail with ErrVersionMismatch
// if the record changed in between, closing the read-modify-write race between
// overlapping initiator calls.
type Store interface {
	// Get returns a copy of the session for this meeting plus its version
	// token, or ok=false when no collaboration is active. Reading resets the
	// sliding expiry.
	Get(meetingID string) (s Session, version int64, ok bool)
	// Create stores a brand new session. Returns ErrSessionExists if one is
	// already active for the meeting.
	Create(meetingID string, s Session) error
	// Update overwrites the session iff version still matches the stored
	// record. Returns ErrNoSession or ErrVersionMismatch otherwise.
	Update(meetingID string, s Session, version int64) error
	// Remove deletes the session. Removing an absent session is not an error.
	Remove(meetingID string)
}

type entry struct {
	session Session
	version int64
}

// MemoryStore keeps sessions in a TTL cache with sliding expiration: every
// read and write pushes the expiry out by the full window.
type MemoryStore struct {
	cache *ttlcache.Cache[string, entry]
	// serialises Create's check-then-set; the cache itself is already
	// goroutine-safe but has no put-if-absent
	mu sync.Mutex
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		cache: ttlcache.New[string, entry](
			ttlcache.WithTTL[string, entry](ttl),
		),
	}
	go s.cache.Start() // expiry janitor
	return s
}

func cacheKey(meetingID string) string {
	return "zoom-collab-" + meetingID
}

func (m *MemoryStore) Get(meetingID string) (Session, int64, bool) {
	item := m.cache.Get(cacheKey(meetingID)) // touch extends the TTL
	if item == nil {
		return Session{}, 0, false
	}
	e := item.Value()
	return e.session, e.version, true
}

func (m *MemoryStore) Create(meetingID string, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache.Has(cacheKey(meetingID)) {
		return ErrSessionExists
	}
	m.cache.Set(cacheKey(meetingID), entry{session: s, version: 1}, ttlcache.DefaultTTL)
	return nil
}

func (m *MemoryStore) Update(meetingID string, s Session, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.cache.Get(cacheKey(meetingID))
	if item == nil {
		return ErrNoSession
	}
	e := item.Value()
	if e.version != version {
		return ErrVersionMismatch
	}
	m.cache.Set(cacheKey(meetingID), entry{session: s, version: version + 1}, ttlcache.DefaultTTL)
	return nil
}

func (m *MemoryStore) Remove(meetingID string) {
	m.cache.Delete(cacheKey(meetingID))
}

// Len returns the number of live sessions, used for the active sessions gauge.
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

// Teardown stops the expiry janitor. Used in tests.
func (m *MemoryStore) Teardown() {
	m.cache.Stop()
}
