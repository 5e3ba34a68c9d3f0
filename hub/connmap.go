package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/pubsub"
	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/session"
)

// Server to client event names. These mirror what the web client listens for.
const (
	EventCollaborationStarting = "OnCollaborationStarting"
	EventCollaboration         = "OnCollaboration"
	EventCollaborationChanging = "OnCollaborationChanging"
	EventQuotaHit              = "OnQuotaHit"
)

type eventFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ConnMap tracks live connections and their per-meeting multicast groups.
// Connections normally leave on disconnect; the TTL is a safety net that
// evicts entries whose teardown never ran, closing the socket as it goes.
// ConnMap implements pubsub.CollabListener: collaboration payloads fan out to
// every connection in the payload's meeting group.
type ConnMap struct {
	cache *ttlcache.Cache[string, *Conn]

	// map of meeting_id to connections in that meeting's group
	meetingToConns map[string][]*Conn

	mu *sync.Mutex

	connsGauge prometheus.Gauge
}

func NewConnMap(enablePrometheus bool, ttl time.Duration) *ConnMap {
	cm := &ConnMap{
		cache:          ttlcache.New(ttlcache.WithTTL[string, *Conn](ttl)),
		meetingToConns: make(map[string][]*Conn),
		mu:             &sync.Mutex{},
	}
	cm.cache.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *Conn]) {
		cm.dropConn(item.Value())
	})
	go cm.cache.Start()

	if enablePrometheus {
		cm.connsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zoomsvc",
			Subsystem: "hub",
			Name:      "num_active_conns",
			Help:      "Number of active hub connections",
		})
		prometheus.MustRegister(cm.connsGauge)
	}
	return cm
}

// Add registers the connection and, when it carries a meeting claim, joins it
// to that meeting's group.
func (m *ConnMap) Add(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Set(conn.Identity.ConnectionID, conn, ttlcache.DefaultTTL)
	if mid := conn.Identity.MeetingID; mid != "" {
		m.meetingToConns[mid] = append(m.meetingToConns[mid], conn)
	}
	if m.connsGauge != nil {
		m.connsGauge.Inc()
	}
}

// Remove tears the connection down and detaches it from its meeting group.
// The eviction hook only fires on TTL expiry, not on an explicit Delete, so
// the cleanup runs here.
func (m *ConnMap) Remove(conn *Conn) {
	if item := m.cache.Get(conn.Identity.ConnectionID); item == nil {
		// already evicted by the TTL safety net
		return
	}
	m.cache.Delete(conn.Identity.ConnectionID)
	m.dropConn(conn)
}

// Conn returns the live connection with this id, or nil.
func (m *ConnMap) Conn(connectionID string) *Conn {
	item := m.cache.Get(connectionID)
	if item == nil {
		return nil
	}
	return item.Value()
}

func (m *ConnMap) dropConn(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mid := conn.Identity.MeetingID; mid != "" {
		conns := m.meetingToConns[mid]
		for i := 0; i < len(conns); i++ {
			if conns[i].Identity.ConnectionID == conn.Identity.ConnectionID {
				// delete without preserving order
				conns[i] = conns[len(conns)-1]
				conns = conns[:len(conns)-1]
				i--
			}
		}
		if len(conns) == 0 {
			delete(m.meetingToConns, mid)
		} else {
			m.meetingToConns[mid] = conns
		}
	}
	if m.connsGauge != nil {
		m.connsGauge.Dec()
	}
	conn.Close()
}

// Broadcast delivers an event to every connection in the meeting's group,
// at-most-once per connection. A backpressured connection is skipped; it will
// resynchronize via GetCollaboration when it catches up.
func (m *ConnMap) Broadcast(meetingID, event string, data interface{}) {
	frame, err := json.Marshal(eventFrame{Event: event, Data: data})
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("failed to marshal event frame")
		return
	}
	m.mu.Lock()
	conns := make([]*Conn, len(m.meetingToConns[meetingID]))
	copy(conns, m.meetingToConns[meetingID])
	m.mu.Unlock()
	for _, conn := range conns {
		if err := conn.TrySend(frame); err != nil {
			logger.Warn().Str("c", conn.Identity.ConnectionID).Str("event", event).Msg("dropping event for slow connection")
		}
	}
}

// SendTo delivers an event to a single connection, used for caller-directed
// replies like GetCollaboration.
func (m *ConnMap) SendTo(conn *Conn, event string, data interface{}) {
	frame, err := json.Marshal(eventFrame{Event: event, Data: data})
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("failed to marshal event frame")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		logger.Warn().Str("c", conn.Identity.ConnectionID).Str("event", event).Msg("dropping event for slow connection")
	}
}

// Teardown stops the TTL janitor. Used in tests.
func (m *ConnMap) Teardown() {
	m.cache.Stop()
	if m.connsGauge != nil {
		prometheus.Unregister(m.connsGauge)
	}
}

// OnCollabStarting implements pubsub.CollabListener.
func (m *ConnMap) OnCollabStarting(p *pubsub.CollabStarting) {
	m.Broadcast(p.MeetingID, EventCollaborationStarting, nil)
}

// OnCollabSnapshot implements pubsub.CollabListener.
func (m *ConnMap) OnCollabSnapshot(p *pubsub.CollabSnapshot) {
	m.Broadcast(p.MeetingID, EventCollaboration, Snapshot{
		RoomID: p.RoomID,
		FileID: p.FileID,
		Status: session.Status(p.Status),
	})
}

// OnCollabChanging implements pubsub.CollabListener.
func (m *ConnMap) OnCollabChanging(p *pubsub.CollabChanging) {
	m.Broadcast(p.MeetingID, EventCollaborationChanging, nil)
}

// OnCollabQuotaHit implements pubsub.CollabListener.
func (m *ConnMap) OnCollabQuotaHit(p *pubsub.CollabQuotaHit) {
	m.Broadcast(p.MeetingID, EventQuotaHit, nil)
}
