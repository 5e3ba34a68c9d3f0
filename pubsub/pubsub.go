package pubsub

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Every payload needs a type to distinguish what kind of update it is.
type Payload interface {
	Type() string
}

// Listener represents the common functions required by all subscription listeners
type Listener interface {
	// Begin listening on this channel with this callback. Blocks until Close() is called.
	Listen(chanName string, fn func(p Payload)) error
	// Close the listener. No more callbacks should fire.
	Close() error
}

// Notifier represents the common functions required by all notifiers
type Notifier interface {
	// Notify chanName that there is a new payload p. Return an error if we failed to send the notification.
	Notify(chanName string, p Payload) error
	// Close is called when we should stop listening.
	Close() error
}

// PubSub is the in-process bus between the hub and the transport layer. The
// service carries one logical channel (ChanCollab), so the bus is a single
// buffered payload channel; the channel name in the interface keeps publisher
// and subscriber agreeing on what they are wired to.
type PubSub struct {
	payloads chan Payload
	stop     chan struct{}
	once     sync.Once
}

func NewPubSub(bufferSize int) *PubSub {
	return &PubSub{
		payloads: make(chan Payload, bufferSize),
		stop:     make(chan struct{}),
	}
}

// Notify blocks until the payload is handed to the bus, with a timeout as a
// backstop against a wedged subscriber.
func (ps *PubSub) Notify(chanName string, p Payload) error {
	select {
	case ps.payloads <- p:
		return nil
	case <-ps.stop:
		return fmt.Errorf("notify %s: pubsub closed", chanName)
	case <-time.After(5 * time.Second):
		return fmt.Errorf("notify %s with payload %s timed out", chanName, p.Type())
	}
}

func (ps *PubSub) Close() error {
	ps.once.Do(func() {
		close(ps.stop)
	})
	return nil
}

// Listen invokes fn for every payload until Close is called.
func (ps *PubSub) Listen(chanName string, fn func(p Payload)) error {
	for {
		select {
		case p := <-ps.payloads:
			fn(p)
		case <-ps.stop:
			return nil
		}
	}
}

// Wrapper around a Notifier which adds Prometheus metrics
type PromNotifier struct {
	Notifier
	msgCounter *prometheus.CounterVec
}

func (p *PromNotifier) Notify(chanName string, payload Payload) error {
	p.msgCounter.WithLabelValues(payload.Type()).Inc()
	return p.Notifier.Notify(chanName, payload)
}

func (p *PromNotifier) Close() error {
	prometheus.Unregister(p.msgCounter)
	return p.Notifier.Close()
}

// Wrap a notifier for prometheus metrics
func NewPromNotifier(n Notifier, subsystem string) Notifier {
	p := &PromNotifier{
		Notifier: n,
		msgCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zoomsvc",
			Subsystem: subsystem,
			Name:      "num_payloads",
			Help:      "Number of payloads published",
		}, []string{"payload_type"}),
	}
	prometheus.MustRegister(p.msgCounter)
	return p
}
