// Package metrics is a minimal, concurrency-safe counter registry for the
// relay's internal events, exposed to scrapers via the Prometheus text
// handler in this package.
package metrics

import "sync"

// Event counter names.
const (
	ConnectionOpened = "connection_opened"
	ConnectionClosed = "connection_closed"
	RoomCreated      = "room_created"
	RoomDeleted      = "room_deleted"
	SignalRelayed    = "signal_relayed"
	ChatBroadcast    = "chat_broadcast"

	ProtocolError      = "protocol_error"
	PreconditionFailed = "precondition_failed"
	RoutingFailed      = "routing_failed"
	UnknownMessage     = "unknown_message"
	RateLimited        = "rate_limited"
	SendQueueOverflow  = "send_queue_overflow"
)

type Metrics struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func New() *Metrics {
	return &Metrics{counters: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	m.mu.Lock()
	m.counters[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}
