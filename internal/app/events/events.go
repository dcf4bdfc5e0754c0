// Package events keeps a bounded in-memory audit trail of lifecycle and
// settlement occurrences. Every externally visible transition gets one entry,
// so operators can reconstruct how a request reached its current state
// without reading raw logs.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type classifies an audit event.
type Type string

const (
	// Request lifecycle
	TypeRequestCreated    Type = "request.created"
	TypeItemAdded         Type = "request.item_added"
	TypeProcessingStarted Type = "request.processing_started"
	TypeRequestCompleted  Type = "request.completed"
	TypeRequestFailed     Type = "request.failed"
	TypeTimeoutDetected   Type = "request.timeout_detected"

	// Settlement
	TypeRefundIssued  Type = "settlement.refund_issued"
	TypeFeesWithdrawn Type = "settlement.fees_withdrawn"

	// Administration
	TypePaused           Type = "admin.paused"
	TypeResumed          Type = "admin.resumed"
	TypeRoleGranted      Type = "admin.role_granted"
	TypeRoleRevoked      Type = "admin.role_revoked"
	TypeOwnerTransferred Type = "admin.owner_transferred"
	TypeEmergencyDrain   Type = "admin.emergency_drain"
)

// Event is one audit trail entry.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	RequestID     uint64 `json:"request_id,omitempty"`
	Principal     string `json:"principal,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// String renders the event as JSON for log lines.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they are recorded.
type Handler func(Event)

// Recorder is the interface services log through.
type Recorder interface {
	Record(event Event)
	Recent(n int) []Event
	RecentByRequest(requestID uint64, n int) []Event
	RecentByType(eventType Type, n int) []Event
}

// Log is a thread-safe circular buffer of events. Oldest entries are
// overwritten once the buffer fills.
type Log struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	handler Handler
}

var _ Recorder = (*Log)(nil)

// NewLog creates an event log holding at most size entries.
func NewLog(size int) *Log {
	if size <= 0 {
		size = 1000
	}
	return &Log{
		events: make([]Event, size),
		size:   size,
	}
}

// Record appends an event and notifies subscribers.
func (l *Log) Record(event Event) {
	l.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.events[l.head] = event
	l.head = (l.head + 1) % l.size
	if l.count < l.size {
		l.count++
	}

	handlers := make([]handlerEntry, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()

	// Notify outside the lock.
	for _, h := range handlers {
		h.handler(event)
	}
}

// Subscribe registers a handler for every recorded event and returns an
// unsubscribe function.
func (l *Log) Subscribe(handler Handler) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers = append(l.handlers, handlerEntry{id: id, handler: handler})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, h := range l.handlers {
			if h.id == id {
				l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n events, newest first.
func (l *Log) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}
	if n > l.count {
		n = l.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (l.head - 1 - i + l.size) % l.size
		result[i] = l.events[idx]
	}
	return result
}

// RecentByRequest returns the most recent n events for one request.
func (l *Log) RecentByRequest(requestID uint64, n int) []Event {
	return l.recentWhere(n, func(e Event) bool { return e.RequestID == requestID })
}

// RecentByType returns the most recent n events of one type.
func (l *Log) RecentByType(eventType Type, n int) []Event {
	return l.recentWhere(n, func(e Event) bool { return e.Type == eventType })
}

func (l *Log) recentWhere(n int, match func(Event) bool) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < l.count && len(result) < n; i++ {
		idx := (l.head - 1 - i + l.size) % l.size
		if match(l.events[idx]) {
			result = append(result, l.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Discard is a recorder that drops every event.
type Discard struct{}

var _ Recorder = Discard{}

func (Discard) Record(Event)                       {}
func (Discard) Recent(int) []Event                 { return nil }
func (Discard) RecentByRequest(uint64, int) []Event { return nil }
func (Discard) RecentByType(Type, int) []Event     { return nil }
