// Package notify fans run events out to observers grouped in rooms, one
// room per client session.
package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmbench/logger"
)

const subscriberBuffer = 100

// Event types published to observers.
const (
	TypeStatus    = "status"
	TypeProgress  = "progress"
	TypeStage     = "stage"
	TypeState     = "state"
	TypeLog       = "log"
	TypeSnapshot  = "snapshot"
	TypeTelemetry = "telemetry"
	TypeError     = "error"
)

// Run status values carried by TypeStatus events.
const (
	StatusStarted   = "started"
	StatusSyncing   = "syncing"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"
	StatusRecovered = "completed (recovered)"
)

type Event struct {
	Type      string    `json:"type"`
	Room      string    `json:"room"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Status is the payload of a TypeStatus event.
type Status struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func NewStatus(status, message string) Status {
	return Status{Status: status, Message: message, Timestamp: time.Now().Unix()}
}

// Notifier publishes events. Publish never blocks on slow observers.
type Notifier interface {
	Publish(room, eventType string, data any)
}

// Hub is an in-memory Notifier with buffered per-subscriber channels.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[chan Event]struct{}
	log   *logrus.Entry
}

var _ Notifier = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[chan Event]struct{}),
		log:   logger.Log.WithComponent("notify"),
	}
}

func (h *Hub) Publish(room, eventType string, data any) {
	ev := Event{Type: eventType, Room: room, Data: data, Timestamp: time.Now()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.rooms[room] {
		select {
		case ch <- ev:
		default:
			h.log.Debugf("dropping %s event for slow subscriber in room %s", eventType, room)
		}
	}
}

// Subscribe returns a channel receiving the events of room.
func (h *Hub) Subscribe(room string) chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[chan Event]struct{})
	}
	h.rooms[room][ch] = struct{}{}
	return ch
}

// Unsubscribe removes ch from room and closes it.
func (h *Hub) Unsubscribe(room string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[room]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(h.rooms, room)
	}
}

// Subscribers reports the number of subscribers in room.
func (h *Hub) Subscribers(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
