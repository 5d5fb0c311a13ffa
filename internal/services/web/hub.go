package web

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/louisbranch/hederapoly/internal/platform/timeouts"
)

const (
	messageSnapshot = "snapshot"
	messageActivity = "activity"

	// subscriberQueue bounds the frames waiting for one slow client.
	subscriberQueue = 32
)

var errHubClosed = errors.New("stream hub is closed")

// envelope is the stream wire format: {"type": "...", "data": {...}}.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// subscriber owns one websocket. Only its writer goroutine writes to conn.
type subscriber struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(conn *websocket.Conn, capacity int) *subscriber {
	return &subscriber{
		conn: conn,
		send: make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

// enqueue queues data without blocking. It reports false when the queue is
// full.
func (s *subscriber) enqueue(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// writeLoop drains the queue until the subscriber is closed or a write
// fails.
func (s *subscriber) writeLoop(h *Hub) {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(timeouts.WebsocketWrite)); err != nil {
				h.logf("drop stream subscriber: %v", err)
				h.remove(s)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logf("drop stream subscriber: %v", err)
				h.remove(s)
				return
			}
		}
	}
}

// Hub fans stream messages out to websocket subscribers. Broadcast never
// waits on a client.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
	logf        func(string, ...any)
}

func newHub(logf func(string, ...any)) *Hub {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		logf:        logf,
	}
}

// add registers conn and starts its writer. initial runs under the hub lock
// and its frames are queued ahead of any broadcast.
func (h *Hub) add(conn *websocket.Conn, initial func() ([][]byte, error)) (*subscriber, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errHubClosed
	}
	var frames [][]byte
	if initial != nil {
		var err error
		if frames, err = initial(); err != nil {
			h.mu.Unlock()
			return nil, err
		}
	}
	sub := newSubscriber(conn, len(frames)+subscriberQueue)
	for _, frame := range frames {
		sub.send <- frame
	}
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	go sub.writeLoop(h)
	return sub, nil
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	h.mu.Unlock()
	sub.close()
}

// Broadcast encodes the message once and queues it for every subscriber.
// Subscribers whose queue is full are dropped.
func (h *Hub) Broadcast(kind string, payload any) {
	data, err := encodeEnvelope(kind, payload)
	if err != nil {
		h.logf("encode %s message: %v", kind, err)
		return
	}

	var slow []*subscriber
	h.mu.Lock()
	for sub := range h.subscribers {
		if !sub.enqueue(data) {
			delete(h.subscribers, sub)
			slow = append(slow, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range slow {
		h.logf("drop stream subscriber: %d frames behind", len(sub.send))
		sub.close()
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subscribers
	h.subscribers = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

func encodeEnvelope(kind string, payload any) ([]byte, error) {
	return json.Marshal(envelope{Type: kind, Data: payload})
}
