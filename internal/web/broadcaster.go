package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// clientBuffer is the number of events queued per SSE client.
const clientBuffer = 64

// StatusEvent is one log line sent to SSE clients.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StateEvent carries a controller snapshot. Level is always "state".
type StateEvent struct {
	Time  string `json:"t"`
	Level string `json:"l"`
	State any    `json:"state"`
}

// StatusBroadcaster fans events out to SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{clients: make(map[chan string]struct{})}
}

// Subscribe returns a channel of JSON events and a cleanup function that
// must be called when the client goes away.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, clientBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Clients returns the number of subscribed clients.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends {"t":"...","l":level,"msg":msg} to all clients.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.publish(StatusEvent{Time: now(), Level: level, Msg: msg})
}

// BroadcastMsg is Broadcast at level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastState sends {"t":"...","l":"state","state":{...}} to all clients.
func (b *StatusBroadcaster) BroadcastState(state any) {
	b.publish(StateEvent{Time: now(), Level: "state", State: state})
}

// publish never blocks: a client whose buffer is full misses the event.
func (b *StatusBroadcaster) publish(evt any) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

func now() string {
	return time.Now().Format(time.RFC3339)
}

// BroadcastWriter returns an io.Writer that broadcasts each write as an
// info line. Used as a debug log output.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
