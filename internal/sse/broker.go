// Package sse implements a Server-Sent Events broker that streams index
// changes and todo status updates to connected clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync/atomic"
	"time"
)

// Event types.
const (
	EventNoteCreated  = "note.created"
	EventNoteUpdated  = "note.updated"
	EventNoteDeleted  = "note.deleted"
	EventReconciled   = "index.reconciled"
	EventIndexChanged = "index.changed"
	EventTodoStatus   = "todo.status"
)

// Event is one message on the stream. Events with a Notebook are only sent to
// subscribers watching that notebook (or all notebooks).
type Event struct {
	Type     string
	Notebook string
	Data     any
}

// Subscription is one connected client.
type Subscription struct {
	C        chan []byte
	notebook string
}

func (s *Subscription) wants(e Event) bool {
	return s.notebook == "" || e.Notebook == "" || e.Notebook == s.notebook
}

type watchEvent struct {
	kind string
	path string
}

// Broker fans events out to subscribers.
//
// A single loop goroutine owns the subscriber set, the event sequence and the
// refresh throttle. Public methods talk to it over channels.
type Broker struct {
	refreshMin time.Duration
	heartbeat  time.Duration

	subCh    chan *Subscription
	unsubCh  chan *Subscription
	eventCh  chan Event
	watchCh  chan watchEvent
	countReq chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. index.changed is sent at most once per
// refreshThrottle.
func NewBroker(refreshThrottle time.Duration) *Broker {
	if refreshThrottle <= 0 {
		refreshThrottle = 2 * time.Second
	}
	b := &Broker{
		refreshMin: refreshThrottle,
		heartbeat:  15 * time.Second,
		subCh:      make(chan *Subscription),
		unsubCh:    make(chan *Subscription),
		eventCh:    make(chan Event, 256),
		watchCh:    make(chan watchEvent, 256),
		countReq:   make(chan chan int),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go b.loop()
	return b
}

// WithHeartbeat changes the keep-alive comment interval of ServeHTTP.
func (b *Broker) WithHeartbeat(d time.Duration) *Broker {
	if d > 0 {
		b.heartbeat = d
	}
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	subs := map[*Subscription]struct{}{}
	var (
		seq         uint64
		lastRefresh time.Time
	)

	send := func(e Event) {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, e.Type, payload))
		for s := range subs {
			if !s.wants(e) {
				continue
			}
			select {
			case s.C <- raw:
			default:
				// slow client, drop
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for s := range subs {
				close(s.C)
			}
			return

		case s := <-b.subCh:
			subs[s] = struct{}{}

		case s := <-b.unsubCh:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.C)
			}

		case e := <-b.eventCh:
			send(e)

		case w := <-b.watchCh:
			e, ok := noteEvent(w)
			if !ok {
				continue
			}
			send(e)
			if now := time.Now(); now.Sub(lastRefresh) >= b.refreshMin {
				lastRefresh = now
				send(Event{Type: EventIndexChanged, Data: struct{}{}})
			}

		case resp := <-b.countReq:
			resp <- len(subs)
		}
	}
}

func noteEvent(w watchEvent) (Event, bool) {
	var typ string
	switch w.kind {
	case "created":
		typ = EventNoteCreated
	case "updated":
		typ = EventNoteUpdated
	case "deleted":
		typ = EventNoteDeleted
	case "reconciled":
		return Event{Type: EventReconciled, Data: struct{}{}}, true
	default:
		return Event{}, false
	}
	nb := notebookOf(w.path)
	return Event{Type: typ, Notebook: nb, Data: map[string]string{"path": w.path, "notebook": nb}}, true
}

// notebookOf returns the first segment of a relative note path. Linked notes
// carry absolute paths and get no notebook, so every subscriber sees them.
func notebookOf(p string) string {
	if p == "" || path.IsAbs(p) || strings.Contains(p, ":") {
		return ""
	}
	if i := strings.IndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return ""
}

// Close stops the loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. An empty notebook receives every event.
func (b *Broker) Subscribe(notebook string) *Subscription {
	s := &Subscription{C: make(chan []byte, 64), notebook: notebook}
	if b.closed.Load() {
		close(s.C)
		return s
	}
	select {
	case b.subCh <- s:
	case <-b.stopped:
		close(s.C)
	}
	return s
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(s *Subscription) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubCh <- s:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReq <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish queues an event for every interested subscriber.
func (b *Broker) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.eventCh <- e:
	case <-b.stopped:
	}
}

// PublishStatus announces a committed todo status change.
func (b *Broker) PublishStatus(id, notePath, status string) {
	b.Publish(Event{
		Type:     EventTodoStatus,
		Notebook: notebookOf(notePath),
		Data:     map[string]string{"id": id, "path": notePath, "status": status},
	})
}

// PublishNoteEvent publishes a watcher event ("created", "updated", "deleted"
// or "reconciled") followed by a throttled index.changed. Unknown kinds are
// dropped. Its signature matches index.EventCallback.
func (b *Broker) PublishNoteEvent(kind, notePath string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.watchCh <- watchEvent{kind: kind, path: notePath}:
	case <-b.stopped:
	}
}

// ServeHTTP streams events (GET /api/events?notebook=work).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := b.Subscribe(r.URL.Query().Get("notebook"))
	defer b.Unsubscribe(sub)

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
