package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomas-villani/nb-sub001/internal/index"
)

func drain(s *Subscription, wait time.Duration) []string {
	time.Sleep(wait)
	var out []string
	for {
		select {
		case msg := <-s.C:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func eventType(msg string) string {
	for _, line := range strings.Split(msg, "\n") {
		if t, ok := strings.CutPrefix(line, "event: "); ok {
			return t
		}
	}
	return ""
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	require.Equal(t, 0, b.ClientCount())

	s := b.Subscribe("")
	assert.Equal(t, 1, b.ClientCount())
	b.Unsubscribe(s)
	assert.Equal(t, 0, b.ClientCount())
}

func TestPublishStatus(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	s := b.Subscribe("")
	defer b.Unsubscribe(s)

	b.PublishStatus("ab12cd34", "work/plan.md", "completed")

	select {
	case msg := <-s.C:
		m := string(msg)
		assert.True(t, strings.HasPrefix(m, "id: 1\n"))
		assert.Equal(t, EventTodoStatus, eventType(m))
		assert.Contains(t, m, `"id":"ab12cd34"`)
		assert.Contains(t, m, `"status":"completed"`)
		assert.True(t, strings.HasSuffix(m, "\n\n"))
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNoteEventsAreThrottled(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	s := b.Subscribe("")
	defer b.Unsubscribe(s)

	b.PublishNoteEvent("created", "work/a.md")
	b.PublishNoteEvent("updated", "work/b.md")
	b.PublishNoteEvent("deleted", "home/c.md")

	counts := map[string]int{}
	for _, msg := range drain(s, 50*time.Millisecond) {
		counts[eventType(msg)]++
	}
	assert.Equal(t, map[string]int{
		EventNoteCreated:  1,
		EventNoteUpdated:  1,
		EventNoteDeleted:  1,
		EventIndexChanged: 1,
	}, counts)
}

func TestUnknownKindsAreDropped(t *testing.T) {
	b := NewBroker(time.Millisecond)
	defer b.Close()
	s := b.Subscribe("")
	defer b.Unsubscribe(s)

	b.PublishNoteEvent("renamed", "a.md")
	assert.Empty(t, drain(s, 50*time.Millisecond))

	b.PublishNoteEvent("reconciled", "")
	msgs := drain(s, 50*time.Millisecond)
	require.NotEmpty(t, msgs)
	assert.Equal(t, EventReconciled, eventType(msgs[0]))
}

func TestNotebookFilter(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	work := b.Subscribe("work")
	defer b.Unsubscribe(work)
	all := b.Subscribe("")
	defer b.Unsubscribe(all)

	b.PublishNoteEvent("updated", "home/list.md")
	b.PublishNoteEvent("updated", "work/plan.md")
	b.PublishNoteEvent("updated", "/ext/todo.md")

	var workPaths []string
	for _, msg := range drain(work, 50*time.Millisecond) {
		if eventType(msg) == EventNoteUpdated {
			workPaths = append(workPaths, msg)
		}
	}
	require.Len(t, workPaths, 2)
	assert.Contains(t, workPaths[0], `"path":"work/plan.md"`)
	assert.Contains(t, workPaths[1], `"path":"/ext/todo.md"`)

	assert.Len(t, drain(all, 0), 4, "three updates plus one index.changed")
}

func TestNotebookOf(t *testing.T) {
	assert.Equal(t, "work", notebookOf("work/plan.md"))
	assert.Equal(t, "", notebookOf("plan.md"))
	assert.Equal(t, "", notebookOf("/abs/plan.md"))
	assert.Equal(t, "", notebookOf("C:/notes/plan.md"))
}

func TestBrokerIsWatcherCallback(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	var cb index.EventCallback = b.PublishNoteEvent
	assert.NotNil(t, cb)
}

func TestServeHTTP(t *testing.T) {
	b := NewBroker(100 * time.Millisecond).WithHeartbeat(20 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?notebook=work", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	b.PublishNoteEvent("updated", "work/x.md")
	b.PublishNoteEvent("updated", "home/y.md")
	time.Sleep(60 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	assert.Contains(t, body, "event: note.updated")
	assert.Contains(t, body, `"path":"work/x.md"`)
	assert.NotContains(t, body, "home/y.md")
	assert.Contains(t, body, ": ping\n\n")
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestFullBufferDoesNotBlock(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	s := b.Subscribe("")
	defer b.Unsubscribe(s)

	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]int{"i": i}})
	}
	assert.Equal(t, 1, b.ClientCount())
	assert.Len(t, drain(s, 50*time.Millisecond), 64)
}

func TestCloseStopsEverything(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	s := b.Subscribe("")
	require.Equal(t, 1, b.ClientCount())

	b.Close()

	select {
	case _, ok := <-s.C:
		assert.False(t, ok, "subscriber channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	assert.Equal(t, 0, b.ClientCount())

	b.Publish(Event{Type: EventNoteUpdated})
	b.PublishNoteEvent("updated", "x.md")
	b.PublishStatus("a", "b", "c")
	late := b.Subscribe("")
	_, ok := <-late.C
	assert.False(t, ok)
}
