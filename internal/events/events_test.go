package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docingest-mcp/pkg/types"
)

func statusEvent(doc string, status types.DocumentStatus) types.StatusEvent {
	return types.StatusEvent{DocumentID: doc, Filename: doc + ".pdf", Status: status, Timestamp: time.Now()}
}

func TestBusFanOut(t *testing.T) {
	bus := NewBus(nil)
	a, cancelA := bus.Subscribe(8)
	b, cancelB := bus.Subscribe(8)
	defer cancelA()
	defer cancelB()
	assert.Equal(t, 2, bus.Subscribers())

	order := []types.DocumentStatus{types.StatusUploaded, types.StatusProcessing, types.StatusProcessed}
	for _, s := range order {
		bus.Publish(statusEvent("d1", s))
	}

	for _, ch := range []<-chan types.StatusEvent{a, b} {
		for _, want := range order {
			ev := <-ch
			assert.Equal(t, want, ev.Status)
		}
	}
}

func TestBusSlowSubscriberDrops(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			bus.Publish(statusEvent("d", types.StatusProcessing))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(4), bus.Dropped())
}

func TestBusCancel(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe(0)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, bus.Subscribers())

	// publishing with no subscribers is fine
	bus.Publish(statusEvent("d", types.StatusFailed))
}

func TestMulti(t *testing.T) {
	var got []string
	m := Multi{
		PublisherFunc(func(ev types.StatusEvent) { got = append(got, "a:"+ev.DocumentID) }),
		nil,
		PublisherFunc(func(ev types.StatusEvent) { got = append(got, "b:"+ev.DocumentID) }),
	}
	m.Publish(statusEvent("x", types.StatusUploaded))
	assert.Equal(t, []string{"a:x", "b:x"}, got)
}

// webhook records received CloudEvents
type webhook struct {
	mu     sync.Mutex
	events []cloudevents.Event
	status int
}

func (w *webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	e, err := cloudevents.NewEventFromHTTPRequest(r)
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	w.mu.Lock()
	w.events = append(w.events, *e)
	status := w.status
	w.mu.Unlock()
	if status == 0 {
		status = http.StatusAccepted
	}
	rw.WriteHeader(status)
}

func (w *webhook) received() []cloudevents.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]cloudevents.Event(nil), w.events...)
}

func TestCloudEventsSinkSend(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	sink, err := NewCloudEventsSink(srv.URL, WithSource("test"))
	require.NoError(t, err)

	ev := types.StatusEvent{DocumentID: "abc", Filename: "a.pdf", Status: types.StatusProcessed, PassageCount: 7, Timestamp: time.Now()}
	require.NoError(t, sink.Send(context.Background(), ev))

	got := hook.received()
	require.Len(t, got, 1)
	assert.Equal(t, EventType, got[0].Type())
	assert.Equal(t, "test", got[0].Source())
	assert.Equal(t, "abc", got[0].Subject())

	var payload types.StatusEvent
	require.NoError(t, json.Unmarshal(got[0].Data(), &payload))
	assert.Equal(t, types.StatusProcessed, payload.Status)
	assert.Equal(t, 7, payload.PassageCount)
}

func TestCloudEventsSinkRejected(t *testing.T) {
	hook := &webhook{status: http.StatusInternalServerError}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	sink, err := NewCloudEventsSink(srv.URL)
	require.NoError(t, err)

	err = sink.Send(context.Background(), statusEvent("d", types.StatusFailed))
	assert.ErrorIs(t, err, ErrNotAcknowledged)
}

func TestCloudEventsSinkRun(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	sink, err := NewCloudEventsSink(srv.URL)
	require.NoError(t, err)

	bus := NewBus(nil)
	ch, cancel := bus.Subscribe(8)

	done := make(chan struct{})
	go func() {
		sink.Run(context.Background(), ch)
		close(done)
	}()

	bus.Publish(statusEvent("d1", types.StatusUploaded))
	bus.Publish(statusEvent("d1", types.StatusProcessing))

	require.Eventually(t, func() bool { return len(hook.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not stop after the channel closed")
	}
}

func TestNewCloudEventsSinkRequiresTarget(t *testing.T) {
	_, err := NewCloudEventsSink("")
	assert.Error(t, err)
}
