package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docingest-mcp/internal/events"
	"github.com/dshills/docingest-mcp/internal/registry"
	"github.com/dshills/docingest-mcp/pkg/types"
)

func setupServer(t *testing.T, gatherer prometheus.Gatherer) (*Server, *events.Bus, *registry.Registry, *httptest.Server) {
	t.Helper()
	bus := events.NewBus(nil)
	reg := registry.New(registry.Options{})

	s, err := New(Config{Bus: bus, Registry: reg, Gatherer: gatherer, Heartbeat: time.Hour})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, bus, reg, ts
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	_, _, _, ts := setupServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "docingest_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	_, _, _, ts := setupServer(t, reg)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	scanner := bufio.NewScanner(resp.Body)
	found := false
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "docingest_test_total 1") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	_, _, _, ts := setupServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	_, bus, reg, ts := setupServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	id := resp.Header.Get("X-Connection-Id")
	require.NotEmpty(t, id)
	assert.Equal(t, 1, reg.Active(types.KindNotification))

	bus.Publish(types.StatusEvent{
		DocumentID:   "doc-1",
		Filename:     "a.pdf",
		Status:       types.StatusProcessed,
		PassageCount: 3,
		Timestamp:    time.Now().UTC(),
	})

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: "+StatusEventName+"\n", eventLine)

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataLine, "data: "))

	var ev types.StatusEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &ev))
	assert.Equal(t, "doc-1", ev.DocumentID)
	assert.Equal(t, types.StatusProcessed, ev.Status)
	assert.Equal(t, 3, ev.PassageCount)

	require.Eventually(t, func() bool {
		rec, ok := reg.Get(id)
		return ok && rec.MessagesSent == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		return reg.Active(types.KindNotification) == 0
	}, 2*time.Second, 10*time.Millisecond)

	rec, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.ConnDisconnected, rec.Status)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestConnectionsEndpoint(t *testing.T) {
	_, _, reg, ts := setupServer(t, nil)
	reg.RegisterID("session-1", types.KindSession, "stdio")
	closed := reg.Register(types.KindNotification, "10.0.0.2:4000")
	reg.Disconnect(closed, "client closed")

	resp, err := http.Get(ts.URL + "/connections")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap registry.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 1, snap.ProtocolSessions.TotalActive)
	assert.Equal(t, 0, snap.NotificationClients.TotalActive)
	assert.Equal(t, 1, snap.NotificationClients.TotalRecent)
	assert.False(t, snap.GeneratedAt.IsZero())
}

func TestShutdownEndsStreams(t *testing.T) {
	bus := events.NewBus(nil)
	reg := registry.New(registry.Options{})
	s, err := New(Config{Addr: "127.0.0.1:0", Bus: bus, Registry: reg, Heartbeat: time.Hour})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 1, reg.Active(types.KindNotification))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, 0, reg.Active(types.KindNotification))
}
