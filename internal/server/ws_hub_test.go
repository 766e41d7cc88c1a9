package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ollamon/ollamon/internal/database"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.clients == nil {
		t.Error("expected initialized clients map")
	}
	if hub.register == nil {
		t.Error("expected initialized register channel")
	}
	if hub.unregister == nil {
		t.Error("expected initialized unregister channel")
	}
}

func dialHub(t *testing.T, hub *Hub, topic string) *websocket.Conn {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(hub.ServeWS(topic)))
	t.Cleanup(s.Close)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Give the hub time to register the client
	time.Sleep(50 * time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	return msg
}

func TestHub_PublishMetric(t *testing.T) {
	hub := NewHub()
	hub.Start()
	defer hub.Stop()

	conn := dialHub(t, hub, MetricsTopic)

	sample := database.SystemMetric{
		Timestamp:  database.Now(),
		ServerUp:   true,
		CPUPercent: 42.5,
	}
	hub.PublishMetric(sample)

	msg := readMessage(t, conn)
	if msg.Topic != MetricsTopic {
		t.Errorf("topic = %s, want %s", msg.Topic, MetricsTopic)
	}
	var got database.SystemMetric
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if got != sample {
		t.Errorf("payload = %+v, want %+v", got, sample)
	}
}

func TestHub_DuplicateDeliveryIsHarmless(t *testing.T) {
	hub := NewHub()
	hub.Start()
	defer hub.Stop()

	conn := dialHub(t, hub, MetricsTopic)

	// The same sample can reach a subscriber twice: once pushed by the
	// sampler, once republished by the poll loop. Every message is a
	// complete last value, so consuming both must yield the same state.
	sample := database.SystemMetric{Timestamp: database.Now(), CPUPercent: 10}
	hub.PublishMetric(sample)
	hub.PublishMetric(sample)

	var first, second database.SystemMetric
	msg := readMessage(t, conn)
	if err := json.Unmarshal(msg.Data, &first); err != nil {
		t.Fatalf("first payload: %v", err)
	}
	msg = readMessage(t, conn)
	if err := json.Unmarshal(msg.Data, &second); err != nil {
		t.Fatalf("second payload: %v", err)
	}
	if first != second {
		t.Errorf("duplicate delivery diverged: %+v vs %+v", first, second)
	}
	if first != sample {
		t.Errorf("payload = %+v, want %+v", first, sample)
	}
}

func TestHub_NoMessageForUnsubscribedTopic(t *testing.T) {
	hub := NewHub()
	hub.Start()
	defer hub.Stop()

	conn := dialHub(t, hub, "topic-a")

	data, _ := json.Marshal(map[string]string{"key": "value"})
	hub.broadcast("topic-b", data)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected no message for unsubscribed topic, but got one")
	}
}

func TestRegisterMetricsTopics_RepublishesLatest(t *testing.T) {
	store := database.NewMockStore()
	old := database.SystemMetric{
		ID:         "m1",
		Timestamp:  time.Now().Add(-time.Minute).Format(database.TimeFormat),
		CPUPercent: 1,
	}
	newest := database.SystemMetric{
		ID:         "m2",
		Timestamp:  time.Now().Format(database.TimeFormat),
		CPUPercent: 2,
	}
	for _, m := range []database.SystemMetric{old, newest} {
		if err := store.InsertSystemMetric(context.Background(), m); err != nil {
			t.Fatalf("InsertSystemMetric: %v", err)
		}
	}

	hub := NewHub()
	RegisterMetricsTopics(hub, store)
	if len(hub.generators) != 1 {
		t.Fatalf("generators = %d, want 1", len(hub.generators))
	}
	gen := hub.generators[0]
	if gen.topic != MetricsTopic {
		t.Errorf("topic = %s, want %s", gen.topic, MetricsTopic)
	}

	data, err := gen.generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var got database.SystemMetric
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != newest {
		t.Errorf("republished = %+v, want newest row %+v", got, newest)
	}
}

func TestRegisterMetricsTopics_EmptyStore(t *testing.T) {
	hub := NewHub()
	RegisterMetricsTopics(hub, database.NewMockStore())

	data, err := hub.generators[0].generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if data != nil {
		t.Errorf("data = %s, want nil when nothing is persisted", data)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub()
	hub.Start()
	defer hub.Stop()

	s := httptest.NewServer(http.HandlerFunc(hub.ServeWS(MetricsTopic)))
	defer s.Close()

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	conn.Close()
	time.Sleep(50 * time.Millisecond)

	hub.mu.RLock()
	n := len(hub.clients)
	hub.mu.RUnlock()
	if n != 0 {
		t.Errorf("clients after disconnect = %d, want 0", n)
	}
}
