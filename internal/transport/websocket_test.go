package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

func dialHub(t *testing.T, ts *httptest.Server, hub *Hub, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHub_BroadcastsProgressEvents(t *testing.T) {
	s := NewServer(ServerConfig{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Close()

	conn := dialHub(t, ts, s.Hub(), nil)

	s.Hub().Broadcast(types.ProgressEvent{Type: "state", Scenario: types.ScenarioTransfers, State: types.StateSubmitting})
	s.Hub().Broadcast(types.ProgressEvent{Type: "progress", Scenario: types.ScenarioTransfers, Sent: 10, Confirmed: 7, Failed: 1, InFlight: 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first, second types.ProgressEvent
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second: %v", err)
	}

	if first.Type != "state" || first.State != types.StateSubmitting {
		t.Errorf("first = %+v, want submitting state event", first)
	}
	if second.Type != "progress" || second.Sent != 10 || second.Confirmed != 7 || second.Failed != 1 || second.InFlight != 2 {
		t.Errorf("second = %+v, want progress counters", second)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	defer hub.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.Handler())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn := dialHub(t, ts, hub, nil)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d after disconnect, want 0", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.Handler())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	header := http.Header{}
	header.Set("Origin", "http://evil.test")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}

func TestHub_BroadcastDoesNotBlock(t *testing.T) {
	hub := NewHub(nil) // not started: nothing drains the buffer

	done := make(chan struct{})
	go func() {
		for i := 0; i < hubBuffer*2; i++ {
			hub.Broadcast(types.ProgressEvent{Type: "progress", Sent: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full buffer")
	}

	hub.Stop()
	hub.Stop()
	hub.Broadcast(types.ProgressEvent{Type: "progress"})
}
