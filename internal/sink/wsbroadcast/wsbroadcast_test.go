package wsbroadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketcore/tickcore/internal/model"
)

func newTestServer(t *testing.T, h *Hub) (*httptest.Server, string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL
}

func TestHubReplaysHistoryToNewClient(t *testing.T) {
	h := NewHub(10, nil)
	if err := h.WriteBars(context.Background(), []model.Bar{{StockName: "TEST", Close: 101}}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	// Give the hub goroutine a moment to fold the frame into history.
	time.Sleep(20 * time.Millisecond)

	_, wsURL := newTestServer(t, h)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if f.Kind != "bar" || f.Bar == nil || f.Bar.StockName != "TEST" {
		t.Errorf("replayed frame = %+v, want the bar frame written before connecting", f)
	}
}

func TestHubBroadcastsLiveFramesToConnectedClients(t *testing.T) {
	h := NewHub(10, nil)
	_, wsURL := newTestServer(t, h)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond) // let the register land before we broadcast

	ev := model.SignalEvent{StockName: "TEST", EventType: model.EventLongEntry}
	if err := h.WriteSignals(context.Background(), []model.SignalEvent{ev}); err != nil {
		t.Fatalf("WriteSignals: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if f.Kind != "signal" || f.Signal == nil || f.Signal.EventType != model.EventLongEntry {
		t.Errorf("broadcast frame = %+v, want the live signal frame", f)
	}
}
