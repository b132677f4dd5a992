package ws

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"warefleet.io/internal/sim/fleet"
	"warefleet.io/internal/sim/grid"
	"warefleet.io/internal/sim/tuning"
)

func dialTestServer(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()
	g := grid.NewEmpty(8, 8)
	g.AddFeature(grid.CellStartingStation, 4, 4)
	tune := tuning.Defaults()
	tune.NumRobots = 1
	logger := log.New(io.Discard, "", 0)
	m := fleet.NewManager(g, tune, 1, logger)
	s := NewServer(m, logger)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return s, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return f
}

func TestEnvironmentFrameOnConnect(t *testing.T) {
	_, conn := dialTestServer(t)

	f := readFrame(t, conn)
	if f.Type != "environment" {
		t.Fatalf("first frame type = %q, want environment", f.Type)
	}
	if f.Layout == nil || f.Layout.Width != 8 || f.Layout.Height != 8 {
		t.Fatalf("layout = %+v", f.Layout)
	}
	if len(f.Layout.StartingStations) != 1 {
		t.Fatalf("starting stations = %v", f.Layout.StartingStations)
	}
}

func TestBroadcastFansOutTickFrames(t *testing.T) {
	s, conn := dialTestServer(t)
	readFrame(t, conn) // environment

	s.Broadcast(fleet.SummaryView{Tick: 7, TotalRobots: 1})

	f := readFrame(t, conn)
	if f.Type != "tick" || f.Tick != 7 {
		t.Fatalf("frame = %+v", f)
	}
	if f.Summary == nil || f.Summary.TotalRobots != 1 {
		t.Fatalf("summary = %+v", f.Summary)
	}
}

func TestBroadcastSurvivesSlowClient(t *testing.T) {
	s, conn := dialTestServer(t)
	readFrame(t, conn)

	// Flood well past the per-client buffer without reading; the
	// broadcaster must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < clientQueue*4; i++ {
			s.Broadcast(fleet.SummaryView{Tick: uint64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on a slow client")
	}
}

func TestClientDisconnectIsRemoved(t *testing.T) {
	s, conn := dialTestServer(t)
	readFrame(t, conn)

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client not removed after disconnect")
}
