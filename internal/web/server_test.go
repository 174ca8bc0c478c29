package web

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"balancebot/internal/attitude"
	"balancebot/internal/balance"
	"balancebot/internal/stream"
)

type fixedSource struct {
	snap balance.Snapshot
}

func (f fixedSource) Snapshot() balance.Snapshot { return f.snap }

func testSnapshot() balance.Snapshot {
	return balance.Snapshot{
		Running:    true,
		Angle:      attitude.Euler{Pitch: 1.5},
		AngleValid: true,
		Setpoint:   0.95,
		Output:     -42,
		Speed:      -42,
		Iterations: 7,
		Stream:     stream.Stats{Packets: 5, Overflows: 1},
	}
}

func TestAPIStatus(t *testing.T) {
	ts := httptest.NewServer(Handler(fixedSource{snap: testSnapshot()}, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var snap balance.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !snap.Running || snap.Speed != -42 || snap.Angle.Pitch != 1.5 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.Stream.Overflows != 1 {
		t.Fatalf("overflows=%d", snap.Stream.Overflows)
	}
}

func TestAPIStatus_RejectsPost(t *testing.T) {
	ts := httptest.NewServer(Handler(fixedSource{}, nil))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodGet {
		t.Fatalf("allow=%q", allow)
	}
}

func TestRootPage(t *testing.T) {
	ts := httptest.NewServer(Handler(fixedSource{snap: testSnapshot()}, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status code=%d", resp2.StatusCode)
	}
}

func TestAPIStream_NoBroadcaster(t *testing.T) {
	ts := httptest.NewServer(Handler(fixedSource{}, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/stream")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestAPIStream_DeliversLastFrame(t *testing.T) {
	b := NewBroadcaster()
	if err := b.Send([]byte(`{"seq":3}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	ts := httptest.NewServer(Handler(fixedSource{}, b))
	defer ts.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(ts.URL + "/api/stream")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got, want := line, "data: {\"seq\":3}\n"; got != want {
		t.Fatalf("event=%q want %q", got, want)
	}
}

func TestAPIWebSocket_DeliversFrames(t *testing.T) {
	b := NewBroadcaster()
	ts := httptest.NewServer(Handler(fixedSource{}, b))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("websocket never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := b.Send([]byte(`{"seq":9}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage || string(msg) != `{"seq":9}` {
		t.Fatalf("message type=%d body=%q", mt, msg)
	}
}
