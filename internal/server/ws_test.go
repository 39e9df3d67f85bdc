package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CK6170/forcecal-go/forcecal"
)

func feedServer(t *testing.T, feed *SessionFeed) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		l, err := feed.Subscribe(conn, map[string]string{"state": "idle"})
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				feed.Unsubscribe(l)
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func dialFeed(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (kind FeedKind, data string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f struct {
		Type FeedKind        `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return f.Type, string(f.Data)
}

func waitListeners(t *testing.T, feed *SessionFeed, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for feed.Listeners() != n {
		if time.Now().After(deadline) {
			t.Fatalf("listeners: got %d, want %d", feed.Listeners(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionFeed_SnapshotThenPublishOrder(t *testing.T) {
	feed := NewSessionFeed()
	ts := feedServer(t, feed)
	a := dialFeed(t, ts)
	b := dialFeed(t, ts)
	waitListeners(t, feed, 2)

	feed.PublishState(forcecal.StateAwaitingReading)
	feed.Publish(FeedWrench, map[string]int{"index": 0})
	feed.PublishError(errors.New("link lost"))

	for _, conn := range []*websocket.Conn{a, b} {
		if kind, data := readFrame(t, conn); kind != FeedState || data != `{"state":"idle"}` {
			t.Fatalf("first frame: %s %s", kind, data)
		}
		if kind, data := readFrame(t, conn); kind != FeedState || data != `{"state":"awaiting_reading"}` {
			t.Errorf("state frame: %s %s", kind, data)
		}
		if kind, data := readFrame(t, conn); kind != FeedWrench || data != `{"index":0}` {
			t.Errorf("wrench frame: %s %s", kind, data)
		}
		if kind, data := readFrame(t, conn); kind != FeedError || !strings.Contains(data, "link lost") {
			t.Errorf("error frame: %s %s", kind, data)
		}
	}
}

func TestSessionFeed_ClosedListenerRemoved(t *testing.T) {
	feed := NewSessionFeed()
	ts := feedServer(t, feed)
	a := dialFeed(t, ts)
	b := dialFeed(t, ts)
	waitListeners(t, feed, 2)
	readFrame(t, a)
	readFrame(t, b)

	a.Close()
	waitListeners(t, feed, 1)

	feed.Publish(FeedSolved, map[string]int{"rank": 18})
	if kind, _ := readFrame(t, b); kind != FeedSolved {
		t.Errorf("frame kind: got %q, want %q", kind, FeedSolved)
	}
}
