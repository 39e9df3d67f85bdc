package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/CK6170/forcecal-go/forcecal"
)

// FeedKind names a message pushed on /ws/session.
type FeedKind string

const (
	FeedState    FeedKind = "state"
	FeedSample   FeedKind = "sample"
	FeedReading  FeedKind = "reading"
	FeedWrench   FeedKind = "wrench"
	FeedSolved   FeedKind = "solved"
	FeedExported FeedKind = "exported"
	FeedError    FeedKind = "error"
)

// feedFrame is the wire shape: {"type": kind, "data": payload}.
type feedFrame struct {
	Kind FeedKind `json:"type"`
	Data any      `json:"data,omitempty"`
}

func encodeFrame(kind FeedKind, data any) ([]byte, error) {
	return json.Marshal(feedFrame{Kind: kind, Data: data})
}

// FeedListener is one websocket connection. mu serializes writes to conn.
type FeedListener struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (l *FeedListener) write(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(websocket.TextMessage, frame)
}

// SessionFeed fans calibration session events out to websocket listeners.
// Every listener sees frames in publish order.
type SessionFeed struct {
	mu        sync.RWMutex
	listeners map[*FeedListener]struct{}
}

func NewSessionFeed() *SessionFeed {
	return &SessionFeed{listeners: make(map[*FeedListener]struct{})}
}

// Subscribe registers conn and sends it the snapshot frame before any
// published frame can reach it. On error conn is closed.
func (f *SessionFeed) Subscribe(conn *websocket.Conn, snapshot any) (*FeedListener, error) {
	frame, err := encodeFrame(FeedState, snapshot)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	l := &FeedListener{conn: conn}
	l.mu.Lock()
	f.mu.Lock()
	f.listeners[l] = struct{}{}
	f.mu.Unlock()
	err = conn.WriteMessage(websocket.TextMessage, frame)
	l.mu.Unlock()
	if err != nil {
		f.Unsubscribe(l)
		return nil, err
	}
	return l, nil
}

func (f *SessionFeed) Unsubscribe(l *FeedListener) {
	f.mu.Lock()
	delete(f.listeners, l)
	f.mu.Unlock()
	_ = l.conn.Close()
}

func (f *SessionFeed) Listeners() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

// Publish sends one frame to every listener. A listener whose write fails
// is dropped.
func (f *SessionFeed) Publish(kind FeedKind, data any) {
	frame, err := encodeFrame(kind, data)
	if err != nil {
		slog.Error("feed: encode failed", "kind", kind, "err", err)
		return
	}
	var dead []*FeedListener
	f.mu.RLock()
	for l := range f.listeners {
		if err := l.write(frame); err != nil {
			dead = append(dead, l)
		}
	}
	f.mu.RUnlock()
	for _, l := range dead {
		slog.Debug("feed: dropping listener", "remote", l.conn.RemoteAddr(), "kind", kind)
		f.Unsubscribe(l)
	}
}

func (f *SessionFeed) PublishState(st forcecal.State) {
	f.Publish(FeedState, map[string]string{"state": string(st)})
}

func (f *SessionFeed) PublishError(err error) {
	f.Publish(FeedError, APIError{Error: err.Error()})
}
