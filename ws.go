package bantutrack

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guetchou/bantudelice-tracking/session"
	"github.com/guetchou/bantudelice-tracking/track"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Observers connect from customer-facing origins; the identity
	// token was already checked upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink adapts a websocket connection to session.Sink. All writes go
// through one mutex because gorilla permits a single concurrent writer.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(ev track.Event) error {
	return s.writeJSON(ev)
}

func (s *wsSink) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSONLocked(v)
}

// writeJSONLocked writes with the caller holding s.mu.
func (s *wsSink) writeJSONLocked(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *wsSink) Close() error {
	return s.conn.Close()
}

// clientAction is what an observer sends over the socket.
type clientAction struct {
	Action          string `json:"action"` // subscribe|unsubscribe|ack
	TrackingCode    string `json:"trackingCode"`
	LastAckSequence uint64 `json:"lastAckSequence,omitempty"`
	Sequence        uint64 `json:"sequence,omitempty"`
}

type snapshotMessage struct {
	Type         string `json:"type"` // always "snapshot"
	SubscriberID string `json:"subscriberId"`
	session.Snapshot
}

type wsErrorMessage struct {
	Type    string `json:"type"` // always "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleSubscribe upgrades the connection and runs the subscription
// session. Query params: code (optional initial track), subscriber
// (optional stable id for reconnects), lastAck (optional resume point).
func handleSubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lastAck, err := parseSequence(q.Get("lastAck"))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(buildErrorPayload("subscribe", "InvalidReport", err.Error()))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	sink := &wsSink{conn: conn}
	sub := core.Sessions.Connect(q.Get("subscriber"), sink)
	subscribersGauge.Set(float64(core.Sessions.Count()))
	defer func() {
		core.Sessions.Disconnect(sub.ID)
		subscribersGauge.Set(float64(core.Sessions.Count()))
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sink.ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	if code := q.Get("code"); code != "" {
		if !subscribe(sink, sub.ID, code, lastAck) {
			return
		}
	}

	for {
		var action clientAction
		if err := conn.ReadJSON(&action); err != nil {
			return
		}
		switch action.Action {
		case "subscribe":
			if !subscribe(sink, sub.ID, action.TrackingCode, action.LastAckSequence) {
				return
			}
		case "unsubscribe":
			core.Sessions.Unsubscribe(sub.ID, action.TrackingCode)
		case "ack":
			core.Sessions.Ack(sub.ID, action.TrackingCode, action.Sequence)
		default:
			if err := sink.writeJSON(wsErrorMessage{Type: "error", Code: "InvalidReport", Message: "unknown action " + action.Action}); err != nil {
				return
			}
		}
	}
}

// subscribe performs one subscribe and sends the snapshot. The write
// lock is held across attach and snapshot so a live event queued during
// the subscribe cannot overtake the snapshot on the wire. Returns false
// when the socket is no longer usable.
func subscribe(sink *wsSink, subscriberID, code string, lastAck uint64) bool {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	snap, err := core.Sessions.Subscribe(subscriberID, code, lastAck)
	if err != nil {
		_, boundary := errorStatus(err)
		return sink.writeJSONLocked(wsErrorMessage{Type: "error", Code: boundary, Message: err.Error()}) == nil
	}
	return sink.writeJSONLocked(snapshotMessage{Type: "snapshot", SubscriberID: subscriberID, Snapshot: snap}) == nil
}
