package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"fleetadmin/src/model"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPingPeriod = 30 * time.Second
	feedSendBuffer = 16
)

// LiveFeed streams freshly tracked errors to connected admin dashboards.
// Publish never blocks: slow clients get dropped, not waited for.
type LiveFeed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan model.TrackedError]struct{}
}

func NewLiveFeed() *LiveFeed {
	return &LiveFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[chan model.TrackedError]struct{}),
	}
}

// Publish fans a tracked-error event out to all connected clients.
func (f *LiveFeed) Publish(record model.TrackedError) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.clients {
		select {
		case ch <- record:
		default:
			// Client is not keeping up; skip this event for it.
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (f *LiveFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("live feed upgrade failed")
		return
	}

	ch := make(chan model.TrackedError, feedSendBuffer)

	f.mu.Lock()
	f.clients[ch] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, ch)
		f.mu.Unlock()
		_ = conn.Close()
	}()

	// Reader goroutine only watches for the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case record := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(record); err != nil {
				logger.WithError(err).Debug("live feed write failed, dropping client")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
