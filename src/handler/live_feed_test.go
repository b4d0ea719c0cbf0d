package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fleetadmin/src/model"
)

func TestLiveFeedDeliversPublishedEvents(t *testing.T) {
	feed := NewLiveFeed()

	server := httptest.NewServer(feed)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("could not connect to live feed: %v", err)
	}
	defer conn.Close()

	// Wait for the subscription to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		feed.mu.Lock()
		connected := len(feed.clients) == 1
		feed.mu.Unlock()
		if connected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	feed.Publish(model.TrackedError{ID: 12, Fingerprint: "cafe000012345678", OccurrenceCount: 4})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var received model.TrackedError
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("could not read published event: %v", err)
	}

	if received.ID != 12 || received.OccurrenceCount != 4 {
		t.Fatalf("unexpected event: %+v", received)
	}
}

func TestLiveFeedPublishNeverBlocksWithoutClients(t *testing.T) {
	feed := NewLiveFeed()

	finished := make(chan struct{})
	go func() {
		feed.Publish(model.TrackedError{ID: 1})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked with no clients connected")
	}
}

func TestLiveFeedRemovesDisconnectedClients(t *testing.T) {
	feed := NewLiveFeed()

	server := httptest.NewServer(feed)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("could not connect to live feed: %v", err)
	}

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		feed.mu.Lock()
		remaining := len(feed.clients)
		feed.mu.Unlock()
		if remaining == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("disconnected client was not removed, %d remaining", remaining)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
