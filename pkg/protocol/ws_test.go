package protocol

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
)

func TestWatchReceivesUpdates(t *testing.T) {
	upgrader := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(ws.TextMessage, []byte("not json"))
		_ = conn.WriteJSON(map[string]any{"transcription": "hello ", "is_recording": true, "busy": false})
		_ = conn.WriteJSON(map[string]any{"transcription": "hello world ", "is_recording": true, "is_paused": true})
		// keep the connection open until the client leaves
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	web, err := NewWebSocket(ctx, url, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var got []Update
	err = web.Watch(ctx, func(u Update) {
		got = append(got, u)
		if len(got) == 2 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected two updates, got %d", len(got))
	}
	if got[0].Transcription != "hello " || !got[1].Paused {
		t.Fatalf("unexpected updates %+v", got)
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewWebSocket(ctx, "ws://127.0.0.1:1/ws", time.Second); err == nil {
		t.Fatal("expected dial error")
	}
}
