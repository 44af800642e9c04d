package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"caption/internal/config"
)

func TestConnectDisabled(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := Connect(config.BusConfig{}, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Fatal("expected nil publisher without url")
	}
	if err := p.PublishTranscript(context.Background(), Transcript{Text: "hi"}); err != nil {
		t.Fatalf("nil publisher should accept events: %v", err)
	}
	p.Close()
}

func TestConnectUnreachable(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := Connect(config.BusConfig{URL: "nats://127.0.0.1:1", Subject: "caption.transcript", ConnectTimeout: 200}, log)
	if err == nil {
		t.Fatal("expected connection error")
	}
}
