package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"caption/internal/config"
)

// Transcript is the event published after every utterance.
type Transcript struct {
	SessionID string    `json:"session_id"`
	API       string    `json:"api"`
	Language  string    `json:"language"`
	Outcome   string    `json:"outcome"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher pushes transcript events to NATS.
type Publisher struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

// Connect returns nil without error when no bus URL is configured.
func Connect(cfg config.BusConfig, log *slog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("caption-daemon"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout)*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("Connected to bus", "url", cfg.URL, "subject", cfg.Subject)
	return &Publisher{conn: conn, subject: cfg.Subject, log: log}, nil
}

func (p *Publisher) PublishTranscript(_ context.Context, t Transcript) error {
	if p == nil {
		return nil
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	return p.conn.Publish(p.subject, data)
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.log.Info("Closing bus connection")
	_ = p.conn.Drain()
	p.conn.Close()
}
