package protocol

import (
	"context"
	"encoding/json"
	"errors"
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

// Update is one status frame pushed by the daemon on /ws.
type Update struct {
	SessionID     string `json:"session_id"`
	Transcription string `json:"transcription"`
	Recording     bool   `json:"is_recording"`
	Paused        bool   `json:"is_paused"`
	Busy          bool   `json:"busy"`
	Notice        string `json:"notice,omitempty"`
	LastOutcome   string `json:"last_outcome,omitempty"`
}

type WebSocket struct {
	mu     sync.Mutex
	conn   *ws.Conn
	url    string
	reconn time.Duration
}

func NewWebSocket(ctx context.Context, url string, reconn time.Duration) (*WebSocket, error) {
	log.Debug("Dialing daemon websocket", "url", url)

	conn, _, err := ws.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocket{conn: conn, url: url, reconn: reconn}, nil
}

type WsIncomeKind uint

const (
	CONN_CLOSE WsIncomeKind = iota
	READ_FAILURE
	READ_INVALID
	READ_OK
)

type Income struct {
	kind   WsIncomeKind
	update Update
	err    error
}

func (web *WebSocket) Read() Income {
	_, msg, err := web.current().ReadMessage()
	if err != nil {
		if WsIsClosed(err) || errors.Is(err, ws.ErrCloseSent) {
			return Income{kind: CONN_CLOSE, err: err}
		}
		return Income{kind: READ_FAILURE, err: err}
	}

	log.Debug("Read ws", "msg", string(msg))
	var u Update
	if err := json.Unmarshal(msg, &u); err != nil {
		return Income{kind: READ_INVALID, err: err}
	}
	return Income{kind: READ_OK, update: u}
}

// TryReconn redials until it succeeds or ctx is done.
func (web *WebSocket) TryReconn(ctx context.Context) error {
	for {
		conn, _, err := ws.DefaultDialer.DialContext(ctx, web.url, nil)
		if err == nil {
			web.mu.Lock()
			web.conn = conn
			web.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(web.reconn):
		}
	}
}

func (web *WebSocket) current() *ws.Conn {
	web.mu.Lock()
	defer web.mu.Unlock()
	return web.conn
}

func (web *WebSocket) Close() error {
	return web.current().Close()
}

// Watch calls emit for every update until ctx is done. Dropped connections
// are redialed; a read failure on a live connection is treated the same way.
func (web *WebSocket) Watch(ctx context.Context, emit func(Update)) error {
	go func() {
		<-ctx.Done()
		web.Close()
	}()

	for {
		in := web.Read()
		if ctx.Err() != nil {
			return nil
		}
		switch in.kind {
		case READ_OK:
			emit(in.update)
		case READ_INVALID:
			log.Warn("Skipping malformed frame", "err", in.err)
		case CONN_CLOSE, READ_FAILURE:
			log.Warn("Connection lost, reconnecting", "url", web.url, "err", in.err)
			web.Close()
			if err := web.TryReconn(ctx); err != nil {
				return nil
			}
			if ctx.Err() != nil {
				web.Close()
				return nil
			}
			log.Info("Reconnected")
		}
	}
}

func WsIsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
