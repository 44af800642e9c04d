package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"

	"caption/internal/history"
	"caption/internal/session"
)

const DefaultSocketPath = "/tmp/caption.sock"

// ControlMessage is the single request a client writes per connection.
type ControlMessage struct {
	Cmd      string `json:"cmd"`
	API      string `json:"api,omitempty"`
	Language string `json:"language,omitempty"`
	File     string `json:"file,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Reply is written back before the server closes the connection.
type Reply struct {
	OK      bool                `json:"ok"`
	Error   string              `json:"error,omitempty"`
	Notice  string              `json:"notice,omitempty"`
	Text    string              `json:"text,omitempty"`
	Status  *session.Status     `json:"status,omitempty"`
	History []history.Utterance `json:"history,omitempty"`
}

type Handler func(ctx context.Context, msg ControlMessage) Reply

var ErrSocketInUse = errors.New("another daemon is listening on the socket")

// StartServer listens on path and serves until ctx is done. A stale socket
// file left by a crashed daemon is removed; a live one is left alone.
func StartServer(ctx context.Context, path string, handler Handler, log *slog.Logger) error {
	if err := clearStaleSocket(path); err != nil {
		return err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("IPC listening", "socket", path)

	go func() {
		<-ctx.Done()
		ln.Close()
		_ = os.Remove(path)
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn("IPC accept failed", "err", err)
				continue
			}
			go handleConn(ctx, conn, handler, log)
		}
	}()

	return nil
}

func clearStaleSocket(path string) error {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%s: %w", path, ErrSocketInUse)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}
	return nil
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler, log *slog.Logger) {
	defer conn.Close()

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Warn("Bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(Reply{Error: "invalid request: " + err.Error()})
		return
	}
	log.Debug("Control message", "cmd", msg.Cmd)

	reply := handler(ctx, msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Warn("Failed to write reply", "cmd", msg.Cmd, "err", err)
	}
}

// Send writes msg to the daemon at path and waits for its reply. Captures can
// take a while, so timeout 0 means no deadline.
func Send(path string, msg ControlMessage, timeout time.Duration) (Reply, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
