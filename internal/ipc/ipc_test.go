package ipc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"caption/internal/history"
	"caption/internal/session"
	"caption/internal/transcribe"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubController struct {
	state    session.State
	lastAPI  string
	lastLang string
	lastFile string
}

func (s *stubController) Status() session.Status { return session.Status{State: s.state} }

func (s *stubController) Start(_ context.Context, api, language string) (session.Result, error) {
	s.lastAPI, s.lastLang = api, language
	s.state = s.state.Start().Append("hello")
	return session.Result{Status: s.Status(), Outcome: transcribe.Outcome{Text: "hello", Kind: transcribe.KindOK}}, nil
}

func (s *stubController) Pause() (session.Status, error) {
	next, ok := s.state.Pause()
	if !ok {
		return s.Status(), session.ErrCannotPause
	}
	s.state = next
	return session.Status{State: s.state, Notice: session.NoticePaused}, nil
}

func (s *stubController) Resume(context.Context, string, string) (session.Result, error) {
	return session.Result{Status: s.Status()}, session.ErrCannotResume
}

func (s *stubController) Save(_ context.Context, fileName string) (session.Status, error) {
	s.lastFile = fileName
	return session.Status{State: s.state, Notice: "Transcription saved to " + fileName}, nil
}

func (s *stubController) Reset() (session.Status, error) {
	s.state = s.state.Reset()
	return s.Status(), nil
}

func (s *stubController) Import(_ context.Context, _, _, path string) (session.Result, error) {
	return session.Result{}, errors.New("decode " + path)
}

func (s *stubController) History(_ context.Context, limit int) ([]history.Utterance, error) {
	return []history.Utterance{{Text: "hello", Outcome: "ok"}}[:min(limit, 1)], nil
}

func startTestServer(t *testing.T, ctrl Controller) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caption.sock")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	def := Defaults{API: "Google", Language: "en-US", File: "transcription.txt", Limit: 5}
	if err := StartServer(ctx, path, NewHandler(ctrl, def, newLogger()), newLogger()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return path
}

func TestRoundTrip(t *testing.T) {
	ctrl := &stubController{}
	path := startTestServer(t, ctrl)

	reply, err := Send(path, ControlMessage{Cmd: "start"}, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !reply.OK || reply.Text != "hello" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if reply.Status == nil || !reply.Status.Recording || reply.Status.Transcription != "hello " {
		t.Fatalf("unexpected status %+v", reply.Status)
	}
	if ctrl.lastAPI != "Google" || ctrl.lastLang != "en-US" {
		t.Fatalf("defaults not applied: %q %q", ctrl.lastAPI, ctrl.lastLang)
	}

	reply, err = Send(path, ControlMessage{Cmd: "pause"}, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !reply.OK || reply.Notice != session.NoticePaused || !reply.Status.Paused {
		t.Fatalf("unexpected pause reply %+v", reply)
	}
}

func TestErrorsAreReported(t *testing.T) {
	path := startTestServer(t, &stubController{})

	reply, err := Send(path, ControlMessage{Cmd: "pause"}, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.OK || reply.Error != session.ErrCannotPause.Error() {
		t.Fatalf("expected pause error, got %+v", reply)
	}

	reply, err = Send(path, ControlMessage{Cmd: "dance"}, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.OK || reply.Error == "" {
		t.Fatalf("expected unknown command error, got %+v", reply)
	}

	reply, err = Send(path, ControlMessage{Cmd: "import"}, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.OK {
		t.Fatal("import without a file must fail")
	}
}

func TestSaveDefaultsFile(t *testing.T) {
	ctrl := &stubController{}
	path := startTestServer(t, ctrl)

	if _, err := Send(path, ControlMessage{Cmd: "save"}, 2*time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
	if ctrl.lastFile != "transcription.txt" {
		t.Fatalf("expected default file, got %q", ctrl.lastFile)
	}

	reply, err := Send(path, ControlMessage{Cmd: "save", File: "notes.txt"}, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Notice != "Transcription saved to notes.txt" {
		t.Fatalf("unexpected notice %q", reply.Notice)
	}
}

func TestHistory(t *testing.T) {
	path := startTestServer(t, &stubController{})
	reply, err := Send(path, ControlMessage{Cmd: "history"}, 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !reply.OK || len(reply.History) != 1 || reply.History[0].Text != "hello" {
		t.Fatalf("unexpected history reply %+v", reply)
	}
}

func TestSendWithoutDaemon(t *testing.T) {
	_, err := Send(filepath.Join(t.TempDir(), "missing.sock"), ControlMessage{Cmd: "status"}, time.Second)
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestSecondServerDoesNotStealSocket(t *testing.T) {
	path := startTestServer(t, &stubController{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := StartServer(ctx, path, NewHandler(&stubController{}, Defaults{}, newLogger()), newLogger())
	if !errors.Is(err, ErrSocketInUse) {
		t.Fatalf("expected ErrSocketInUse, got %v", err)
	}

	reply, err := Send(path, ControlMessage{Cmd: "status"}, 2*time.Second)
	if err != nil {
		t.Fatalf("first daemon must keep serving: %v", err)
	}
	if !reply.OK {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestStaleSocketIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caption.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	// leave the file behind like a crashed daemon would
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	def := Defaults{API: "Google", Language: "en-US"}
	if err := StartServer(ctx, path, NewHandler(&stubController{}, def, newLogger()), newLogger()); err != nil {
		t.Fatalf("start over stale socket: %v", err)
	}
	if _, err := Send(path, ControlMessage{Cmd: "status"}, 2*time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
}
