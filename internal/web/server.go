package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"caption/internal/session"
)

//go:embed static/index.html
var static embed.FS

// Controller is the part of the session controller the UI drives.
type Controller interface {
	Status() session.Status
	StartAsync(ctx context.Context, api, language string) (<-chan session.Result, error)
	Pause() (session.Status, error)
	ResumeAsync(ctx context.Context, api, language string) (<-chan session.Result, error)
	Save(ctx context.Context, fileName string) (session.Status, error)
	Reset() (session.Status, error)
	Subscribe() (<-chan session.Status, func())
}

// Options are the choices offered by the page.
type Options struct {
	Backends    []string `json:"backends"`
	Languages   []string `json:"languages"`
	DefaultAPI  string   `json:"default_api"`
	DefaultLang string   `json:"default_language"`
	DefaultFile string   `json:"default_file"`
}

type request struct {
	API      string `json:"api"`
	Language string `json:"language"`
	File     string `json:"file"`
}

type response struct {
	Status session.Status `json:"status"`
	Error  string         `json:"error,omitempty"`
}

type Server struct {
	ctrl     Controller
	opts     Options
	metrics  http.Handler
	log      *slog.Logger
	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewServer builds the UI server. metrics may be nil.
func NewServer(addr string, ctrl Controller, opts Options, metrics http.Handler, log *slog.Logger) *Server {
	s := &Server{
		ctrl:    ctrl,
		opts:    opts,
		metrics: metrics,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/options", s.handleOptions)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/pause", s.handlePause)
	mux.HandleFunc("POST /api/resume", s.handleResume)
	mux.HandleFunc("POST /api/save", s.handleSave)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /ws", s.handleWS)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Web UI listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: s.ctrl.Status()})
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	// the capture outlives the request
	_, err := s.ctrl.StartAsync(context.WithoutCancel(r.Context()), req.API, req.Language)
	s.reply(w, http.StatusAccepted, s.ctrl.Status(), err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	_, err := s.ctrl.ResumeAsync(context.WithoutCancel(r.Context()), req.API, req.Language)
	s.reply(w, http.StatusAccepted, s.ctrl.Status(), err)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	st, err := s.ctrl.Pause()
	s.reply(w, http.StatusOK, st, err)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	st, err := s.ctrl.Save(r.Context(), req.File)
	s.reply(w, http.StatusOK, st, err)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	st, err := s.ctrl.Reset()
	s.reply(w, http.StatusOK, st, err)
}

// decode reads the optional JSON body and fills in defaults.
func (s *Server) decode(w http.ResponseWriter, r *http.Request) (request, bool) {
	var req request
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, response{Status: s.ctrl.Status(), Error: "invalid body: " + err.Error()})
			return req, false
		}
	}
	if req.API == "" {
		req.API = s.opts.DefaultAPI
	}
	if req.Language == "" {
		req.Language = s.opts.DefaultLang
	}
	if req.File == "" {
		req.File = s.opts.DefaultFile
	}
	return req, true
}

func (s *Server) reply(w http.ResponseWriter, okCode int, st session.Status, err error) {
	if err == nil {
		writeJSON(w, okCode, response{Status: st})
		return
	}
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		s.log.Error("Request failed", "err", err)
	}
	writeJSON(w, code, response{Status: st, Error: err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrCannotPause),
		errors.Is(err, session.ErrCannotResume):
		return http.StatusConflict
	case errors.Is(err, session.ErrNothingToSave):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.ctrl.Subscribe()
	defer cancel()

	// the read loop only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.ctrl.Status()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(st); err != nil {
				s.log.Debug("WebSocket write failed", "err", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
