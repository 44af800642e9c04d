package ipc

import (
	"context"
	"fmt"
	"log/slog"

	"caption/internal/history"
	"caption/internal/session"
)

// Controller is the part of the session controller the socket exposes.
type Controller interface {
	Status() session.Status
	Start(ctx context.Context, api, language string) (session.Result, error)
	Pause() (session.Status, error)
	Resume(ctx context.Context, api, language string) (session.Result, error)
	Save(ctx context.Context, fileName string) (session.Status, error)
	Reset() (session.Status, error)
	Import(ctx context.Context, api, language, path string) (session.Result, error)
	History(ctx context.Context, limit int) ([]history.Utterance, error)
}

// Defaults fill fields a client left empty.
type Defaults struct {
	API      string
	Language string
	File     string
	Limit    int
}

// NewHandler routes control messages to ctrl.
func NewHandler(ctrl Controller, def Defaults, log *slog.Logger) Handler {
	return func(ctx context.Context, msg ControlMessage) Reply {
		if msg.API == "" {
			msg.API = def.API
		}
		if msg.Language == "" {
			msg.Language = def.Language
		}
		if msg.Limit <= 0 {
			msg.Limit = def.Limit
		}

		switch msg.Cmd {
		case "start":
			res, err := ctrl.Start(ctx, msg.API, msg.Language)
			return resultReply(res, err)
		case "resume":
			res, err := ctrl.Resume(ctx, msg.API, msg.Language)
			return resultReply(res, err)
		case "import":
			if msg.File == "" {
				return Reply{Error: "import needs a file"}
			}
			res, err := ctrl.Import(ctx, msg.API, msg.Language, msg.File)
			return resultReply(res, err)
		case "pause":
			st, err := ctrl.Pause()
			return statusReply(st, err)
		case "save":
			if msg.File == "" {
				msg.File = def.File
			}
			st, err := ctrl.Save(ctx, msg.File)
			return statusReply(st, err)
		case "reset":
			st, err := ctrl.Reset()
			return statusReply(st, err)
		case "status":
			return statusReply(ctrl.Status(), nil)
		case "history":
			items, err := ctrl.History(ctx, msg.Limit)
			if err != nil {
				return Reply{Error: err.Error()}
			}
			return Reply{OK: true, History: items}
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
			return Reply{Error: fmt.Sprintf("unknown command %q", msg.Cmd)}
		}
	}
}

func resultReply(res session.Result, err error) Reply {
	r := statusReply(res.Status, err)
	if err == nil {
		r.Text = res.Outcome.Text
	}
	return r
}

func statusReply(st session.Status, err error) Reply {
	r := Reply{OK: err == nil, Notice: st.Notice, Status: &st}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
