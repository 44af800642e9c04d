package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"caption/internal/ipc"
	"caption/pkg/protocol"
)

const usage = `usage: caption-ctl [flags] <command>

commands:
  start     start recording and capture one utterance
  pause     pause the recording
  resume    resume a paused recording and capture one utterance
  save      write the transcription to --file
  reset     clear the transcription
  status    print the session state
  import    transcribe the audio file given by --file
  history   list recent utterances
  watch     stream live session updates

flags:
`

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Daemon socket path")
	api := cli.StringP("api", "a", "", "Recognition backend (daemon default when empty)")
	language := cli.StringP("language", "L", "", "Language tag (daemon default when empty)")
	file := cli.StringP("file", "f", "", "File to save to or import from")
	limit := cli.IntP("limit", "n", 0, "History entries to list")
	url := cli.StringP("url", "u", "ws://127.0.0.1:8501/ws", "Daemon websocket url for watch")
	logLevel := cli.StringP("log", "l", "warn", "Log level")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	level := log.LevelWarn
	_ = level.UnmarshalText([]byte(*logLevel))
	log.SetDefault(log.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level})))

	if cli.NArg() != 1 {
		cli.Usage()
		os.Exit(2)
	}
	cmd := cli.Arg(0)

	if cmd == "watch" {
		if err := watch(*url); err != nil {
			fmt.Fprintln(os.Stderr, "watch failed:", err)
			os.Exit(1)
		}
		return
	}

	reply, err := ipc.Send(*socket, ipc.ControlMessage{
		Cmd:      cmd,
		API:      *api,
		Language: *language,
		File:     *file,
		Limit:    *limit,
	}, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "caption-daemon not running:", err)
		os.Exit(1)
	}
	os.Exit(printReply(cmd, reply))
}

func printReply(cmd string, r ipc.Reply) int {
	if r.Error != "" {
		fmt.Fprintln(os.Stderr, "error:", r.Error)
	}
	if r.Notice != "" {
		fmt.Println(r.Notice)
	}

	switch cmd {
	case "history":
		for _, u := range r.History {
			fmt.Printf("%s  %-7s %-6s %-14s %s\n",
				u.CreatedAt.Local().Format(time.DateTime), u.API, u.Language, u.Outcome, u.Text)
		}
	case "start", "resume", "import":
		if r.OK {
			fmt.Println(r.Text)
		}
	case "status":
		if s := r.Status; s != nil {
			fmt.Printf("session:   %s\nrecording: %t\npaused:    %t\nbusy:      %t\n",
				s.SessionID, s.Recording, s.Paused, s.Busy)
			fmt.Printf("text:      %s\n", s.Transcription)
		}
	}

	if !r.OK {
		return 1
	}
	return 0
}

func watch(url string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	web, err := protocol.NewWebSocket(ctx, url, time.Second)
	if err != nil {
		return err
	}
	return web.Watch(ctx, func(u protocol.Update) {
		state := "idle"
		switch {
		case u.Busy:
			state = "listening"
		case u.Paused:
			state = "paused"
		case u.Recording:
			state = "recording"
		}
		fmt.Printf("[%s] %s\n", state, u.Transcription)
		if u.Notice != "" {
			fmt.Printf("  %s\n", u.Notice)
		}
	})
}
