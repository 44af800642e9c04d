package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"caption/internal/bus"
	"caption/internal/history"
	"caption/internal/transcribe"
	"caption/pkg/audioconv"
)

var (
	ErrBusy          = errors.New("a recording is already in progress")
	ErrCannotPause   = errors.New("no active recording to pause")
	ErrCannotResume  = errors.New("recording is not paused")
	ErrNothingToSave = errors.New("no transcription available to save")
)

const (
	NoticePaused  = "Recording paused. Click resume to continue."
	NoticeNothing = "No transcription available to save."
)

type Transcriber interface {
	Transcribe(ctx context.Context, api, language string) transcribe.Outcome
	TranscribeSamples(ctx context.Context, api, language string, pcm []float32) transcribe.Outcome
}

type History interface {
	AppendUtterance(ctx context.Context, u history.Utterance) error
	AppendSave(ctx context.Context, s history.Save) error
	ListUtterances(ctx context.Context, sessionID string, limit int) ([]history.Utterance, error)
}

type Publisher interface {
	PublishTranscript(ctx context.Context, t bus.Transcript) error
}

// Status is what clients see after every change.
type Status struct {
	SessionID string `json:"session_id"`
	State
	Busy        bool   `json:"busy"`
	Notice      string `json:"notice,omitempty"`
	LastOutcome string `json:"last_outcome,omitempty"`
}

// Result is delivered once a background capture finished.
type Result struct {
	Status  Status
	Outcome transcribe.Outcome
}

type Deps struct {
	Transcriber Transcriber
	History     History   // optional
	Publisher   Publisher // optional
	Logger      *slog.Logger
}

// Controller serializes the session's events. The lock is never held while
// audio is captured or recognized.
type Controller struct {
	mu          sync.Mutex
	id          string
	state       State
	busy        bool
	notice      string
	lastOutcome transcribe.Kind

	tr   Transcriber
	hist History
	pub  Publisher
	log  *slog.Logger

	subMu  sync.Mutex
	subs   map[int]chan Status
	nextID int

	writeFile func(name string, data []byte, perm os.FileMode) error
}

func NewController(d Deps) *Controller {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		id:        uuid.New().String(),
		tr:        d.Transcriber,
		hist:      d.History,
		pub:       d.Publisher,
		log:       log,
		subs:      make(map[int]chan Status),
		writeFile: os.WriteFile,
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{
		SessionID:   c.id,
		State:       c.state,
		Busy:        c.busy,
		Notice:      c.notice,
		LastOutcome: string(c.lastOutcome),
	}
}

// StartAsync marks the session as recording and captures one utterance in the
// background. The channel yields exactly one Result and is then closed.
func (c *Controller) StartAsync(ctx context.Context, api, language string) (<-chan Result, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.state = c.state.Start()
	c.busy = true
	c.notice = ""
	st := c.statusLocked()
	c.mu.Unlock()

	c.log.Info("Recording started", "api", api, "language", language)
	c.broadcast(st)
	return c.run(ctx, api, language, func(ctx context.Context) transcribe.Outcome {
		return c.tr.Transcribe(ctx, api, language)
	}), nil
}

// Start is StartAsync followed by waiting for the utterance.
func (c *Controller) Start(ctx context.Context, api, language string) (Result, error) {
	ch, err := c.StartAsync(ctx, api, language)
	if err != nil {
		return Result{Status: c.Status()}, err
	}
	return <-ch, nil
}

// Pause only flips the flag; a capture already in flight still completes
// and its text is appended.
func (c *Controller) Pause() (Status, error) {
	c.mu.Lock()
	next, ok := c.state.Pause()
	if !ok {
		st := c.statusLocked()
		c.mu.Unlock()
		return st, ErrCannotPause
	}
	c.state = next
	c.notice = NoticePaused
	st := c.statusLocked()
	c.mu.Unlock()

	c.log.Warn(NoticePaused)
	c.broadcast(st)
	return st, nil
}

func (c *Controller) ResumeAsync(ctx context.Context, api, language string) (<-chan Result, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	next, ok := c.state.Resume()
	if !ok {
		c.mu.Unlock()
		return nil, ErrCannotResume
	}
	c.state = next
	c.busy = true
	c.notice = ""
	st := c.statusLocked()
	c.mu.Unlock()

	c.log.Info("Recording resumed", "api", api, "language", language)
	c.broadcast(st)
	return c.run(ctx, api, language, func(ctx context.Context) transcribe.Outcome {
		return c.tr.Transcribe(ctx, api, language)
	}), nil
}

func (c *Controller) Resume(ctx context.Context, api, language string) (Result, error) {
	ch, err := c.ResumeAsync(ctx, api, language)
	if err != nil {
		return Result{Status: c.Status()}, err
	}
	return <-ch, nil
}

// Import decodes an audio file and appends its transcription like a spoken
// utterance. The recording flags are left as they are.
func (c *Controller) Import(ctx context.Context, api, language, path string) (Result, error) {
	pcm, err := audioconv.DecodeFile(path, audioconv.Options{})
	if err != nil {
		return Result{Status: c.Status()}, fmt.Errorf("decode %s: %w", path, err)
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Result{Status: c.Status()}, ErrBusy
	}
	c.busy = true
	c.notice = ""
	st := c.statusLocked()
	c.mu.Unlock()

	c.log.Info("Importing audio", "path", path, "samples", len(pcm))
	c.broadcast(st)
	return <-c.run(ctx, api, language, func(ctx context.Context) transcribe.Outcome {
		return c.tr.TranscribeSamples(ctx, api, language, pcm)
	}), nil
}

func (c *Controller) run(ctx context.Context, api, language string, do func(context.Context) transcribe.Outcome) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		outcome := do(ctx)

		c.mu.Lock()
		c.state = c.state.Append(outcome.Text)
		c.busy = false
		c.lastOutcome = outcome.Kind
		st := c.statusLocked()
		c.mu.Unlock()

		c.record(context.WithoutCancel(ctx), api, language, outcome)
		c.broadcast(st)
		out <- Result{Status: st, Outcome: outcome}
	}()
	return out
}

func (c *Controller) record(ctx context.Context, api, language string, o transcribe.Outcome) {
	if c.hist != nil {
		err := c.hist.AppendUtterance(ctx, history.Utterance{
			SessionID: c.id,
			API:       api,
			Language:  language,
			Outcome:   string(o.Kind),
			Text:      o.Text,
			Samples:   o.Samples,
		})
		if err != nil {
			c.log.Warn("Failed to record utterance", "err", err)
		}
	}
	if c.pub != nil {
		err := c.pub.PublishTranscript(ctx, bus.Transcript{
			SessionID: c.id,
			API:       api,
			Language:  language,
			Outcome:   string(o.Kind),
			Text:      o.Text,
		})
		if err != nil {
			c.log.Warn("Failed to publish transcript", "err", err)
		}
	}
}

// Save overwrites fileName with the transcription. An empty transcription
// returns ErrNothingToSave and leaves the filesystem alone.
func (c *Controller) Save(ctx context.Context, fileName string) (Status, error) {
	c.mu.Lock()
	text := c.state.Transcription
	c.mu.Unlock()

	if text == "" {
		st := c.setNotice(NoticeNothing)
		c.log.Warn(NoticeNothing)
		return st, ErrNothingToSave
	}

	if err := c.writeFile(fileName, []byte(text), 0o644); err != nil {
		st := c.setNotice(fmt.Sprintf("Failed to save transcription: %v", err))
		return st, fmt.Errorf("save transcription: %w", err)
	}

	c.log.Info("Transcription saved", "file", fileName, "bytes", len(text))
	if c.hist != nil {
		if err := c.hist.AppendSave(ctx, history.Save{SessionID: c.id, Path: fileName, Bytes: len(text)}); err != nil {
			c.log.Warn("Failed to record save", "err", err)
		}
	}
	return c.setNotice("Transcription saved to " + fileName), nil
}

// Reset clears the transcription and both flags.
func (c *Controller) Reset() (Status, error) {
	c.mu.Lock()
	if c.busy {
		st := c.statusLocked()
		c.mu.Unlock()
		return st, ErrBusy
	}
	c.state = c.state.Reset()
	c.notice = ""
	c.lastOutcome = ""
	st := c.statusLocked()
	c.mu.Unlock()

	c.log.Info("Session reset")
	c.broadcast(st)
	return st, nil
}

// History lists this session's recent utterances, newest first.
func (c *Controller) History(ctx context.Context, limit int) ([]history.Utterance, error) {
	if c.hist == nil {
		return nil, nil
	}
	return c.hist.ListUtterances(ctx, c.id, limit)
}

func (c *Controller) setNotice(n string) Status {
	c.mu.Lock()
	c.notice = n
	st := c.statusLocked()
	c.mu.Unlock()
	c.broadcast(st)
	return st
}

// Subscribe returns a channel of status updates and a function that ends the
// subscription. Updates are dropped for subscribers that fall behind.
func (c *Controller) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 8)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			close(ch)
			c.subMu.Unlock()
		})
	}
}

func (c *Controller) broadcast(st Status) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- st:
		default:
		}
	}
}
