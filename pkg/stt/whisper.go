package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type Options struct {
	Threads       int     // <=0 => NumCPU()
	InitialPrompt string  // optional prefix prompt
	BeamSize      int     // 0 = greedy
	Temperature   float32 // 0 = default
}

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}

// Whisper is the local offline engine. It is registered under the name the
// UI offers for offline recognition.
type Whisper struct {
	mu    sync.Mutex
	model whisper.Model // nil when no model was configured
	opt   Options
}

// NewWhisper loads the ggml model at modelPath. An empty path yields an engine
// whose every request fails with ErrRequest, so the backend stays selectable
// and reports itself as unavailable.
func NewWhisper(modelPath string, opt Options) (*Whisper, error) {
	if modelPath == "" {
		return &Whisper{opt: opt}, nil
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Whisper{model: m, opt: opt}, nil
}

func (w *Whisper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}

func (w *Whisper) Recognize(ctx context.Context, pcm16k []float32, language string) (string, error) {
	res, err := w.TranscribePCM(ctx, pcm16k, primaryLanguage(language))
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", ErrUnknownValue
	}
	return text, nil
}

// TranscribePCM decodes mono 16 kHz samples. lang is an ISO 639-1 code or "auto".
func (w *Whisper) TranscribePCM(ctx context.Context, pcm16k []float32, lang string) (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.model == nil {
		return Result{}, fmt.Errorf("%w: offline model not loaded", ErrRequest)
	}
	if len(pcm16k) == 0 {
		return Result{}, ErrUnknownValue
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}

	if err := wctx.SetLanguage(lang); err != nil {
		return Result{}, fmt.Errorf("%w: language %q not available offline: %v", ErrRequest, lang, err)
	}
	wctx.SetTranslate(false)

	threads := w.opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if w.opt.BeamSize > 0 {
		wctx.SetBeamSize(w.opt.BeamSize)
	}
	if w.opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(w.opt.InitialPrompt)
	}
	if w.opt.Temperature != 0 {
		wctx.SetTemperature(w.opt.Temperature)
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}

	var (
		segs  []Segment
		parts []string
	)
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		s, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}
		segs = append(segs, Segment{
			Text:     s.Text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}

	detected := wctx.DetectedLanguage()
	if detected == "" {
		detected = wctx.Language()
	}

	return Result{
		Text:     strings.Join(parts, " "),
		Segments: segs,
		Language: detected,
	}, nil
}
