package audio

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"
)

var ErrNoSpeech = errors.New("no speech captured")

type RecorderConfig struct {
	SampleRate int
	FrameMS    int
	SilenceRMS float64 // frames below this RMS count as silence
	SilenceMS  int     // trailing silence that ends an utterance
	MaxSeconds int
}

// Recorder owns the default input device. Only one capture runs at a time.
type Recorder struct {
	mu  sync.Mutex
	cfg RecorderConfig
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameMS <= 0 {
		cfg.FrameMS = 20
	}
	if cfg.SilenceRMS <= 0 {
		cfg.SilenceRMS = 0.015
	}
	if cfg.SilenceMS <= 0 {
		cfg.SilenceMS = 600
	}
	if cfg.MaxSeconds <= 0 {
		cfg.MaxSeconds = 10
	}
	return &Recorder{cfg: cfg}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

func (r *Recorder) SampleRate() int { return r.cfg.SampleRate }

// Capture blocks until one utterance was heard: recording starts at the first
// loud frame and stops after SilenceMS of quiet or MaxSeconds in total.
// Cancelling ctx stops the capture at the next frame boundary.
func (r *Recorder) Capture(ctx context.Context) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frameSize := r.cfg.SampleRate * r.cfg.FrameMS / 1000
	buf := make([]float32, frameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(r.cfg.SampleRate), len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	det := newEndpointer(r.cfg)
	maxFrames := r.cfg.MaxSeconds * 1000 / r.cfg.FrameMS

	for i := 0; i < maxFrames; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}
		if det.push(buf) {
			break
		}
	}

	if len(det.out) == 0 {
		return nil, ErrNoSpeech
	}
	return det.out, nil
}

// endpointer accumulates frames from the first loud one until enough
// trailing silence was seen.
type endpointer struct {
	thresh        float64
	silenceFrames int
	speaking      bool
	quiet         int
	out           []float32
}

func newEndpointer(cfg RecorderConfig) *endpointer {
	n := cfg.SilenceMS / cfg.FrameMS
	if n < 1 {
		n = 1
	}
	return &endpointer{
		thresh:        cfg.SilenceRMS,
		silenceFrames: n,
		out:           make([]float32, 0, cfg.SampleRate*3),
	}
}

// push consumes one frame and reports whether the utterance ended.
func (e *endpointer) push(frame []float32) bool {
	if frameRMS(frame) > e.thresh {
		e.speaking = true
		e.quiet = 0
		e.out = append(e.out, frame...)
		return false
	}
	if !e.speaking {
		return false
	}
	e.quiet++
	if e.quiet >= e.silenceFrames {
		return true
	}
	e.out = append(e.out, frame...)
	return false
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
