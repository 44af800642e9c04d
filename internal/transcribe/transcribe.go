package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"caption/internal/audio"
	"caption/pkg/audioconv"
	"caption/pkg/stt"
)

// Texts shown in place of a transcription when recognition fails.
const (
	MsgUnsupported  = "Selected API is not supported yet."
	MsgUnknownValue = "Sorry, I could not understand the audio."
	MsgRequest      = "Could not request results; check your network connection."
	msgErrorPrefix  = "An error occurred: "
)

type Kind string

const (
	KindOK           Kind = "ok"
	KindUnknownValue Kind = "unknown_value"
	KindRequestError Kind = "request_error"
	KindUnsupported  Kind = "unsupported"
	KindError        Kind = "error"
)

// Outcome is what one utterance produced. Text is always user-presentable;
// Kind and Err tell failures apart from recognized speech.
type Outcome struct {
	Text    string
	Kind    Kind
	Samples int
	Err     error
}

func (o Outcome) OK() bool { return o.Kind == KindOK }

// Source yields one utterance of mono samples at the configured rate.
type Source interface {
	Capture(ctx context.Context) ([]float32, error)
}

type Cue interface {
	Play() error
}

type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

type Config struct {
	SampleRate int
	Timeout    time.Duration // per recognition call, 0 = none
	DumpDir    string        // keep every captured utterance as WAV when set
	Cue        Cue
	Ducker     Ducker
}

type Transcriber struct {
	src      Source
	backends *stt.Registry
	cfg      Config
	log      *slog.Logger

	utterances metric.Int64Counter
	latency    metric.Float64Histogram
}

func New(src Source, backends *stt.Registry, cfg Config, log *slog.Logger) *Transcriber {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	meter := otel.Meter("caption/transcribe")
	utterances, _ := meter.Int64Counter("caption.utterances",
		metric.WithDescription("Utterances processed, by backend and outcome"))
	latency, _ := meter.Float64Histogram("caption.recognition.duration",
		metric.WithDescription("Backend recognition latency"),
		metric.WithUnit("s"))

	return &Transcriber{
		src:        src,
		backends:   backends,
		cfg:        cfg,
		log:        log,
		utterances: utterances,
		latency:    latency,
	}
}

// Backends lists the selectable backend names.
func (t *Transcriber) Backends() []string {
	return t.backends.Names()
}

// Transcribe captures one utterance from the microphone and recognizes it
// with the named backend. It never fails: every error becomes Outcome text.
func (t *Transcriber) Transcribe(ctx context.Context, api, language string) Outcome {
	rec, ok := t.backends.Lookup(api)
	if !ok {
		return t.finish(ctx, api, Outcome{Text: MsgUnsupported, Kind: KindUnsupported})
	}

	pcm, err := t.capture(ctx)
	if err != nil {
		return t.finish(ctx, api, failure(err, 0))
	}
	return t.recognize(ctx, rec, api, language, pcm)
}

// TranscribeSamples recognizes already captured audio, e.g. an imported file.
func (t *Transcriber) TranscribeSamples(ctx context.Context, api, language string, pcm []float32) Outcome {
	rec, ok := t.backends.Lookup(api)
	if !ok {
		return t.finish(ctx, api, Outcome{Text: MsgUnsupported, Kind: KindUnsupported})
	}
	return t.recognize(ctx, rec, api, language, pcm)
}

func (t *Transcriber) capture(ctx context.Context) ([]float32, error) {
	if t.cfg.Cue != nil {
		if err := t.cfg.Cue.Play(); err != nil {
			t.log.Warn("Failed to play cue", "err", err)
		}
	}
	if t.cfg.Ducker != nil {
		if err := t.cfg.Ducker.Duck(ctx); err != nil {
			t.log.Warn("Failed to duck playback", "err", err)
		}
		defer func() {
			if err := t.cfg.Ducker.Restore(context.WithoutCancel(ctx)); err != nil {
				t.log.Warn("Failed to restore playback", "err", err)
			}
		}()
	}

	t.log.Info("Speak now...")
	pcm, err := t.src.Capture(ctx)
	if err != nil {
		return nil, err
	}
	t.log.Debug("Captured utterance", "samples", len(pcm))

	if t.cfg.DumpDir != "" {
		path, err := audio.WriteWAV(t.cfg.DumpDir, pcm, t.cfg.SampleRate)
		if err != nil {
			t.log.Warn("Failed to dump utterance", "err", err)
		} else {
			t.log.Debug("Dumped utterance", "path", path)
		}
	}

	// recognizers take 16 kHz; the dump above keeps the device rate
	if t.cfg.SampleRate != audioconv.TargetRate {
		pcm = audioconv.Resample(pcm, t.cfg.SampleRate, audioconv.TargetRate)
	}
	return pcm, nil
}

func (t *Transcriber) recognize(ctx context.Context, rec stt.Recognizer, api, language string, pcm []float32) Outcome {
	ctx, span := otel.Tracer("caption/transcribe").Start(ctx, "recognize",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("stt.api", api),
			attribute.String("stt.language", language),
			attribute.Int("stt.samples", len(pcm)),
		))
	defer span.End()

	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	t.log.Info("Transcribing...", "api", api, "language", language)
	started := time.Now()
	text, err := rec.Recognize(ctx, pcm, language)
	t.latency.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(attribute.String("api", api)))

	var out Outcome
	if err != nil {
		out = failure(err, len(pcm))
		span.SetStatus(codes.Error, err.Error())
	} else {
		out = Outcome{Text: text, Kind: KindOK, Samples: len(pcm)}
	}
	return t.finish(ctx, api, out)
}

func (t *Transcriber) finish(ctx context.Context, api string, out Outcome) Outcome {
	t.utterances.Add(ctx, 1, metric.WithAttributes(
		attribute.String("api", api),
		attribute.String("outcome", string(out.Kind)),
	))
	if out.OK() {
		t.log.Info("Transcribed", "api", api, "text", out.Text)
	} else {
		t.log.Warn("Recognition failed", "api", api, "outcome", out.Kind, "err", out.Err)
	}
	return out
}

func failure(err error, samples int) Outcome {
	switch {
	case errors.Is(err, stt.ErrUnknownValue), errors.Is(err, audio.ErrNoSpeech):
		return Outcome{Text: MsgUnknownValue, Kind: KindUnknownValue, Samples: samples, Err: err}
	case errors.Is(err, stt.ErrRequest), errors.Is(err, context.DeadlineExceeded):
		return Outcome{Text: MsgRequest, Kind: KindRequestError, Samples: samples, Err: err}
	default:
		return Outcome{Text: msgErrorPrefix + err.Error(), Kind: KindError, Samples: samples, Err: err}
	}
}
