package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"caption/internal/audio"
	"caption/pkg/stt"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSource struct {
	pcm   []float32
	err   error
	calls int
}

func (f *fakeSource) Capture(context.Context) ([]float32, error) {
	f.calls++
	return f.pcm, f.err
}

type fakeRecognizer struct {
	text     string
	err      error
	language string
	samples  int
	block    bool
}

func (f *fakeRecognizer) Recognize(ctx context.Context, pcm []float32, language string) (string, error) {
	f.language = language
	f.samples = len(pcm)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

type countingCue struct{ plays int }

func (c *countingCue) Play() error { c.plays++; return nil }

type recordingDucker struct{ ducked, restored int }

func (d *recordingDucker) Duck(context.Context) error    { d.ducked++; return nil }
func (d *recordingDucker) Restore(context.Context) error { d.restored++; return nil }

func newTranscriber(src Source, rec stt.Recognizer, cfg Config) *Transcriber {
	reg := stt.NewRegistry()
	reg.Register("Google", rec)
	return New(src, reg, cfg, newLogger())
}

func TestTranscribeOutcomes(t *testing.T) {
	cases := []struct {
		name string
		src  *fakeSource
		rec  *fakeRecognizer
		text string
		kind Kind
	}{
		{"ok", &fakeSource{pcm: make([]float32, 10)}, &fakeRecognizer{text: "hello"}, "hello", KindOK},
		{"unknown value", &fakeSource{pcm: make([]float32, 10)}, &fakeRecognizer{err: stt.ErrUnknownValue}, MsgUnknownValue, KindUnknownValue},
		{"request error", &fakeSource{pcm: make([]float32, 10)}, &fakeRecognizer{err: errors.Join(stt.ErrRequest, errors.New("dns"))}, MsgRequest, KindRequestError},
		{"other error", &fakeSource{pcm: make([]float32, 10)}, &fakeRecognizer{err: errors.New("boom")}, "An error occurred: boom", KindError},
		{"capture error", &fakeSource{err: errors.New("device busy")}, &fakeRecognizer{text: "unused"}, "An error occurred: device busy", KindError},
		{"no speech", &fakeSource{err: audio.ErrNoSpeech}, &fakeRecognizer{text: "unused"}, MsgUnknownValue, KindUnknownValue},
	}
	for _, tc := range cases {
		tr := newTranscriber(tc.src, tc.rec, Config{})
		out := tr.Transcribe(context.Background(), "Google", "en-US")
		if out.Text != tc.text {
			t.Fatalf("%s: expected text %q, got %q", tc.name, tc.text, out.Text)
		}
		if out.Kind != tc.kind {
			t.Fatalf("%s: expected kind %s, got %s", tc.name, tc.kind, out.Kind)
		}
		if tc.src.calls != 1 {
			t.Fatalf("%s: expected one capture, got %d", tc.name, tc.src.calls)
		}
	}
}

func TestTranscribeUnsupportedSkipsCapture(t *testing.T) {
	src := &fakeSource{pcm: make([]float32, 10)}
	rec := &fakeRecognizer{text: "hello"}
	tr := newTranscriber(src, rec, Config{})

	out := tr.Transcribe(context.Background(), "Bing", "en-US")
	if out.Text != "Selected API is not supported yet." {
		t.Fatalf("unexpected text %q", out.Text)
	}
	if out.Kind != KindUnsupported {
		t.Fatalf("unexpected kind %s", out.Kind)
	}
	if src.calls != 0 {
		t.Fatal("microphone must not be opened for an unsupported backend")
	}
	if rec.language != "" {
		t.Fatal("backend must not be called")
	}
}

func TestTranscribePassesLanguageVerbatim(t *testing.T) {
	rec := &fakeRecognizer{text: "你好"}
	tr := newTranscriber(&fakeSource{pcm: make([]float32, 10)}, rec, Config{})
	tr.Transcribe(context.Background(), "Google", "zh-CN")
	if rec.language != "zh-CN" {
		t.Fatalf("expected zh-CN, got %q", rec.language)
	}
}

func TestTranscribeTimeout(t *testing.T) {
	tr := newTranscriber(&fakeSource{pcm: make([]float32, 10)}, &fakeRecognizer{block: true}, Config{Timeout: 10 * time.Millisecond})
	out := tr.Transcribe(context.Background(), "Google", "en-US")
	if out.Kind != KindRequestError {
		t.Fatalf("expected request error on timeout, got %s (%q)", out.Kind, out.Text)
	}
}

func TestTranscribeCueDuckAndDump(t *testing.T) {
	cue := &countingCue{}
	ducker := &recordingDucker{}
	dir := t.TempDir()
	tr := newTranscriber(&fakeSource{pcm: make([]float32, 160)}, &fakeRecognizer{text: "ok"}, Config{
		Cue:     cue,
		Ducker:  ducker,
		DumpDir: dir,
	})

	tr.Transcribe(context.Background(), "Google", "en-US")
	if cue.plays != 1 {
		t.Fatalf("expected one cue, got %d", cue.plays)
	}
	if ducker.ducked != 1 || ducker.restored != 1 {
		t.Fatalf("expected duck/restore once, got %d/%d", ducker.ducked, ducker.restored)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dump dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one dumped utterance, got %d", len(entries))
	}
}

func TestTranscribeSamples(t *testing.T) {
	src := &fakeSource{}
	tr := newTranscriber(src, &fakeRecognizer{text: "from file"}, Config{})
	out := tr.TranscribeSamples(context.Background(), "Google", "en-US", make([]float32, 32))
	if out.Text != "from file" || out.Samples != 32 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if src.calls != 0 {
		t.Fatal("file transcription must not use the microphone")
	}
	if got := tr.Backends(); len(got) != 1 || got[0] != "Google" {
		t.Fatalf("unexpected backends %v", got)
	}
}

func TestTranscribeResamplesDeviceRate(t *testing.T) {
	rec := &fakeRecognizer{text: "ok"}
	dir := t.TempDir()
	tr := newTranscriber(&fakeSource{pcm: make([]float32, 4800)}, rec, Config{SampleRate: 48000, DumpDir: dir})

	out := tr.Transcribe(context.Background(), "Google", "en-US")
	if !out.OK() {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if rec.samples != 1600 {
		t.Fatalf("expected 1600 samples at 16 kHz, got %d", rec.samples)
	}
	if out.Samples != 1600 {
		t.Fatalf("outcome should count recognized samples, got %d", out.Samples)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one dump, got %v %v", entries, err)
	}
	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("open dump: %v", err)
	}
	defer f.Close()
	d := wav.NewDecoder(f)
	d.ReadInfo()
	if d.SampleRate != 48000 {
		t.Fatalf("dump should keep the device rate, got %d", d.SampleRate)
	}
}

func TestTranscribeKeepsTargetRate(t *testing.T) {
	rec := &fakeRecognizer{text: "ok"}
	tr := newTranscriber(&fakeSource{pcm: make([]float32, 320)}, rec, Config{SampleRate: 16000})
	tr.Transcribe(context.Background(), "Google", "en-US")
	if rec.samples != 320 {
		t.Fatalf("expected samples untouched, got %d", rec.samples)
	}
}
