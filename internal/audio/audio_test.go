package audio

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"caption/pkg/audioconv"
)

func frame(v float32, n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestEndpointer(t *testing.T) {
	cfg := RecorderConfig{SampleRate: 16000, FrameMS: 20, SilenceRMS: 0.015, SilenceMS: 60}
	e := newEndpointer(cfg)

	// leading silence is dropped
	if e.push(frame(0, 320)) || len(e.out) != 0 {
		t.Fatal("leading silence should not start the utterance")
	}
	if e.push(frame(0.2, 320)) {
		t.Fatal("speech should not end the utterance")
	}
	if e.push(frame(0, 320)) || e.push(frame(0, 320)) {
		t.Fatal("two quiet frames are below the 60ms tail")
	}
	if !e.push(frame(0, 320)) {
		t.Fatal("third quiet frame should end the utterance")
	}
	if len(e.out) != 3*320 {
		t.Fatalf("expected speech plus two tail frames, got %d samples", len(e.out))
	}
}

func TestFrameRMS(t *testing.T) {
	if got := frameRMS(frame(0.5, 10)); got < 0.4999 || got > 0.5001 {
		t.Fatalf("expected 0.5, got %f", got)
	}
	if frameRMS(nil) != 0 {
		t.Fatal("expected zero rms for empty frame")
	}
}

func TestWriteWAV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	path, err := WriteWAV(dir, frame(0.1, 1600), 16000)
	if err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "utterance_") {
		t.Fatalf("unexpected name %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	}
	pcm, err := audioconv.DecodeFile(path, audioconv.Options{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != 1600 {
		t.Fatalf("expected 1600 samples, got %d", len(pcm))
	}
}

const pactlSample = `Sink Input #41
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
Sink Input #42
	Volume: front-left: 52429 /  80% / -5.81 dB
	Properties:
		application.name = "caption"
`

func TestParseSinkInputs(t *testing.T) {
	inputs := parseSinkInputs(pactlSample)
	if len(inputs) != 2 {
		t.Fatalf("expected 2 inputs, got %d", len(inputs))
	}
	if inputs[0].ID != 41 || inputs[0].Volume != 100 || inputs[0].AppName != "Firefox" {
		t.Fatalf("unexpected first input %+v", inputs[0])
	}
	if inputs[1].ID != 42 || inputs[1].Volume != 80 {
		t.Fatalf("unexpected second input %+v", inputs[1])
	}
}

func TestDuckerDuckAndRestore(t *testing.T) {
	vols := map[int]int{}
	d := NewDucker([]string{"caption"}, 0.3, 0)
	d.list = func(context.Context) ([]sinkInput, error) {
		inputs := parseSinkInputs(pactlSample)
		for i := range inputs {
			if v, ok := vols[inputs[i].ID]; ok {
				inputs[i].Volume = v
			}
		}
		return inputs, nil
	}
	d.setVol = func(_ context.Context, id, percent int) error {
		vols[id] = percent
		return nil
	}

	ctx := context.Background()
	if err := d.Duck(ctx); err != nil {
		t.Fatalf("duck: %v", err)
	}
	if vols[41] != 30 {
		t.Fatalf("expected firefox ducked to 30, got %d", vols[41])
	}
	if _, touched := vols[42]; touched {
		t.Fatal("own stream must not be ducked")
	}
	if err := d.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if vols[41] != 100 {
		t.Fatalf("expected firefox restored to 100, got %d", vols[41])
	}
}
