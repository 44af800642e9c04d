package main

import (
	"testing"

	"caption/internal/config"
)

func TestWhisperOptions(t *testing.T) {
	stt := config.Default().STT
	stt.WhisperThreads = 4
	stt.WhisperPrompt = "names: Anna, Jörg"
	stt.WhisperBeam = 3
	stt.WhisperTemp = 0.4

	opt := whisperOptions(stt)
	if opt.Threads != 4 || opt.BeamSize != 3 || opt.InitialPrompt != "names: Anna, Jörg" {
		t.Fatalf("unexpected options %+v", opt)
	}
	if opt.Temperature != float32(0.4) {
		t.Fatalf("unexpected temperature %v", opt.Temperature)
	}
}
