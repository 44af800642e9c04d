package audioconv

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func toInt16(x float32) int16 {
	v := math.Round(clamp(float64(x), -1, 1) * 32767)
	return int16(v)
}

// Float32ToPCM16LE packs samples as signed 16-bit little-endian PCM.
func Float32ToPCM16LE(pcm []float32) []byte {
	out := make([]byte, len(pcm)*2)
	for i, x := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(x)))
	}
	return out
}

// EncodeWAV writes samples as a 16-bit mono WAV file.
func EncodeWAV(w io.WriteSeeker, pcm []float32, sampleRate int) error {
	data := make([]int, len(pcm))
	for i, x := range pcm {
		data[i] = int(toInt16(x))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
