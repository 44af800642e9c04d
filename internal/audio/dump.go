package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"caption/pkg/audioconv"
)

// WriteWAV stores an utterance under dir as utterance_<date>_<id>.wav and returns the path.
func WriteWAV(dir string, pcm []float32, sampleRate int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dump dir: %w", err)
	}

	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	name := fmt.Sprintf("utterance_%s_%s.wav", time.Now().Format("20060102T150405"), id)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := audioconv.EncodeWAV(f, pcm, sampleRate); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
