package stt

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

var (
	// ErrUnknownValue means the backend heard the audio but could not turn it into text.
	ErrUnknownValue = errors.New("speech is unintelligible")
	// ErrRequest means the backend could not be reached or refused the request.
	ErrRequest = errors.New("recognition request failed")
)

// Recognizer turns one utterance into text. pcm16k is mono 16 kHz float32 in [-1, 1];
// language is a BCP-47 tag passed through from the user.
type Recognizer interface {
	Recognize(ctx context.Context, pcm16k []float32, language string) (string, error)
}

// Registry maps backend names as shown to the user onto recognizers.
type Registry struct {
	mu       sync.RWMutex
	names    []string
	backends map[string]Recognizer
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Recognizer)}
}

func (r *Registry) Register(name string, rec Recognizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		r.names = append(r.names, name)
	}
	r.backends[name] = rec
}

func (r *Registry) Lookup(name string) (Recognizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.backends[name]
	return rec, ok
}

// Names returns backend names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, name := range r.names {
		if c, ok := r.backends[name].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// primaryLanguage reduces "zh-CN" to "zh" for engines that only take ISO 639-1 codes.
func primaryLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "auto"
	}
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
