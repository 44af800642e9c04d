package stt

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"caption/pkg/audioconv"
)

// OpenAI sends utterances to the hosted transcription endpoint.
type OpenAI struct {
	client     openai.Client
	model      string
	sampleRate int
}

func NewOpenAI(apiKey, model string, sampleRate int, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &OpenAI{
		client:     openai.NewClient(opts...),
		model:      model,
		sampleRate: sampleRate,
	}
}

func (o *OpenAI) Recognize(ctx context.Context, pcm16k []float32, language string) (string, error) {
	if len(pcm16k) == 0 {
		return "", ErrUnknownValue
	}

	f, err := os.CreateTemp("", "caption_openai_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := audioconv.EncodeWAV(f, pcm16k, o.sampleRate); err != nil {
		return "", err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", fmt.Errorf("rewind wav: %w", err)
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(f, "utterance.wav", "audio/wav"),
		Model: openai.AudioModel(o.model),
	}
	if lang := primaryLanguage(language); lang != "auto" {
		params.Language = openai.String(lang)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequest, err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrUnknownValue
	}
	return text, nil
}
