// Package cartesia transcribes caller audio with the Cartesia batch STT API.
package cartesia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dennisdiepolder/monti/convo/internal/pipeline"
	"github.com/dennisdiepolder/monti/convo/internal/types"
)

const (
	DefaultBaseURL = "https://api.cartesia.ai"
	apiVersion     = "2025-04-16"
	defaultModel   = "ink-whisper"
)

// Transcriber implements pipeline.Transcriber
type Transcriber struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a transcriber. A nil client uses http.DefaultClient.
func New(apiKey, baseURL string, client *http.Client) *Transcriber {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Transcriber{apiKey: apiKey, baseURL: baseURL, model: defaultModel, httpClient: client}
}

type transcriptionResponse struct {
	Text     string   `json:"text"`
	Language *string  `json:"language,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

// Transcribe uploads the chunk and returns its transcript
func (t *Transcriber) Transcribe(ctx context.Context, chunk types.AudioChunk) (pipeline.Transcription, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio."+extension(chunk.Format))
	if err != nil {
		return pipeline.Transcription{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(chunk.Audio); err != nil {
		return pipeline.Transcription{}, fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", t.model); err != nil {
		return pipeline.Transcription{}, fmt.Errorf("write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return pipeline.Transcription{}, fmt.Errorf("close multipart writer: %w", err)
	}

	u, err := url.Parse(t.baseURL + "/stt")
	if err != nil {
		return pipeline.Transcription{}, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	if enc := encoding(chunk.Format); enc != "" {
		q.Set("encoding", enc)
	}
	if chunk.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(chunk.SampleRate))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &buf)
	if err != nil {
		return pipeline.Transcription{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Cartesia-Version", apiVersion)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return pipeline.Transcription{}, fmt.Errorf("cartesia request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return pipeline.Transcription{}, fmt.Errorf("cartesia error %d: %s", resp.StatusCode, string(body))
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return pipeline.Transcription{}, fmt.Errorf("parse response: %w", err)
	}

	tr := pipeline.Transcription{Transcript: out.Text, Confidence: 1}
	if out.Language != nil {
		tr.Language = *out.Language
	}
	return tr, nil
}

func extension(format string) string {
	switch format {
	case "wav", "mp3", "webm", "ogg", "flac", "m4a":
		return format
	default:
		return "wav"
	}
}

// encoding returns the raw PCM encoding the API expects, if any
func encoding(format string) string {
	switch format {
	case "pcm_s16le", "pcm_f32le", "pcm_mulaw", "pcm_alaw":
		return format
	default:
		return ""
	}
}
