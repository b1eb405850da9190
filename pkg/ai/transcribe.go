package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// Transcriber converts a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// WhisperTranscriber calls the OpenAI-compatible /audio/transcriptions
// endpoint.
type WhisperTranscriber struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewWhisperTranscriber uses https://api.openai.com/v1 when baseURL is empty.
func NewWhisperTranscriber(baseURL, apiKey, model string, timeout time.Duration) *WhisperTranscriber {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &WhisperTranscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if filename == "" {
		filename = "voice.ogg"
	}
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("model", t.model); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("transcribe: decode response: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", ErrEmptyInput
	}
	return text, nil
}
