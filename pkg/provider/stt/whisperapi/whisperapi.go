// Package whisperapi provides an stt.Provider backed by a Whisper-compatible
// HTTP transcription server.
//
// It talks to any server exposing the OpenAI-style
// POST /v1/audio/transcriptions endpoint (faster-whisper-server, speaches,
// whisper.cpp's server, the OpenAI API itself) and requests verbose JSON with
// word granularity, which carries the per-word probabilities the correction
// pipeline needs.
//
// Usage:
//
//	p, err := whisperapi.New("http://localhost:9000",
//	    whisperapi.WithModel("whisper-large-v3"),
//	)
//	tr, err := p.TranscribeFile(ctx, "/data/uploads/recording.wav")
package whisperapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/rescribe/pkg/provider/stt"
	"github.com/MrWong99/rescribe/pkg/types"
)

// transcriptionsPath is the OpenAI-compatible batch transcription endpoint.
const transcriptionsPath = "/v1/audio/transcriptions"

// defaultTimeout bounds one whole-file transcription request. Long
// recordings take minutes on CPU-only servers.
const defaultTimeout = 5 * time.Minute

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g.,
// "whisper-large-v3"). When empty the server uses whichever model it was
// started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language hint sent with each request (e.g., "en").
// Empty lets the server auto-detect, which is the default.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout overrides the per-request timeout. Defaults to 5 minutes.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements stt.Provider against a Whisper-compatible HTTP server.
// It is stateless apart from configuration; one Provider may serve any number
// of concurrent transcriptions.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider that connects to the transcription server at
// serverURL (e.g., "http://localhost:9000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisperapi: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// TranscribeFile uploads the audio file at path as multipart/form-data and
// decodes the verbose JSON response into a [types.Transcription].
func (p *Provider) TranscribeFile(ctx context.Context, path string) (*types.Transcription, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("whisperapi: create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("whisperapi: read audio: %w", err)
	}

	// verbose_json with word granularity is what makes the first pass
	// usable: it is the only response shape that carries per-word
	// probabilities.
	fields := map[string]string{
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "word",
	}
	if p.model != "" {
		fields["model"] = p.model
	}
	if p.language != "" {
		fields["language"] = p.language
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("whisperapi: write %s field: %w", name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisperapi: close multipart writer: %w", err)
	}

	endpoint := p.serverURL + transcriptionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("whisperapi: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisperapi: read response body: %w", err)
	}

	var result verboseResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisperapi: parse JSON response: %w", err)
	}

	tr := &types.Transcription{
		Text:     strings.TrimSpace(result.Text),
		Language: result.Language,
		Duration: result.Duration,
		Words:    make([]types.Word, 0, len(result.Words)),
	}
	for _, w := range result.Words {
		tr.Words = append(tr.Words, types.Word{
			// Whisper attaches the inter-word space to the word itself.
			Text:        strings.TrimSpace(w.Word),
			Start:       w.Start,
			End:         w.End,
			Probability: w.Probability,
		})
	}
	return tr, nil
}

// verboseResponse mirrors the verbose_json payload. The payload also carries
// segments[]; only the fields below matter here and the rest is ignored.
type verboseResponse struct {
	Text     string      `json:"text"`
	Language string      `json:"language"`
	Duration float64     `json:"duration"`
	Words    []wordEntry `json:"words"`
}

type wordEntry struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}
