// Package openaicompat provides an audio language model client for
// OpenAI-compatible chat completion servers that accept inline base64 audio
// content parts, such as vLLM or llama.cpp hosting Qwen2-Audio class models.
//
// Usage:
//
//	p, err := openaicompat.New("http://localhost:8000", "qwen2-audio-7b-instruct")
//	if err != nil {
//	    return err
//	}
//	text, err := p.TranscribeClip(ctx, wavBytes)
package openaicompat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/rescribe/pkg/provider/alm"
)

// chatCompletionsPath is the OpenAI-compatible chat completion endpoint,
// appended to the configured server URL.
const chatCompletionsPath = "/v1/chat/completions"

// Default request parameters. Temperature is held low and the token budget
// small so the model sticks to transcription instead of drifting into
// conversation.
const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 500
	defaultTimeout     = 2 * time.Minute
)

// systemPrompt establishes the model as a literal transcriber. The sentinel
// token is recognized downstream and causes the candidate to be discarded.
const systemPrompt = "You are a precise transcription assistant. " +
	"Transcribe exactly what is spoken in the audio, word for word. " +
	"Do not translate, summarize or comment on the content. " +
	"If you cannot make out any speech, respond with " + alm.Unintelligible + "."

// userPrompt accompanies the audio payload in the user message.
const userPrompt = "Transcribe this audio clip. Output only the raw transcription, nothing else."

// preamblePhrases lists conversational lead-ins that chat-tuned models prepend
// despite the instruction not to. Ordered longest first. Matching is
// case-insensitive and each phrase may be followed by a colon and whitespace.
var preamblePhrases = []string{
	"here is the transcription",
	"here's the transcription",
	"the transcription is",
	"the transcription reads",
	"the speaker says",
	"the audio says",
	"transcription",
	"transcript",
}

// Provider implements alm.Provider against an OpenAI-compatible chat
// completion server.
type Provider struct {
	serverURL   string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithTemperature overrides the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Provider) {
		p.temperature = t
	}
}

// WithMaxTokens overrides the default completion token budget.
func WithMaxTokens(n int) Option {
	return func(p *Provider) {
		p.maxTokens = n
	}
}

// WithTimeout overrides the default HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// New creates a Provider talking to the chat completion endpoint of the
// given server, e.g. "http://localhost:8000". The model name is mandatory
// since compatible servers reject requests without one.
func New(serverURL string, model string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("openaicompat: serverURL must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openaicompat: model must not be empty")
	}

	p := &Provider{
		serverURL:   strings.TrimRight(serverURL, "/"),
		model:       model,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// chatRequest is the JSON body for POST /v1/chat/completions.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// chatMessage is one conversation turn. Content is a plain string for the
// system role and a list of contentPart for the multimodal user role.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// contentPart is one element of a multimodal user message. Exactly one of
// Audio and Text is set, matching Type.
type contentPart struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
}

// chatResponse mirrors the subset of the chat completion response we read.
type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatChoiceMessage `json:"message"`
}

type chatChoiceMessage struct {
	Content string `json:"content"`
}

// TranscribeClip implements alm.Provider. The clip is sent inline as base64
// together with the transcription instruction; the model's answer is returned
// with known preamble phrases stripped.
func (p *Provider) TranscribeClip(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", fmt.Errorf("openaicompat: empty audio clip")
	}

	reqBody := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "audio", Audio: base64.StdEncoding.EncodeToString(wav)},
				{Type: "text", Text: userPrompt},
			}},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("openaicompat: encode request: %w", err)
	}

	endpoint := p.serverURL + chatCompletionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("openaicompat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openaicompat: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("openaicompat: server returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openaicompat: read response body: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("openaicompat: parse JSON response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openaicompat: no choices in response")
	}

	return stripPreamble(parsed.Choices[0].Message.Content), nil
}

// stripPreamble removes known conversational lead-ins from the start of model
// output, repeating until none match, then trims surrounding whitespace.
// Capitalization and internal punctuation are left untouched.
func stripPreamble(s string) string {
	out := strings.TrimSpace(s)
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(out)
		for _, phrase := range preamblePhrases {
			if !strings.HasPrefix(lower, phrase) {
				continue
			}
			rest := out[len(phrase):]
			// The phrase must stand alone, not be the start of a longer word.
			if rest != "" && rest[0] != ':' && rest[0] != ' ' && rest[0] != '\t' && rest[0] != '\n' {
				continue
			}
			out = strings.TrimLeft(rest, ": \t\n")
			changed = true
			break
		}
	}
	return strings.TrimSpace(out)
}

// Ensure Provider implements alm.Provider at compile time.
var _ alm.Provider = (*Provider)(nil)
