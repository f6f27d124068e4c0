// Package notify delivers job lifecycle notifications to Discord-compatible
// webhooks.
//
// Delivery is strictly best-effort: every failure is logged and swallowed so
// that a broken webhook can never affect the job it reports on. Posts are
// rate limited to stay under the per-webhook budget Discord enforces.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/MrWong99/rescribe/pkg/types"
)

// Embed sidebar colors for the three lifecycle events.
const (
	colorStarted   = 0x0099FF
	colorCompleted = 0x00FF00
	colorFailed    = 0xFF0000
)

// defaultUsername is the webhook display name when none is configured.
const defaultUsername = "rescribe"

// defaultTimeout bounds a single webhook post.
const defaultTimeout = 10 * time.Second

// maxErrorLen caps the error text in a failed embed. Discord rejects field
// values over 1024 characters.
const maxErrorLen = 1000

// footerText appears under every embed.
const footerText = "rescribe"

// Notifier posts lifecycle embeds to a webhook URL. A job may carry its own
// webhook URL; otherwise the configured default is used. With neither set,
// notifications for that job are silently skipped.
type Notifier struct {
	defaultURL string
	username   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option is a functional option for Notifier.
type Option func(*Notifier)

// WithUsername sets the display name webhook posts appear under.
func WithUsername(name string) Option {
	return func(n *Notifier) {
		if name != "" {
			n.username = name
		}
	}
}

// WithTimeout overrides the HTTP timeout for a single post.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		n.httpClient.Timeout = d
	}
}

// WithRateLimit overrides the posting rate limit.
func WithRateLimit(l *rate.Limiter) Option {
	return func(n *Notifier) {
		n.limiter = l
	}
}

// New creates a Notifier. defaultURL may be empty, in which case only jobs
// carrying their own webhook URL produce notifications.
func New(defaultURL string, opts ...Option) *Notifier {
	n := &Notifier{
		defaultURL: defaultURL,
		username:   defaultUsername,
		httpClient: &http.Client{Timeout: defaultTimeout},
		// Discord allows 30 posts per minute per webhook; half that with a
		// small burst leaves headroom for other senders.
		limiter: rate.NewLimiter(rate.Every(4*time.Second), 5),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// JobStarted announces that processing of a job has begun.
func (n *Notifier) JobStarted(ctx context.Context, job *types.Job) {
	embed := &discordgo.MessageEmbed{
		Title:       "Transcription started",
		Description: "The two-pass transcription of your upload is underway.",
		Color:       colorStarted,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "File", Value: fileName(job), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: footerText},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	n.post(ctx, job, embed)
}

// JobCompleted announces a finished job together with its processing time and
// the number of second-pass corrections that made it into the transcript.
func (n *Notifier) JobCompleted(ctx context.Context, job *types.Job, elapsed time.Duration, applied int) {
	embed := &discordgo.MessageEmbed{
		Title:       "Transcription completed",
		Description: "Your transcript is ready.",
		Color:       colorCompleted,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "File", Value: fileName(job), Inline: true},
			{Name: "Processing time", Value: elapsed.Truncate(time.Second).String(), Inline: true},
			{Name: "Corrections applied", Value: fmt.Sprintf("%d", applied), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: footerText},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	n.post(ctx, job, embed)
}

// JobFailed announces a failed job with a truncated error text.
func (n *Notifier) JobFailed(ctx context.Context, job *types.Job, jobErr error) {
	msg := "unknown error"
	if jobErr != nil {
		msg = truncate(jobErr.Error(), maxErrorLen)
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Transcription failed",
		Description: "The job could not be completed.",
		Color:       colorFailed,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "File", Value: fileName(job), Inline: true},
			{Name: "Error", Value: msg, Inline: false},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: footerText},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	n.post(ctx, job, embed)
}

// post delivers one embed to the job's webhook. All failure paths log and
// return; nothing propagates to the caller.
func (n *Notifier) post(ctx context.Context, job *types.Job, embed *discordgo.MessageEmbed) {
	url := n.defaultURL
	if job.WebhookURL != "" {
		url = job.WebhookURL
	}
	if url == "" {
		slog.Debug("notify: no webhook configured, skipping", "job", job.ID)
		return
	}

	if err := n.limiter.Wait(ctx); err != nil {
		slog.Warn("notify: rate limiter wait aborted", "job", job.ID, "err", err)
		return
	}

	params := &discordgo.WebhookParams{
		Username: n.username,
		Embeds:   []*discordgo.MessageEmbed{embed},
	}
	payload, err := json.Marshal(params)
	if err != nil {
		slog.Warn("notify: encode webhook payload", "job", job.ID, "err", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		slog.Warn("notify: create webhook request", "job", job.ID, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		slog.Warn("notify: post webhook", "job", job.ID, "err", err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("notify: webhook rate limited by remote", "job", job.ID)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		slog.Warn("notify: webhook returned error", "job", job.ID, "status", resp.StatusCode)
	default:
		slog.Debug("notify: webhook delivered", "job", job.ID, "title", embed.Title)
	}
}

// fileName picks the friendliest name available for the job's audio file.
func fileName(job *types.Job) string {
	if job.OriginalFilename != "" {
		return job.OriginalFilename
	}
	if job.AudioPath != "" {
		return filepath.Base(job.AudioPath)
	}
	return job.ID
}

// truncate shortens s to at most n bytes without splitting a rune, marking
// the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}
