package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// defaultPostURL is Slack's chat.postMessage endpoint.
const defaultPostURL = "https://slack.com/api/chat.postMessage"

// Message is one outbound chat message. Fire-and-forget: no identifier is
// retained after posting.
type Message struct {
	Channel     string
	Text        string
	ThreadTS    string // optional thread anchor
	MentionUser string // optional user ID to mention at the start of the text
}

// Poster sends messages to Slack via chat.postMessage.
type Poster struct {
	botToken   string
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPoster creates a poster using the given bot token. An empty token is
// allowed at construction time and reported as a ConfigError when a post is
// attempted.
func NewPoster(botToken string, timeout time.Duration, logger *slog.Logger) *Poster {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Poster{
		botToken:   botToken,
		apiURL:     defaultPostURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Post sends the message. If MentionUser is set, a mention token is prepended
// to the text. All failure modes — transport error, non-2xx status, and an
// application-level "ok": false body — surface as *PostError; the caller is
// expected to log and stop, not to branch on the reason.
func (p *Poster) Post(ctx context.Context, msg Message) error {
	if p.botToken == "" {
		return &ConfigError{Key: "SLACK_BOT_TOKEN"}
	}

	text := msg.Text
	if msg.MentionUser != "" {
		text = fmt.Sprintf("<@%s> %s", msg.MentionUser, text)
	}

	payload := map[string]string{
		"channel": msg.Channel,
		"text":    text,
	}
	if msg.ThreadTS != "" {
		payload["thread_ts"] = msg.ThreadTS
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return &PostError{Reason: "marshal", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return &PostError{Reason: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.botToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &PostError{Reason: "transport", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &PostError{Reason: fmt.Sprintf("http status %d", resp.StatusCode)}
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &PostError{Reason: "decode response", Err: err}
	}
	if !result.OK {
		return &PostError{Reason: "slack api error: " + result.Error}
	}
	return nil
}
