// Package answerapi calls the generative-answer backend via HTTP/JSON.
//
// The backend exposes a Dify-style chat-messages endpoint: one blocking
// request per question, bearer-token auth, and a JSON response expected to
// carry an "answer" string. No conversation state is retained between calls
// and no retry is performed — a single round trip is the complete contract.
package answerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// FieldMapping pairs a canonical form-field label with the input name the
// backend expects. This is the single vocabulary table: extraction, query
// synthesis order, and backend input naming all derive from it.
type FieldMapping struct {
	Label string // form label as it appears in the workflow message
	Input string // backend input name
}

// DefaultFieldMap is the known form-field vocabulary in synthesis order.
var DefaultFieldMap = []FieldMapping{
	{Label: "概要", Input: "summary"},
	{Label: "商品", Input: "product"},
	{Label: "当選者", Input: "prize_winner"},
	{Label: "応募者抽出", Input: "applicant_extraction"},
	{Label: "開始日", Input: "start_date"},
	{Label: "終了日", Input: "end_date"},
}

// FieldLabels returns just the labels of a mapping table, in order.
func FieldLabels(m []FieldMapping) []string {
	labels := make([]string, 0, len(m))
	for _, f := range m {
		labels = append(labels, f.Label)
	}
	return labels
}

// ErrNotConfigured is returned when a call is attempted without the backend
// URL or API key configured. Configuration is validated at call time, not at
// startup, so the relay can come up and serve the handshake before secrets
// are provisioned.
var ErrNotConfigured = errors.New("answer backend not configured: ANSWER_API_URL and ANSWER_API_KEY are required")

// UnreachableError reports a transport-level failure: connection refused,
// DNS, or timeout. Reason is "timeout" when the request deadline elapsed.
type UnreachableError struct {
	Reason string
	Err    error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("answer backend unreachable (%s): %v", e.Reason, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// RejectedError reports a non-2xx response from the backend.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("answer backend rejected request: HTTP %d: %s", e.StatusCode, e.Body)
}

// Config for the backend HTTP client.
type Config struct {
	// BaseURL is the backend base URL (e.g. "https://api.dify.example").
	BaseURL string

	// APIKey is the bearer token.
	APIKey string

	// Version selects the API path prefix. Default "v1".
	Version string

	// Caller identifies this relay to the backend (the "user" protocol
	// parameter). Default "askbridge".
	Caller string

	// Timeout bounds each request. Default 60s.
	Timeout time.Duration

	// Fields is the vocabulary mapping table. Default DefaultFieldMap.
	Fields []FieldMapping
}

// Client asks the backend questions.
type Client struct {
	baseURL    string
	apiKey     string
	version    string
	caller     string
	fields     []FieldMapping
	httpClient *http.Client
}

// New creates a backend client. Missing BaseURL or APIKey is not an error
// here — calls fail with ErrNotConfigured instead, per the call-time
// validation policy.
func New(cfg Config) *Client {
	version := cfg.Version
	if version == "" {
		version = "v1"
	}
	caller := cfg.Caller
	if caller == "" {
		caller = "askbridge"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	fields := cfg.Fields
	if fields == nil {
		fields = DefaultFieldMap
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		version:    version,
		caller:     caller,
		fields:     fields,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AskText forwards free-form text verbatim as the query.
func (c *Client) AskText(ctx context.Context, text string) (string, error) {
	return c.ask(ctx, text, map[string]string{})
}

// AskFields synthesizes a query from extracted form fields and asks it.
// The mapped field values are also passed as backend inputs.
func (c *Client) AskFields(ctx context.Context, fields map[string]string) (string, error) {
	return c.ask(ctx, c.BuildQuery(fields), c.buildInputs(fields))
}

// BuildQuery joins "label: value" lines for every present field. Order is
// the vocabulary order, not map insertion order, so identical field sets
// always produce identical queries; labels outside the vocabulary follow in
// sorted order.
func (c *Client) BuildQuery(fields map[string]string) string {
	var lines []string
	used := make(map[string]bool, len(fields))
	for _, f := range c.fields {
		if v, ok := fields[f.Label]; ok {
			lines = append(lines, f.Label+": "+v)
			used[f.Label] = true
		}
	}
	var extra []string
	for label := range fields {
		if !used[label] {
			extra = append(extra, label)
		}
	}
	sort.Strings(extra)
	for _, label := range extra {
		lines = append(lines, label+": "+fields[label])
	}
	return strings.Join(lines, "\n")
}

// buildInputs translates field labels to the backend's input vocabulary.
// Unmapped labels pass through unchanged.
func (c *Client) buildInputs(fields map[string]string) map[string]string {
	mapped := make(map[string]string, len(c.fields))
	for _, f := range c.fields {
		mapped[f.Label] = f.Input
	}
	inputs := make(map[string]string, len(fields))
	for label, v := range fields {
		name := label
		if m, ok := mapped[label]; ok {
			name = m
		}
		inputs[name] = v
	}
	return inputs
}

// chatRequest is the backend's chat-messages request body.
type chatRequest struct {
	Query        string            `json:"query"`
	Inputs       map[string]string `json:"inputs"`
	ResponseMode string            `json:"response_mode"`
	User         string            `json:"user"`
}

// ask performs the single blocking round trip.
func (c *Client) ask(ctx context.Context, query string, inputs map[string]string) (string, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return "", ErrNotConfigured
	}

	reqBody, err := json.Marshal(chatRequest{
		Query:        query,
		Inputs:       inputs,
		ResponseMode: "blocking",
		User:         c.caller,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/chat-messages", c.baseURL, c.version)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		reason := "transport"
		if isTimeout(err) {
			reason = "timeout"
		}
		return "", &UnreachableError{Reason: reason, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UnreachableError{Reason: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RejectedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(respBody, &result); err == nil && result.Answer != "" {
		return result.Answer, nil
	}

	// 2xx without the expected answer shape: partial information beats
	// total failure, so return the whole body as the answer text.
	return strings.TrimSpace(string(respBody)), nil
}

// isTimeout reports whether err is a deadline or timeout error.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
