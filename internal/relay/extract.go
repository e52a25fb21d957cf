package relay

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

// Tagged-block delimiters. The workflow tool embeds its submitted form data
// as a JSON object between these markers inside the message text.
const (
	workflowDataOpen  = "<workflow_data>"
	workflowDataClose = "</workflow_data>"
)

// placeholderSuffix is the sentinel the workflow form generator emits for
// fields the submitter left blank (e.g. "商品への回答"). A value that is only
// that sentinel carries no information and must never reach the backend.
const placeholderSuffix = "への回答"

// FieldSet maps form-field labels to non-empty trimmed values. It never
// contains empty strings or placeholder-sentinel values.
type FieldSet map[string]string

// Extractor pulls structured key/value data out of a free-text message body.
//
// Priority order:
//  1. A <workflow_data>{...}</workflow_data> tagged block containing a JSON
//     object. If the block is present but malformed, the result is empty —
//     no fallback to field scraping, since a broken block means the message
//     shape changed and scraping would only guess.
//  2. Per-label "label: value" end-of-line scraping over the known
//     vocabulary (full-width or half-width colon).
type Extractor struct {
	labels   []string
	patterns map[string]*regexp.Regexp
	logger   *slog.Logger
}

// NewExtractor creates an extractor for the given field-label vocabulary.
func NewExtractor(labels []string, logger *slog.Logger) *Extractor {
	patterns := make(map[string]*regexp.Regexp, len(labels))
	for _, label := range labels {
		patterns[label] = regexp.MustCompile(regexp.QuoteMeta(label) + `[：:][ \t　]*([^\n]*)`)
	}
	return &Extractor{
		labels:   labels,
		patterns: patterns,
		logger:   logger,
	}
}

// slackUnescaper reverses the HTML-entity encoding Slack applies to message
// text. Slack escapes exactly these three; the tagged block arrives as
// "&lt;workflow_data&gt;" and must be unescaped before matching.
var slackUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")

// Extract parses the message body and returns the cleaned field set.
// The result is empty (never nil) when no structured data is found.
func (e *Extractor) Extract(text string) FieldSet {
	text = slackUnescaper.Replace(text)

	if raw, ok := taggedBlock(text); ok {
		var fields map[string]string
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			e.logger.Warn("workflow_data block present but malformed, treating as no structured data",
				"error", err)
			return FieldSet{}
		}
		return cleanFields(fields)
	}

	fields := make(map[string]string, len(e.labels))
	for _, label := range e.labels {
		m := e.patterns[label].FindStringSubmatch(text)
		if m == nil {
			continue
		}
		fields[label] = m[1]
	}
	return cleanFields(fields)
}

// taggedBlock returns the text between the workflow_data markers, if both
// are present in order.
func taggedBlock(text string) (string, bool) {
	start := strings.Index(text, workflowDataOpen)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(workflowDataOpen):]
	end := strings.Index(rest, workflowDataClose)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// cleanFields trims values and drops the ones that carry no information:
// empty after trimming, or ending with the unanswered-field sentinel.
func cleanFields(fields map[string]string) FieldSet {
	out := make(FieldSet, len(fields))
	for k, v := range fields {
		v = strings.TrimSpace(v)
		if v == "" || strings.HasSuffix(v, placeholderSuffix) {
			continue
		}
		out[k] = v
	}
	return out
}
