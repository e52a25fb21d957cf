package relay

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/slack-go/slack/slackevents"
)

// EventKind classifies an inbound payload. Each request resolves to exactly
// one kind; the dispatcher treats the classification as terminal.
type EventKind int

const (
	// KindOther covers everything the relay deliberately ignores: user
	// messages, bot messages without the workflow marker, edits, deletes,
	// and unknown payload shapes. Acknowledged, no background work.
	KindOther EventKind = iota

	// KindHandshake is the one-time URL-verification challenge sent when
	// the endpoint is registered. The challenge token is echoed verbatim.
	KindHandshake

	// KindDirectMention is a user @-mentioning the bot with a free-form
	// question.
	KindDirectMention

	// KindWorkflowRelay is a workflow-generated message carrying submitted
	// form data, identified by the fixed marker phrase.
	KindWorkflowRelay
)

// workflowMarker is the fixed phrase the workflow tool embeds in every
// auto-posted question message. Bot messages without it are ignored.
const workflowMarker = "質問が投稿されました"

// InboundEvent is the classified form of one webhook payload. It is built
// once per request and lives only for the duration of request handling.
type InboundEvent struct {
	Kind      EventKind
	Challenge string // handshake only
	EventID   string // Events API delivery ID, used for redelivery dedup
	Channel   string
	User      string // mention author (direct mentions only)
	MessageTS string // source message timestamp, used as thread anchor
	Text      string
}

// ClassifyEvent parses a raw Events API body and classifies it.
// Returns *BadInputError for unparseable JSON or a handshake without a
// challenge token. Unknown-but-valid payloads classify as KindOther.
func ClassifyEvent(body []byte) (InboundEvent, error) {
	outer, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		// ParseEvent also fails on valid envelopes carrying event types it
		// has no mapping for; only genuinely broken JSON is a 400.
		if !json.Valid(body) {
			return InboundEvent{}, &BadInputError{Reason: "invalid JSON payload"}
		}
		return InboundEvent{Kind: KindOther}, nil
	}

	switch outer.Type {
	case slackevents.URLVerification:
		ch, ok := outer.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok || ch.Challenge == "" {
			return InboundEvent{}, &BadInputError{Reason: "missing challenge token"}
		}
		return InboundEvent{Kind: KindHandshake, Challenge: ch.Challenge}, nil

	case slackevents.CallbackEvent:
		ev := InboundEvent{Kind: KindOther}
		if cb, ok := outer.Data.(*slackevents.EventsAPICallbackEvent); ok {
			ev.EventID = cb.EventID
		}

		switch inner := outer.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			// Ignore bot-triggered mentions so the relay never answers itself.
			if inner.BotID != "" {
				return ev, nil
			}
			ev.Kind = KindDirectMention
			ev.Channel = inner.Channel
			ev.User = inner.User
			ev.MessageTS = inner.TimeStamp
			ev.Text = inner.Text
			return ev, nil

		case *slackevents.MessageEvent:
			// Workflow-relay messages arrive as bot-authored channel
			// messages. Anything user-authored here is ordinary chatter.
			if inner.BotID == "" && inner.SubType != "bot_message" {
				return ev, nil
			}
			if !strings.Contains(inner.Text, workflowMarker) {
				return ev, nil
			}
			ev.Kind = KindWorkflowRelay
			ev.Channel = inner.Channel
			ev.MessageTS = inner.TimeStamp
			ev.Text = inner.Text
			return ev, nil
		}
		return ev, nil
	}

	return InboundEvent{Kind: KindOther}, nil
}

// mentionPattern matches Slack mention tokens like "<@U0123ABCD>".
var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// stripMentions removes all mention tokens from text and trims whitespace.
func stripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}
