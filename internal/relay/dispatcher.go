// Package relay implements the webhook relay pipeline: request-signature
// verification, payload classification, form-field extraction, and dispatch
// of answers back into the originating Slack thread.
//
// The pipeline is split across several files:
//   - dispatcher.go — HTTP handler, per-request state machine, background paths
//   - verify.go — request-signature verifier
//   - events.go — payload classification into InboundEvent
//   - extract.go — workflow form-field extraction
//   - poster.go — chat.postMessage delivery
//   - dedup.go — redelivered-event suppression
//   - runner.go — post-acknowledgement task scheduling
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Answerer asks the generative-answer backend a question and returns its
// textual answer.
type Answerer interface {
	// AskFields synthesizes a query from extracted form fields.
	AskFields(ctx context.Context, fields map[string]string) (string, error)

	// AskText forwards free-form text verbatim as the query.
	AskText(ctx context.Context, text string) (string, error)
}

// MessagePoster delivers a chat message.
type MessagePoster interface {
	Post(ctx context.Context, msg Message) error
}

// emptyMentionNotice is posted when a mention contains no question text.
const emptyMentionNotice = "質問の内容が空です。メンションに続けて質問を書いてください。"

// backendErrorNotice prefixes the in-thread message posted when the backend
// call fails after the acknowledgement was already sent.
const backendErrorNotice = "回答の取得に失敗しました。しばらくしてからもう一度お試しください。"

// DispatcherConfig wires the dispatcher's collaborators.
type DispatcherConfig struct {
	Verifier  *Verifier
	Extractor *Extractor
	Answerer  Answerer
	Poster    MessagePoster
	Scheduler Scheduler
	Dedup     *Dedup // optional; nil disables redelivery suppression
	Logger    *slog.Logger
}

// Dispatcher classifies inbound webhook payloads and routes them.
//
// Per-request state machine, terminal after the first transition:
//
//	Start → RespondChallenge | Rejected | Ignored |
//	        ScheduleDirectMention | ScheduleWorkflowRelay
//
// Invariant: for the two Schedule states, the acknowledgement response is
// written (and flushed) before any backend or chat call begins. Slack's
// three-second response deadline depends on this ordering.
type Dispatcher struct {
	verifier  *Verifier
	extractor *Extractor
	answerer  Answerer
	poster    MessagePoster
	scheduler Scheduler
	dedup     *Dedup
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher from its collaborators.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		verifier:  cfg.Verifier,
		extractor: cfg.Extractor,
		answerer:  cfg.Answerer,
		poster:    cfg.Poster,
		scheduler: cfg.Scheduler,
		dedup:     cfg.Dedup,
		logger:    cfg.Logger,
	}
}

// HandleEvent is the POST handler for the Slack Events API endpoint.
func (d *Dispatcher) HandleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The body must be read raw before parsing: signature verification
	// hashes the exact bytes on the wire.
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	ev, err := ClassifyEvent(body)
	if err != nil {
		var badInput *BadInputError
		if errors.As(err, &badInput) {
			http.Error(w, badInput.Reason, http.StatusBadRequest)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Handshake precedes secret provisioning in some setups, so it bypasses
	// signature verification by design. The token is echoed as plain text,
	// not JSON-wrapped.
	if ev.Kind == KindHandshake {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, ev.Challenge)
		return
	}

	if err := d.verifier.Verify(
		r.Header.Get("X-Slack-Request-Timestamp"),
		r.Header.Get("X-Slack-Signature"),
		body,
	); err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			d.logger.Warn("request rejected", "reason", authErr.Reason)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		d.logger.Error("verification unavailable", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if d.dedup != nil && d.dedup.Seen(ev.EventID) {
		w.WriteHeader(http.StatusOK)
		return
	}

	deliveryID := uuid.NewString()

	switch ev.Kind {
	case KindDirectMention:
		d.acknowledge(w)
		d.logger.Info("direct mention scheduled",
			"delivery", deliveryID, "channel", ev.Channel, "user", ev.User)
		d.scheduler.Schedule(func(ctx context.Context) {
			d.runDirectMention(ctx, deliveryID, ev)
		})

	case KindWorkflowRelay:
		d.acknowledge(w)
		d.logger.Info("workflow relay scheduled",
			"delivery", deliveryID, "channel", ev.Channel, "ts", ev.MessageTS)
		d.scheduler.Schedule(func(ctx context.Context) {
			d.runWorkflowRelay(ctx, deliveryID, ev)
		})

	default:
		w.WriteHeader(http.StatusOK)
	}
}

// acknowledge writes and flushes the 200 response so the ack is on the wire
// before any background work is scheduled.
func (d *Dispatcher) acknowledge(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// runDirectMention handles the free-form question path after the ack.
func (d *Dispatcher) runDirectMention(ctx context.Context, deliveryID string, ev InboundEvent) {
	question := stripMentions(ev.Text)
	if question == "" {
		if err := d.poster.Post(ctx, Message{
			Channel:     ev.Channel,
			Text:        emptyMentionNotice,
			ThreadTS:    ev.MessageTS,
			MentionUser: ev.User,
		}); err != nil {
			d.logger.Error("failed to post empty-question notice",
				"delivery", deliveryID, "error", err)
		}
		return
	}

	answer, err := d.answerer.AskText(ctx, question)
	if err != nil {
		d.logger.Error("backend call failed for mention",
			"delivery", deliveryID, "error", err)
		d.postErrorNotice(ctx, deliveryID, ev)
		return
	}

	if err := d.poster.Post(ctx, Message{
		Channel:     ev.Channel,
		Text:        answer,
		ThreadTS:    ev.MessageTS,
		MentionUser: ev.User,
	}); err != nil {
		d.logger.Error("failed to post answer for mention",
			"delivery", deliveryID, "error", err)
	}
}

// runWorkflowRelay handles the form-submission path after the ack.
func (d *Dispatcher) runWorkflowRelay(ctx context.Context, deliveryID string, ev InboundEvent) {
	fields := d.extractor.Extract(ev.Text)
	if len(fields) == 0 {
		// Nothing to forward: an empty query would only confuse the backend.
		d.logger.Info("workflow message carried no usable fields, skipping backend",
			"delivery", deliveryID, "channel", ev.Channel, "ts", ev.MessageTS)
		return
	}

	answer, err := d.answerer.AskFields(ctx, fields)
	if err != nil {
		d.logger.Error("backend call failed for workflow relay",
			"delivery", deliveryID, "fields", len(fields), "error", err)
		d.postErrorNotice(ctx, deliveryID, ev)
		return
	}

	if err := d.poster.Post(ctx, Message{
		Channel:  ev.Channel,
		Text:     answer,
		ThreadTS: ev.MessageTS,
	}); err != nil {
		d.logger.Error("failed to post answer for workflow relay",
			"delivery", deliveryID, "error", err)
	}
}

// postErrorNotice converts a post-acknowledgement failure into a best-effort
// human-readable message in the source thread. The original HTTP caller's
// connection is closed by now, so this is the only remaining signal; if the
// post itself fails, that is terminal for the request and only logged.
func (d *Dispatcher) postErrorNotice(ctx context.Context, deliveryID string, ev InboundEvent) {
	msg := Message{
		Channel:  ev.Channel,
		Text:     backendErrorNotice,
		ThreadTS: ev.MessageTS,
	}
	if ev.Kind == KindDirectMention {
		msg.MentionUser = ev.User
	}
	if err := d.poster.Post(ctx, msg); err != nil {
		d.logger.Error("failed to post error notice",
			"delivery", deliveryID, "error", err)
	}
}
