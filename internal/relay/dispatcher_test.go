package relay

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"askbridge/internal/answerapi"
)

const testSecret = "test-secret"

// syncScheduler runs scheduled tasks inline so tests observe their effects
// synchronously. Because HandleEvent writes the ack before calling Schedule,
// anything the task records about the response reflects post-ack state.
type syncScheduler struct {
	scheduled int
}

func (s *syncScheduler) Schedule(fn func(ctx context.Context)) {
	s.scheduled++
	fn(context.Background())
}

type fakeAnswerer struct {
	answer string
	err    error

	textCalls  []string
	fieldCalls []map[string]string

	// ackSent records whether the HTTP ack had been written when the
	// backend was invoked, using the recorder wired in by the test.
	rec     *httptest.ResponseRecorder
	ackSent []bool
}

func (f *fakeAnswerer) AskText(_ context.Context, text string) (string, error) {
	f.textCalls = append(f.textCalls, text)
	f.noteAck()
	return f.answer, f.err
}

func (f *fakeAnswerer) AskFields(_ context.Context, fields map[string]string) (string, error) {
	f.fieldCalls = append(f.fieldCalls, fields)
	f.noteAck()
	return f.answer, f.err
}

func (f *fakeAnswerer) noteAck() {
	if f.rec != nil {
		f.ackSent = append(f.ackSent, f.rec.Code == http.StatusOK)
	}
}

type fakePoster struct {
	err   error
	posts []Message
}

func (f *fakePoster) Post(_ context.Context, msg Message) error {
	f.posts = append(f.posts, msg)
	return f.err
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	answerer   *fakeAnswerer
	poster     *fakePoster
	scheduler  *syncScheduler
}

func newFixture(secret string) *dispatcherFixture {
	answerer := &fakeAnswerer{answer: "the answer"}
	poster := &fakePoster{}
	scheduler := &syncScheduler{}
	d := NewDispatcher(DispatcherConfig{
		Verifier:  NewVerifier(secret),
		Extractor: NewExtractor(answerapi.FieldLabels(answerapi.DefaultFieldMap), slog.Default()),
		Answerer:  answerer,
		Poster:    poster,
		Scheduler: scheduler,
		Dedup:     NewDedup(10*time.Minute, slog.Default()),
		Logger:    slog.Default(),
	})
	return &dispatcherFixture{dispatcher: d, answerer: answerer, poster: poster, scheduler: scheduler}
}

// signedRequest builds a POST with valid signature headers for the body.
func signedRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", signBody(testSecret, ts, []byte(body)))
	return req
}

const mentionBody = `{
	"type": "event_callback",
	"event_id": "Ev1000",
	"event": {
		"type": "app_mention",
		"user": "U123",
		"text": "<@UBOT> 当選者は何名ですか",
		"ts": "1700000000.000100",
		"channel": "C123"
	}
}`

const workflowBody = `{
	"type": "event_callback",
	"event_id": "Ev2000",
	"event": {
		"type": "message",
		"subtype": "bot_message",
		"bot_id": "B123",
		"text": "質問が投稿されました\n商品: Widget\n当選者: Alice",
		"ts": "1700000000.000200",
		"channel": "C123"
	}
}`

func TestHandleEvent_MethodNotAllowed(t *testing.T) {
	f := newFixture(testSecret)
	req := httptest.NewRequest(http.MethodGet, "/slack/events", nil)
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHandleEvent_EmptyBody(t *testing.T) {
	f := newFixture(testSecret)
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(""))
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleEvent_InvalidJSON(t *testing.T) {
	f := newFixture(testSecret)
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleEvent_HandshakeBypassesSignature(t *testing.T) {
	f := newFixture(testSecret)
	// No signature headers at all: handshake must still succeed.
	req := httptest.NewRequest(http.MethodPost, "/slack/events",
		strings.NewReader(`{"type":"url_verification","challenge":"abc123"}`))
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "abc123" {
		t.Errorf("challenge echo = %q, want abc123", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
}

func TestHandleEvent_HandshakeMissingChallenge(t *testing.T) {
	f := newFixture(testSecret)
	req := httptest.NewRequest(http.MethodPost, "/slack/events",
		strings.NewReader(`{"type":"url_verification"}`))
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleEvent_UnsignedRejected(t *testing.T) {
	f := newFixture(testSecret)
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(mentionBody))
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if f.scheduler.scheduled != 0 {
		t.Error("no background work may be scheduled for rejected requests")
	}
}

func TestHandleEvent_BadSignatureRejected(t *testing.T) {
	f := newFixture(testSecret)
	req := signedRequest(mentionBody)
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandleEvent_MissingSecretIsServerError(t *testing.T) {
	f := newFixture("")
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, signedRequest(mentionBody))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if f.scheduler.scheduled != 0 {
		t.Error("no background work may be scheduled without a secret")
	}
}

func TestHandleEvent_DirectMention(t *testing.T) {
	f := newFixture(testSecret)
	rec := httptest.NewRecorder()
	f.answerer.rec = rec

	f.dispatcher.HandleEvent(rec, signedRequest(mentionBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(f.answerer.textCalls) != 1 {
		t.Fatalf("expected 1 AskText call, got %d", len(f.answerer.textCalls))
	}
	if f.answerer.textCalls[0] != "当選者は何名ですか" {
		t.Errorf("question = %q, mention token should be stripped", f.answerer.textCalls[0])
	}
	if !f.answerer.ackSent[0] {
		t.Error("acknowledgement must be written before the backend call")
	}

	if len(f.poster.posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(f.poster.posts))
	}
	post := f.poster.posts[0]
	if post.Channel != "C123" || post.Text != "the answer" {
		t.Errorf("unexpected post: %+v", post)
	}
	if post.ThreadTS != "1700000000.000100" {
		t.Errorf("thread anchor = %q, want source message ts", post.ThreadTS)
	}
	if post.MentionUser != "U123" {
		t.Errorf("mention user = %q, want U123", post.MentionUser)
	}
}

func TestHandleEvent_EmptyMentionPostsNotice(t *testing.T) {
	f := newFixture(testSecret)
	body := strings.Replace(mentionBody, `<@UBOT> 当選者は何名ですか`, `<@UBOT>`, 1)
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, signedRequest(body))

	if len(f.answerer.textCalls) != 0 {
		t.Error("backend must not be called for an empty question")
	}
	if len(f.poster.posts) != 1 {
		t.Fatalf("expected 1 notice post, got %d", len(f.poster.posts))
	}
	if f.poster.posts[0].Text != emptyMentionNotice {
		t.Errorf("notice text = %q", f.poster.posts[0].Text)
	}
}

func TestHandleEvent_WorkflowRelay(t *testing.T) {
	f := newFixture(testSecret)
	rec := httptest.NewRecorder()
	f.answerer.rec = rec

	f.dispatcher.HandleEvent(rec, signedRequest(workflowBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(f.answerer.fieldCalls) != 1 {
		t.Fatalf("expected 1 AskFields call, got %d", len(f.answerer.fieldCalls))
	}
	fields := f.answerer.fieldCalls[0]
	if fields["商品"] != "Widget" || fields["当選者"] != "Alice" {
		t.Errorf("unexpected fields: %v", fields)
	}
	if !f.answerer.ackSent[0] {
		t.Error("acknowledgement must be written before the backend call")
	}

	if len(f.poster.posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(f.poster.posts))
	}
	post := f.poster.posts[0]
	if post.ThreadTS != "1700000000.000200" {
		t.Errorf("thread anchor = %q", post.ThreadTS)
	}
	if post.MentionUser != "" {
		t.Errorf("workflow answers must not mention anyone, got %q", post.MentionUser)
	}
}

func TestHandleEvent_WorkflowRelayNoFields(t *testing.T) {
	f := newFixture(testSecret)
	body := strings.Replace(workflowBody,
		`質問が投稿されました\n商品: Widget\n当選者: Alice`,
		`質問が投稿されました`, 1)
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, signedRequest(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(f.answerer.fieldCalls) != 0 {
		t.Error("backend must not be called with zero fields")
	}
	if len(f.poster.posts) != 0 {
		t.Error("nothing should be posted when there is nothing to ask")
	}
}

func TestHandleEvent_BackendFailurePostsErrorNotice(t *testing.T) {
	f := newFixture(testSecret)
	f.answerer.err = &answerapi.RejectedError{StatusCode: 500, Body: "boom"}
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, signedRequest(workflowBody))

	// The original caller already got its 200; the failure surfaces as
	// exactly one in-thread error notice.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(f.poster.posts) != 1 {
		t.Fatalf("expected exactly 1 error notice, got %d posts", len(f.poster.posts))
	}
	if f.poster.posts[0].Text != backendErrorNotice {
		t.Errorf("notice text = %q", f.poster.posts[0].Text)
	}
	if f.poster.posts[0].ThreadTS != "1700000000.000200" {
		t.Errorf("error notice thread anchor = %q", f.poster.posts[0].ThreadTS)
	}
}

func TestHandleEvent_BackendRateLimitedPostsErrorNotice(t *testing.T) {
	f := newFixture(testSecret)
	f.answerer.err = &answerapi.RejectedError{StatusCode: 429, Body: "rate limited"}
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, signedRequest(mentionBody))

	if len(f.poster.posts) != 1 {
		t.Fatalf("expected exactly 1 error notice, got %d posts", len(f.poster.posts))
	}
	if f.poster.posts[0].MentionUser != "U123" {
		t.Errorf("mention-path error notice should mention the asker, got %q",
			f.poster.posts[0].MentionUser)
	}
}

func TestHandleEvent_PosterFailureIsTerminal(t *testing.T) {
	f := newFixture(testSecret)
	f.answerer.err = &answerapi.RejectedError{StatusCode: 500, Body: "boom"}
	f.poster.err = &PostError{Reason: "transport"}
	rec := httptest.NewRecorder()

	// Both the backend and the error-notice post fail; the request must
	// still complete without panicking, logged only.
	f.dispatcher.HandleEvent(rec, signedRequest(workflowBody))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if len(f.poster.posts) != 1 {
		t.Errorf("expected a single post attempt, got %d", len(f.poster.posts))
	}
}

func TestHandleEvent_DuplicateDeliverySuppressed(t *testing.T) {
	f := newFixture(testSecret)

	rec1 := httptest.NewRecorder()
	f.dispatcher.HandleEvent(rec1, signedRequest(mentionBody))
	rec2 := httptest.NewRecorder()
	f.dispatcher.HandleEvent(rec2, signedRequest(mentionBody))

	if rec2.Code != http.StatusOK {
		t.Errorf("duplicate must still be acknowledged, got %d", rec2.Code)
	}
	if f.scheduler.scheduled != 1 {
		t.Errorf("expected 1 scheduled task across both deliveries, got %d", f.scheduler.scheduled)
	}
}

func TestHandleEvent_IgnoredEventAcknowledged(t *testing.T) {
	f := newFixture(testSecret)
	body := `{
		"type": "event_callback",
		"event": {
			"type": "message",
			"user": "U123",
			"text": "ordinary chatter",
			"ts": "1700000000.000500",
			"channel": "C123"
		}
	}`
	rec := httptest.NewRecorder()

	f.dispatcher.HandleEvent(rec, signedRequest(body))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if f.scheduler.scheduled != 0 {
		t.Error("ignored events must not schedule work")
	}
	if len(f.poster.posts) != 0 {
		t.Error("ignored events must not post")
	}
}
