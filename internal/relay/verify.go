package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// maxTimestampSkew is the oldest request age accepted before rejecting as a
// possible replay.
const maxTimestampSkew = 5 * time.Minute

// Verifier checks that an inbound request genuinely originated from Slack.
//
// The expected signature is "v0=" + hex(HMAC-SHA256(secret, "v0:" + timestamp
// + ":" + rawBody)) and must be computed over the raw, unparsed body bytes —
// reserializing a parsed payload breaks verification because JSON formatting
// is not canonical. Comparison uses hmac.Equal (constant time).
//
// Policy for unsigned requests: reject. Missing timestamp or signature
// headers yield an AuthError; there is no per-handler allow-through. The
// URL-verification handshake is the only bypass, and it happens in the
// dispatcher before verification is reached.
type Verifier struct {
	signingSecret string
	now           func() time.Time // test hook
}

// NewVerifier creates a verifier for the given Slack signing secret.
// An empty secret is allowed at construction time; Verify reports it as a
// ConfigError when a request actually arrives.
func NewVerifier(signingSecret string) *Verifier {
	return &Verifier{
		signingSecret: signingSecret,
		now:           time.Now,
	}
}

// Verify checks the signature headers against the raw request body.
// Returns nil if the request is authentic, *ConfigError if the secret is not
// configured, or *AuthError for missing headers, stale timestamps, and
// signature mismatches.
func (v *Verifier) Verify(timestamp, signature string, body []byte) error {
	if v.signingSecret == "" {
		return &ConfigError{Key: "SLACK_SIGNING_SECRET"}
	}
	if timestamp == "" || signature == "" {
		return &AuthError{Reason: "missing signature headers"}
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return &AuthError{Reason: "malformed timestamp"}
	}
	if d := v.now().Unix() - ts; d > int64(maxTimestampSkew.Seconds()) || d < -int64(maxTimestampSkew.Seconds()) {
		return &AuthError{Reason: "stale timestamp"}
	}

	expected := v.signatureFor(timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return &AuthError{Reason: "signature mismatch"}
	}
	return nil
}

// signatureFor computes the expected signature for a timestamp and raw body.
func (v *Verifier) signatureFor(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(v.signingSecret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
