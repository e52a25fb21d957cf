package relay

import "fmt"

// ConfigError reports a required configuration value that is missing at the
// point a call needs it. Surfaced as HTTP 500 when it happens before the
// acknowledgement is written.
type ConfigError struct {
	Key string // env var name, e.g. "SLACK_SIGNING_SECRET"
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Key)
}

// AuthError reports a request that could not be authenticated: missing
// signature headers, a stale timestamp, or a signature mismatch.
// Surfaced as HTTP 401; request processing stops.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// BadInputError reports an unparseable or incomplete request body.
// Surfaced as HTTP 400.
type BadInputError struct {
	Reason string
}

func (e *BadInputError) Error() string {
	return fmt.Sprintf("bad request: %s", e.Reason)
}

// PostError reports a failure to deliver a chat message. Transport errors,
// non-2xx responses, and application-level "ok": false responses are all
// reported as PostError — the Reason distinguishes them for logging only,
// never for control flow.
type PostError struct {
	Reason string
	Err    error
}

func (e *PostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chat post failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("chat post failed (%s)", e.Reason)
}

func (e *PostError) Unwrap() error {
	return e.Err
}
