// Package signature implements the shared-secret callback protocol the
// external inference worker authenticates with. A signed request carries a
// unix-seconds timestamp header and an HMAC-SHA256 of
// "timestamp.raw_body"; verification runs over the untouched body bytes,
// never a re-encoded form of the parsed payload.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Header names used by the pipeline on every signed write.
const (
	TimestampHeader = "X-ML-Timestamp"
	SignatureHeader = "X-ML-Signature"
)

const sigPrefix = "sha256="

var (
	// ErrNoSecret means enforcement is on but no shared secret is configured.
	// This is a server misconfiguration, not a caller error.
	ErrNoSecret = errors.New("signature required but no callback secret configured")

	// ErrMissingHeaders means the timestamp or signature header is absent.
	ErrMissingHeaders = errors.New("missing signature headers")

	// ErrBadTimestamp means the timestamp header is not decimal unix seconds.
	ErrBadTimestamp = errors.New("malformed signature timestamp")

	// ErrStaleTimestamp means the timestamp is outside the replay window.
	ErrStaleTimestamp = errors.New("signature timestamp outside replay window")

	// ErrMismatch means the provided signature does not match the body.
	ErrMismatch = errors.New("signature mismatch")
)

// Verifier validates signed callback requests. The secret, enforcement
// toggle, and replay window are fixed at construction; tests inject a clock.
type Verifier struct {
	secret  []byte
	require bool
	maxSkew time.Duration
	now     func() time.Time
}

func NewVerifier(secret string, require bool, maxSkew time.Duration) *Verifier {
	return &Verifier{
		secret:  []byte(secret),
		require: require,
		maxSkew: maxSkew,
		now:     time.Now,
	}
}

// WithClock returns a copy of the verifier using the given clock.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	clone := *v
	clone.now = now
	return &clone
}

// Enabled reports whether signature enforcement is active.
func (v *Verifier) Enabled() bool {
	return v.require
}

// Verify checks a signed request. body must be the raw bytes exactly as
// received on the wire. When enforcement is disabled every request passes.
func (v *Verifier) Verify(body []byte, timestamp, providedSig string) error {
	if !v.require {
		return nil
	}
	if len(v.secret) == 0 {
		return ErrNoSecret
	}
	if timestamp == "" || providedSig == "" {
		return ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadTimestamp, timestamp)
	}

	skew := v.now().UTC().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return ErrStaleTimestamp
	}

	if !strings.HasPrefix(providedSig, sigPrefix) {
		return ErrMismatch
	}
	expected := Sign(v.secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(providedSig)) {
		return ErrMismatch
	}
	return nil
}

// Sign computes the wire signature "sha256=<hex>" over timestamp.body.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return sigPrefix + hex.EncodeToString(mac.Sum(nil))
}
