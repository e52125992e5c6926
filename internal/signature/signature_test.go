package signature

import (
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"
)

const testSecret = "test-callback-secret"

var verifyNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestVerifier() *Verifier {
	v := NewVerifier(testSecret, true, 300*time.Second)
	return v.WithClock(func() time.Time { return verifyNow })
}

func nowTimestamp() string {
	return strconv.FormatInt(verifyNow.Unix(), 10)
}

func TestVerify_ValidSignature(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{"annotations":[],"mode":"append"}`)
	ts := nowTimestamp()
	sig := Sign([]byte(testSecret), ts, body)

	if err := v.Verify(body, ts, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerify_GarbageSignature(t *testing.T) {
	v := newTestVerifier()
	err := v.Verify([]byte(`{}`), nowTimestamp(), "sha256=deadbeef")
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestVerify_MissingPrefix(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{}`)
	ts := nowTimestamp()
	// Correct digest but without the scheme prefix
	sig := Sign([]byte(testSecret), ts, body)[len("sha256="):]

	if err := v.Verify(body, ts, sig); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	v := newTestVerifier()
	ts := nowTimestamp()
	sig := Sign([]byte(testSecret), ts, []byte(`{"a":1}`))

	if err := v.Verify([]byte(`{"a":2}`), ts, sig); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch on tampered body, got %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{}`)
	ts := nowTimestamp()
	sig := Sign([]byte("other-secret"), ts, body)

	if err := v.Verify(body, ts, sig); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch on wrong secret, got %v", err)
	}
}

func TestVerify_MissingHeaders(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{}`)

	if err := v.Verify(body, "", "sha256=abc"); !errors.Is(err, ErrMissingHeaders) {
		t.Errorf("missing timestamp: expected ErrMissingHeaders, got %v", err)
	}
	if err := v.Verify(body, nowTimestamp(), ""); !errors.Is(err, ErrMissingHeaders) {
		t.Errorf("missing signature: expected ErrMissingHeaders, got %v", err)
	}
}

func TestVerify_MalformedTimestamp(t *testing.T) {
	v := newTestVerifier()
	err := v.Verify([]byte(`{}`), "not-a-number", "sha256=abc")
	if !errors.Is(err, ErrBadTimestamp) {
		t.Fatalf("expected ErrBadTimestamp, got %v", err)
	}
}

func TestVerify_ReplayWindow(t *testing.T) {
	v := newTestVerifier()
	body := []byte(`{}`)

	tests := []struct {
		name   string
		offset time.Duration
		ok     bool
	}{
		{"exactly at past edge", -300 * time.Second, true},
		{"exactly at future edge", 300 * time.Second, true},
		{"just past the window", -301 * time.Second, false},
		{"just ahead of the window", 301 * time.Second, false},
		{"well inside", -30 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := strconv.FormatInt(verifyNow.Add(tt.offset).Unix(), 10)
			sig := Sign([]byte(testSecret), ts, body)
			err := v.Verify(body, ts, sig)
			if tt.ok && err != nil {
				t.Errorf("expected acceptance, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrStaleTimestamp) {
				t.Errorf("expected ErrStaleTimestamp, got %v", err)
			}
		})
	}
}

func TestVerify_DisabledPassesEverything(t *testing.T) {
	v := NewVerifier("", false, 300*time.Second)
	if v.Enabled() {
		t.Fatal("verifier should report disabled")
	}
	if err := v.Verify([]byte(`{}`), "", ""); err != nil {
		t.Fatalf("disabled verifier must accept unsigned requests, got %v", err)
	}
}

func TestVerify_RequiredWithoutSecret(t *testing.T) {
	v := NewVerifier("", true, 300*time.Second)
	body := []byte(`{}`)
	ts := nowTimestamp()
	err := v.Verify(body, ts, Sign(nil, ts, body))
	if !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}

func TestSign_IsDeterministicAndBodySensitive(t *testing.T) {
	ts := "1700000000"
	a := Sign([]byte(testSecret), ts, []byte("abc"))
	b := Sign([]byte(testSecret), ts, []byte("abc"))
	c := Sign([]byte(testSecret), ts, []byte("abd"))

	if a != b {
		t.Error("same inputs must sign identically")
	}
	if a == c {
		t.Error("different bodies must sign differently")
	}
	if len(a) != len("sha256=")+64 {
		t.Errorf("unexpected signature length: %s", a)
	}
}

func TestSign_TimestampIsPartOfBaseString(t *testing.T) {
	body := []byte("abc")
	a := Sign([]byte(testSecret), "1700000000", body)
	b := Sign([]byte(testSecret), "1700000001", body)
	if a == b {
		t.Error("different timestamps must sign differently")
	}
}

func ExampleSign() {
	sig := Sign([]byte("secret"), "1700000000", []byte(`{"status":"completed"}`))
	fmt.Println(len(sig))
	// Output: 71
}
