package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/anraghav/visionhub/internal/api/response"
	"github.com/anraghav/visionhub/internal/signature"
)

// maxSignedBodyBytes bounds callback bodies before they are buffered for
// verification. Annotation batches are capped separately by count; this is
// a backstop against unbounded reads.
const maxSignedBodyBytes = 16 << 20 // 16 MiB

// Signature gates the pipeline's callback writes behind HMAC verification.
type Signature struct {
	verifier *signature.Verifier
}

// NewSignature creates the signature middleware.
func NewSignature(v *signature.Verifier) *Signature {
	return &Signature{verifier: v}
}

// Verify buffers the raw request body, verifies it byte-exactly against the
// signature headers, and hands the untouched bytes on to the handler.
// Verification always runs before any state mutation.
func (s *Signature) Verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes+1))
		if err != nil {
			response.Error(w, http.StatusBadRequest,
				"INVALID_REQUEST", "Failed to read request body", nil)
			return
		}
		r.Body.Close()
		if len(body) > maxSignedBodyBytes {
			response.Error(w, http.StatusRequestEntityTooLarge,
				"BODY_TOO_LARGE", "Request body too large", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		err = s.verifier.Verify(body,
			r.Header.Get(signature.TimestampHeader),
			r.Header.Get(signature.SignatureHeader))
		if err != nil {
			if errors.Is(err, signature.ErrNoSecret) {
				response.Error(w, http.StatusInternalServerError,
					"SIGNING_NOT_CONFIGURED", "Callback signing is required but not configured", nil)
				return
			}
			response.Error(w, http.StatusUnauthorized,
				"INVALID_SIGNATURE", "Missing, expired, or invalid request signature", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
