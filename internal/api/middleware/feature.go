package middleware

import (
	"net/http"

	"github.com/anraghav/visionhub/internal/api/response"
)

// FeatureGate hides the whole analysis subsystem when the feature toggle is
// off. Disabled routes answer the generic 404, not 403, so the feature's
// existence is not leaked.
func FeatureGate(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			response.NotFound(w)
		})
	}
}
