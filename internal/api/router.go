package api

import (
	"net/http"

	mw "github.com/anraghav/visionhub/internal/api/middleware"
	"github.com/anraghav/visionhub/internal/api/response"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Signature *mw.Signature

	// AnalysisEnabled drives the feature gate on every analysis route.
	AnalysisEnabled bool

	HealthHandler http.HandlerFunc

	CreateAnalysisHandler  http.HandlerFunc
	ListAnalysesHandler    http.HandlerFunc
	GetAnalysisHandler     http.HandlerFunc
	ListAnnotationsHandler http.HandlerFunc
	UpdateStatusHandler    http.HandlerFunc

	BulkAnnotateHandler    http.HandlerFunc
	PresignArtifactHandler http.HandlerFunc
	FinalizeHandler        http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check, outside the feature gate
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Every analysis route sits behind the feature gate; disabled routes
	// 404 before authentication runs.
	r.Group(func(r chi.Router) {
		r.Use(mw.FeatureGate(deps.AnalysisEnabled))

		// Internal callers: API-key auth plus rate limiting
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Authenticate)
			r.Use(deps.RateLimit.Limit)

			r.Post("/api/v1/images/{imageID}/analyses", orNotImplemented(deps.CreateAnalysisHandler))
			r.Get("/api/v1/images/{imageID}/analyses", orNotImplemented(deps.ListAnalysesHandler))

			r.Get("/api/v1/analyses/{analysisID}", orNotImplemented(deps.GetAnalysisHandler))
			r.Get("/api/v1/analyses/{analysisID}/annotations", orNotImplemented(deps.ListAnnotationsHandler))
			r.Patch("/api/v1/analyses/{analysisID}/status", orNotImplemented(deps.UpdateStatusHandler))
		})

		// Pipeline callbacks: HMAC signature auth, no API key
		r.Group(func(r chi.Router) {
			r.Use(deps.Signature.Verify)

			r.Post("/api/v1/analyses/{analysisID}/annotations:bulk", orNotImplemented(deps.BulkAnnotateHandler))
			r.Post("/api/v1/analyses/{analysisID}/artifacts/presign", orNotImplemented(deps.PresignArtifactHandler))
			r.Post("/api/v1/analyses/{analysisID}/finalize", orNotImplemented(deps.FinalizeHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
