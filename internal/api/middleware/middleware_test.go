package middleware_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	mw "github.com/anraghav/visionhub/internal/api/middleware"
	"github.com/anraghav/visionhub/internal/signature"
	"github.com/anraghav/visionhub/internal/store"
	"github.com/anraghav/visionhub/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- Mock Store ---

type mockStore struct {
	keys []*models.APIKey
	err  error
}

func (m *mockStore) Ping(_ context.Context) error { return nil }
func (m *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return m.keys, m.err
}
func (m *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *mockStore) GetImage(_ context.Context, _ uuid.UUID) (*models.Image, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) UserHasProjectAccess(_ context.Context, _, _ uuid.UUID) (bool, error) {
	return false, nil
}
func (m *mockStore) CreateAnalysis(_ context.Context, _ *models.Analysis) error { return nil }
func (m *mockStore) GetAnalysis(_ context.Context, _ uuid.UUID) (*models.Analysis, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) ListAnalysesForImage(_ context.Context, _ uuid.UUID, _, _ int) ([]*models.Analysis, int, error) {
	return nil, 0, nil
}
func (m *mockStore) CountAnalysesForImage(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}
func (m *mockStore) ApplyStatusTransition(_ context.Context, _ uuid.UUID, _ store.StatusTransition) error {
	return nil
}
func (m *mockStore) CreateAnnotations(_ context.Context, _ []*models.Annotation) error { return nil }
func (m *mockStore) ListAnnotations(_ context.Context, _ uuid.UUID, _, _ int) ([]*models.Annotation, int, error) {
	return nil, 0, nil
}

var _ store.Store = (*mockStore)(nil)

// --- fixtures ---

const rawKey = "vhk_middleware_key_0123456789"

var keyUserID = uuid.New()

func storeWithKey(t *testing.T) *mockStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return &mockStore{keys: []*models.APIKey{{
		ID:        uuid.New(),
		UserID:    keyUserID,
		Name:      "mw-test",
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:8],
		Scopes:    []string{"read"},
	}}}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	code, _ := errObj["code"].(string)
	return code
}

// --- Auth ---

func TestAuthenticate_ValidKeySetsUser(t *testing.T) {
	auth := mw.NewAuth(storeWithKey(t))

	var gotUser uuid.UUID
	handler := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = mw.GetUserID(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, keyUserID, gotUser)
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	auth := mw.NewAuth(storeWithKey(t))
	handler := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, rec))
}

func TestAuthenticate_WrongSecretSamePrefix(t *testing.T) {
	auth := mw.NewAuth(storeWithKey(t))
	handler := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey[:8]+"_different_tail")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_ShortKey(t *testing.T) {
	auth := mw.NewAuth(storeWithKey(t))
	handler := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer short")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// --- FeatureGate ---

func TestFeatureGate_EnabledPassesThrough(t *testing.T) {
	handler := mw.FeatureGate(true)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestFeatureGate_DisabledAnswersGeneric404(t *testing.T) {
	handler := mw.FeatureGate(false)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

// --- Signature ---

const sigSecret = "mw-test-secret"

func signedReq(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(signature.TimestampHeader, ts)
	req.Header.Set(signature.SignatureHeader, signature.Sign([]byte(sigSecret), ts, []byte(body)))
	return req
}

func TestSignatureVerify_ValidRequestReachesHandlerWithBodyIntact(t *testing.T) {
	sig := mw.NewSignature(signature.NewVerifier(sigSecret, true, 300*time.Second))

	var seenBody string
	handler := sig.Verify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seenBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"annotations":[{"annotation_type":"bbox"}]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedReq(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	// The handler must see the exact signed bytes.
	assert.Equal(t, body, seenBody)
}

func TestSignatureVerify_BadSignature(t *testing.T) {
	sig := mw.NewSignature(signature.NewVerifier(sigSecret, true, 300*time.Second))
	handler := sig.Verify(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not run")
	}))

	req := signedReq(`{}`)
	req.Header.Set(signature.SignatureHeader, "sha256=deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", errorCode(t, rec))
}

func TestSignatureVerify_MissingSecretIsServerError(t *testing.T) {
	sig := mw.NewSignature(signature.NewVerifier("", true, 300*time.Second))
	handler := sig.Verify(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedReq(`{}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "SIGNING_NOT_CONFIGURED", errorCode(t, rec))
}

func TestSignatureVerify_DisabledEnforcementPasses(t *testing.T) {
	sig := mw.NewSignature(signature.NewVerifier("", false, 300*time.Second))
	handler := sig.Verify(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
}
