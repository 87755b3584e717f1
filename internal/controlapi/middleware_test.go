package controlapi

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tessera-crm/tessera/internal/cache"
)

func newAuthedAPI(t *testing.T, apiKey string) *API {
	t.Helper()

	sum := sha256.Sum256([]byte(apiKey))
	hash := hex.EncodeToString(sum[:])

	repo := newMemRepo()
	mat := &stubMaterializer{repo: repo}
	return NewAPIWithConfig(repo, mat, cache.NewMemoryQueue(), nil, hash, false)
}

func TestAuthenticateAPIKey(t *testing.T) {
	t.Parallel()

	const apiKey = "super-secret-key"

	t.Run("missing key is rejected", func(t *testing.T) {
		t.Parallel()

		api := newAuthedAPI(t, apiKey)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/segments/fields", nil)
		rec := httptest.NewRecorder()

		api.Router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key is rejected", func(t *testing.T) {
		t.Parallel()

		api := newAuthedAPI(t, apiKey)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/segments/fields", nil)
		req.Header.Set("X-API-Key", "guess")
		rec := httptest.NewRecorder()

		api.Router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid key passes through", func(t *testing.T) {
		t.Parallel()

		api := newAuthedAPI(t, apiKey)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/segments/fields", nil)
		req.Header.Set("X-API-Key", apiKey)
		rec := httptest.NewRecorder()

		api.Router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestNewAPIWithConfigPanicsWithoutHash(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	mat := &stubMaterializer{repo: repo}

	assert.Panics(t, func() {
		NewAPIWithConfig(repo, mat, cache.NewMemoryQueue(), nil, "", false)
	})
}
