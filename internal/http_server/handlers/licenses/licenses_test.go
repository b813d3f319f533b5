package licenses

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymanager/internal/middleware/authn"
	"keymanager/internal/models"
	"keymanager/internal/storage"
)

type fakeRecorder struct {
	gotID  int64
	gotISO bool
	err    error
}

func (f *fakeRecorder) RecordUse(_ context.Context, id int64, isoDownload bool, _ models.User) (models.License, error) {
	f.gotID = id
	f.gotISO = isoDownload
	if f.err != nil {
		return models.License{}, f.err
	}

	usedAt := time.Now().UTC()
	return models.License{
		ID:          id,
		CategoryID:  1,
		ProductName: "Windows 11 Pro",
		LicenseKey:  "AAAAA-BBBBB",
		LastUsedAt:  &usedAt,
	}, nil
}

func useRequest(t *testing.T, target string, body []byte) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	ctx := authn.WithUser(req.Context(), models.User{ID: 1, Username: "admin", IsActive: true})
	return req.WithContext(ctx)
}

func newUseRouter(recorder UsageRecorder) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/licenses/{id}/use", NewUse(slog.Default(), recorder))
	return r
}

func TestUse_Success(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	router := newUseRouter(recorder)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, useRequest(t, "/licenses/7/use", []byte(`{"iso_download": false}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(7), recorder.gotID)
	assert.False(t, recorder.gotISO)

	var res Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "OK", res.Status)
	require.NotNil(t, res.License.LastUsedAt)
}

func TestUse_EmptyBodyDefaultsISODownload(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	router := newUseRouter(recorder)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, useRequest(t, "/licenses/7/use", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, recorder.gotISO)
}

func TestUse_NotFound(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{err: storage.ErrLicenseNotFound}
	router := newUseRouter(recorder)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, useRequest(t, "/licenses/99/use", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUse_InvalidID(t *testing.T) {
	t.Parallel()

	router := newUseRouter(&fakeRecorder{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, useRequest(t, "/licenses/abc/use", nil))

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUse_NoUserInContext(t *testing.T) {
	t.Parallel()

	router := newUseRouter(&fakeRecorder{})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/licenses/7/use", nil)
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}
