package users

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymanager/internal/mailer"
	"keymanager/internal/middleware/authn"
	"keymanager/internal/models"
)

type fakeUserStore struct {
	user models.User
}

func (f *fakeUserStore) UpdateUser(_ context.Context, _ int64, patch models.UserPatch) (models.User, error) {
	if patch.Username != nil {
		f.user.Username = *patch.Username
	}
	if patch.Email != nil {
		f.user.Email = patch.Email
	}
	if patch.FullName != nil {
		f.user.FullName = patch.FullName
	}
	if patch.IsActive != nil {
		f.user.IsActive = *patch.IsActive
	}
	return f.user, nil
}

func (f *fakeUserStore) UpdateSMTP(_ context.Context, _ int64, patch models.SMTPSettings) (models.User, error) {
	if patch.Host != nil {
		f.user.SMTP.Host = patch.Host
	}
	if patch.Port != nil {
		f.user.SMTP.Port = patch.Port
	}
	if patch.Username != nil {
		f.user.SMTP.Username = patch.Username
	}
	if patch.Password != nil {
		f.user.SMTP.Password = patch.Password
	}
	if patch.From != nil {
		f.user.SMTP.From = patch.From
	}
	if patch.UseTLS != nil {
		f.user.SMTP.UseTLS = patch.UseTLS
	}
	return f.user, nil
}

func (f *fakeUserStore) ResetSMTP(_ context.Context, _ int64) error {
	f.user.SMTP = models.SMTPSettings{}
	return nil
}

type fakeTester struct {
	gotConfig mailer.Config
	result    mailer.TestResult
}

func (f *fakeTester) Resolve(request, user models.SMTPSettings) mailer.Config {
	return mailer.Resolve(request, user, models.SMTPSettings{})
}

func (f *fakeTester) Test(cfg mailer.Config) mailer.TestResult {
	f.gotConfig = cfg
	return f.result
}

func withUser(req *http.Request, user models.User) *http.Request {
	return req.WithContext(authn.WithUser(req.Context(), user))
}

func TestUpdateSMTP_PartialUpdateKeepsOtherFields(t *testing.T) {
	t.Parallel()

	from := "ops@example.com"
	store := &fakeUserStore{user: models.User{
		ID:       1,
		Username: "admin",
		IsActive: true,
		SMTP:     models.SMTPSettings{From: &from},
	}}

	h := NewUpdateSMTP(slog.Default(), store)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/users/me/smtp",
		bytes.NewReader([]byte(`{"smtp_host": "mail.example.com"}`)))
	h(rr, withUser(req, store.user))

	require.Equal(t, http.StatusOK, rr.Code)

	var res SMTPResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.NotNil(t, res.Host)
	assert.Equal(t, "mail.example.com", *res.Host)
	require.NotNil(t, res.From)
	assert.Equal(t, "ops@example.com", *res.From)
	assert.Nil(t, res.Password)
}

func TestSMTP_NeverReturnsPassword(t *testing.T) {
	t.Parallel()

	secret := "hunter2"
	user := models.User{
		ID:       1,
		Username: "admin",
		IsActive: true,
		SMTP:     models.SMTPSettings{Password: &secret},
	}

	h := NewSMTP()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/me/smtp", nil)
	h(rr, withUser(req, user))

	require.Equal(t, http.StatusOK, rr.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	assert.Nil(t, raw["smtp_password"])
}

func TestTestSMTP_Returns200OnFailure(t *testing.T) {
	t.Parallel()

	tester := &fakeTester{result: mailer.TestResult{
		Success: false,
		Message: "SMTP connection failed",
	}}

	h := NewTestSMTP(slog.Default(), tester)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/users/me/smtp/test",
		bytes.NewReader([]byte(`{"smtp_host": "mail.example.com"}`)))
	h(rr, withUser(req, models.User{ID: 1, Username: "admin", IsActive: true}))

	require.Equal(t, http.StatusOK, rr.Code)

	var res mailer.TestResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, "mail.example.com", tester.gotConfig.Host)
}

func TestTestSMTP_RequestOverridesUserTier(t *testing.T) {
	t.Parallel()

	userHost := "user.example.com"
	user := models.User{
		ID: 1, Username: "admin", IsActive: true,
		SMTP: models.SMTPSettings{Host: &userHost},
	}

	tester := &fakeTester{result: mailer.TestResult{Success: true}}
	h := NewTestSMTP(slog.Default(), tester)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/users/me/smtp/test",
		bytes.NewReader([]byte(`{"smtp_host": "req.example.com"}`)))
	h(rr, withUser(req, user))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "req.example.com", tester.gotConfig.Host)

	// Without a request override the user tier applies.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/users/me/smtp/test", nil)
	h(rr, withUser(req, user))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user.example.com", tester.gotConfig.Host)
}
