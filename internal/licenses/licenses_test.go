package licenses

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymanager/internal/mailer"
	"keymanager/internal/models"
	"keymanager/internal/storage"
)

type fakeLicenses struct {
	licenses map[int64]models.License
	setCalls int
}

func (f *fakeLicenses) License(_ context.Context, id int64) (models.License, error) {
	lic, ok := f.licenses[id]
	if !ok {
		return models.License{}, storage.ErrLicenseNotFound
	}
	return lic, nil
}

func (f *fakeLicenses) SetLastUsed(_ context.Context, id int64, usedAt time.Time) error {
	f.setCalls++
	lic := f.licenses[id]
	lic.LastUsedAt = &usedAt
	f.licenses[id] = lic
	return nil
}

type fakeNotifier struct {
	system  models.SMTPSettings
	sendErr error

	gotConfig mailer.Config
	gotEvent  mailer.Event
	sendCalls int
}

func (f *fakeNotifier) Resolve(request, user models.SMTPSettings) mailer.Config {
	return mailer.Resolve(request, user, f.system)
}

func (f *fakeNotifier) Send(cfg mailer.Config, ev mailer.Event, _ models.User) error {
	f.sendCalls++
	f.gotConfig = cfg
	f.gotEvent = ev
	return f.sendErr
}

func newFixture(sendErr error) (*Service, *fakeLicenses, *fakeNotifier) {
	vendor := "Microsoft"
	store := &fakeLicenses{licenses: map[int64]models.License{
		7: {
			ID:           7,
			CategoryID:   1,
			ProductName:  "Windows 11 Pro",
			Vendor:       &vendor,
			LicenseKey:   "AAAAA-BBBBB",
			CategoryName: "Operating Systems",
		},
	}}

	host := "sys.example.com"
	notifier := &fakeNotifier{
		system:  models.SMTPSettings{Host: &host},
		sendErr: sendErr,
	}

	return New(slog.Default(), store, notifier), store, notifier
}

func TestRecordUse_SetsTimestamp(t *testing.T) {
	t.Parallel()

	svc, store, notifier := newFixture(nil)

	started := time.Now().UTC()
	lic, err := svc.RecordUse(context.Background(), 7, true, models.User{Username: "admin"})
	require.NoError(t, err)

	require.NotNil(t, lic.LastUsedAt)
	assert.False(t, lic.LastUsedAt.Before(started))
	assert.Equal(t, 1, store.setCalls)
	assert.Equal(t, 1, notifier.sendCalls)

	assert.Equal(t, "Windows 11 Pro", notifier.gotEvent.ProductName)
	assert.Equal(t, "Microsoft", notifier.gotEvent.Vendor)
	assert.Equal(t, "Operating Systems", notifier.gotEvent.CategoryName)
	assert.True(t, notifier.gotEvent.ISODownload)
}

func TestRecordUse_NotificationFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	svc, store, _ := newFixture(assert.AnError)

	lic, err := svc.RecordUse(context.Background(), 7, false, models.User{Username: "admin"})
	require.NoError(t, err)
	require.NotNil(t, lic.LastUsedAt)
	assert.Equal(t, 1, store.setCalls)
}

func TestRecordUse_NoHostStillSucceeds(t *testing.T) {
	t.Parallel()

	svc, _, notifier := newFixture(mailer.ErrNoHost)
	notifier.system = models.SMTPSettings{}

	lic, err := svc.RecordUse(context.Background(), 7, false, models.User{Username: "admin"})
	require.NoError(t, err)
	require.NotNil(t, lic.LastUsedAt)
	assert.Empty(t, notifier.gotConfig.Host)
}

func TestRecordUse_NotFound(t *testing.T) {
	t.Parallel()

	svc, store, notifier := newFixture(nil)

	_, err := svc.RecordUse(context.Background(), 99, false, models.User{Username: "admin"})
	require.ErrorIs(t, err, storage.ErrLicenseNotFound)
	assert.Zero(t, store.setCalls)
	assert.Zero(t, notifier.sendCalls)
}

func TestRecordUse_UserSMTPOverridesSystem(t *testing.T) {
	t.Parallel()

	svc, _, notifier := newFixture(nil)

	userHost := "user.example.com"
	user := models.User{
		Username: "admin",
		SMTP:     models.SMTPSettings{Host: &userHost},
	}

	_, err := svc.RecordUse(context.Background(), 7, false, user)
	require.NoError(t, err)
	assert.Equal(t, "user.example.com", notifier.gotConfig.Host)
}

func TestRecordUse_OverwritesPreviousUse(t *testing.T) {
	t.Parallel()

	svc, store, _ := newFixture(nil)

	first, err := svc.RecordUse(context.Background(), 7, false, models.User{Username: "admin"})
	require.NoError(t, err)

	second, err := svc.RecordUse(context.Background(), 7, false, models.User{Username: "admin"})
	require.NoError(t, err)

	assert.Equal(t, 2, store.setCalls)
	assert.False(t, second.LastUsedAt.Before(*first.LastUsedAt))
}
