package licenses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sl "keymanager/internal/lib/logger"
	"keymanager/internal/mailer"
	"keymanager/internal/models"
	"keymanager/internal/storage"
)

type LicenseProvider interface {
	License(ctx context.Context, id int64) (models.License, error)
	SetLastUsed(ctx context.Context, id int64, usedAt time.Time) error
}

type Notifier interface {
	Resolve(request, user models.SMTPSettings) mailer.Config
	Send(cfg mailer.Config, ev mailer.Event, user models.User) error
}

// Service orchestrates the license usage workflow: the last-used write is
// the operation's contract, the email that follows it is advisory.
type Service struct {
	log      *slog.Logger
	licenses LicenseProvider
	notifier Notifier
}

func New(log *slog.Logger, licenses LicenseProvider, notifier Notifier) *Service {
	return &Service{
		log:      log,
		licenses: licenses,
		notifier: notifier,
	}
}

// RecordUse stamps the license with the current time and notifies the
// administrator. The lookup miss is the only hard failure: once the
// timestamp is committed, a notification failure is logged and discarded
// so an unreachable or unconfigured mail server can never make a
// legitimate use look like it failed.
func (s *Service) RecordUse(ctx context.Context, id int64, isoDownload bool, user models.User) (models.License, error) {
	const op = "licenses.RecordUse"

	log := s.log.With(slog.String("op", op), slog.Int64("license_id", id))

	lic, err := s.licenses.License(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrLicenseNotFound) {
			return models.License{}, storage.ErrLicenseNotFound
		}

		log.Error("failed to load license", sl.Err(err))
		return models.License{}, fmt.Errorf("%s: %w", op, err)
	}

	usedAt := time.Now().UTC()

	if err := s.licenses.SetLastUsed(ctx, lic.ID, usedAt); err != nil {
		log.Error("failed to persist usage timestamp", sl.Err(err))
		return models.License{}, fmt.Errorf("%s: %w", op, err)
	}

	lic.LastUsedAt = &usedAt
	lic.UpdatedAt = usedAt

	log.Info("license use recorded", slog.String("product", lic.ProductName))

	// The use is committed at this point. Everything below is best effort.
	cfg := s.notifier.Resolve(models.SMTPSettings{}, user.SMTP)

	ev := mailer.Event{
		ProductName:  lic.ProductName,
		Version:      deref(lic.Version),
		Vendor:       deref(lic.Vendor),
		CategoryName: lic.CategoryName,
		ISODownload:  isoDownload,
		UsedAt:       usedAt,
	}

	if err := s.notifier.Send(cfg, ev, user); err != nil {
		log.Warn("usage notification not sent", sl.Err(err))
	}

	return lic, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
