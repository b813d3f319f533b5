package users

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"keymanager/internal/auth"
	resp "keymanager/internal/lib/api/response"
	sl "keymanager/internal/lib/logger"
	"keymanager/internal/mailer"
	"keymanager/internal/middleware/authn"
	"keymanager/internal/models"
	"keymanager/internal/storage"
)

type UserStore interface {
	UpdateUser(ctx context.Context, id int64, patch models.UserPatch) (models.User, error)
	UpdateSMTP(ctx context.Context, id int64, patch models.SMTPSettings) (models.User, error)
	ResetSMTP(ctx context.Context, id int64) error
}

type PasswordChanger interface {
	ChangePassword(ctx context.Context, user models.User, current, newPassword string) error
}

type SMTPTester interface {
	Resolve(request, user models.SMTPSettings) mailer.Config
	Test(cfg mailer.Config) mailer.TestResult
}

// Profile is the user read model; the password hash and the stored SMTP
// password never leave the server.
type Profile struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	FullName  *string   `json:"full_name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ProfileResponse struct {
	resp.Response
	User Profile `json:"user"`
}

type UpdateRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email" validate:"omitempty,email"`
	FullName *string `json:"full_name"`
	IsActive *bool   `json:"is_active"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// SMTPRequest doubles as the update body and the test-override body.
type SMTPRequest struct {
	Host     *string `json:"smtp_host"`
	Port     *int    `json:"smtp_port"`
	Username *string `json:"smtp_username"`
	Password *string `json:"smtp_password"`
	From     *string `json:"smtp_from"`
	UseTLS   *bool   `json:"smtp_use_tls"`
}

type SMTPResponse struct {
	resp.Response
	Host     *string `json:"smtp_host"`
	Port     *int    `json:"smtp_port"`
	Username *string `json:"smtp_username"`
	Password *string `json:"smtp_password"`
	From     *string `json:"smtp_from"`
	UseTLS   *bool   `json:"smtp_use_tls"`
}

func NewMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("not authenticated"))

			return
		}

		render.JSON(w, r, ProfileResponse{Response: resp.OK(), User: profileOf(user)})
	}
}

func NewUpdateMe(log *slog.Logger, validate *validator.Validate, store UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.users.NewUpdateMe"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("not authenticated"))

			return
		}

		var req UpdateRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		updated, err := store.UpdateUser(r.Context(), user.ID, models.UserPatch{
			Username: req.Username,
			Email:    req.Email,
			FullName: req.FullName,
			IsActive: req.IsActive,
		})
		if err != nil {
			if errors.Is(err, storage.ErrUserExists) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("username or email already in use"))

				return
			}

			log.Error("failed to update user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		log.Info("profile updated", slog.Int64("uid", updated.ID))

		render.JSON(w, r, ProfileResponse{Response: resp.OK(), User: profileOf(updated)})
	}
}

func NewChangePassword(log *slog.Logger, validate *validator.Validate, changer PasswordChanger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.users.NewChangePassword"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("not authenticated"))

			return
		}

		var req ChangePasswordRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		if err := changer.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword); err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("current password is incorrect"))

				return
			}

			log.Error("failed to change password", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		render.JSON(w, r, resp.OK())
	}
}

func NewSMTP() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("not authenticated"))

			return
		}

		render.JSON(w, r, smtpResponseOf(user))
	}
}

func NewUpdateSMTP(log *slog.Logger, store UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.users.NewUpdateSMTP"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("not authenticated"))

			return
		}

		var req SMTPRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("failed to decode request"))

			return
		}

		updated, err := store.UpdateSMTP(r.Context(), user.ID, req.settings())
		if err != nil {
			log.Error("failed to update smtp settings", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		log.Info("smtp settings updated", slog.Int64("uid", updated.ID))

		render.JSON(w, r, smtpResponseOf(updated))
	}
}

func NewResetSMTP(log *slog.Logger, store UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.users.NewResetSMTP"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("not authenticated"))

			return
		}

		if err := store.ResetSMTP(r.Context(), user.ID); err != nil {
			log.Error("failed to reset smtp settings", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		log.Info("smtp settings reset", slog.Int64("uid", user.ID))

		render.JSON(w, r, resp.OK())
	}
}

// NewTestSMTP dry-runs a connection with the resolved configuration. The
// outcome, pass or fail, is always a 200 with structured diagnostics.
func NewTestSMTP(log *slog.Logger, tester SMTPTester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.users.NewTestSMTP"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("not authenticated"))

			return
		}

		var req SMTPRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			log.Error("failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("failed to decode request"))

			return
		}

		cfg := tester.Resolve(req.settings(), user.SMTP)
		result := tester.Test(cfg)

		log.Info("smtp connection test finished", slog.Bool("success", result.Success))

		render.JSON(w, r, result)
	}
}

func (r SMTPRequest) settings() models.SMTPSettings {
	return models.SMTPSettings{
		Host:     r.Host,
		Port:     r.Port,
		Username: r.Username,
		Password: r.Password,
		From:     r.From,
		UseTLS:   r.UseTLS,
	}
}

func profileOf(u models.User) Profile {
	return Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FullName:  u.FullName,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func smtpResponseOf(u models.User) SMTPResponse {
	return SMTPResponse{
		Response: resp.OK(),
		Host:     u.SMTP.Host,
		Port:     u.SMTP.Port,
		Username: u.SMTP.Username,
		Password: nil,
		From:     u.SMTP.From,
		UseTLS:   u.SMTP.UseTLS,
	}
}
