package licenses

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	resp "keymanager/internal/lib/api/response"
	sl "keymanager/internal/lib/logger"
	"keymanager/internal/middleware/authn"
	"keymanager/internal/models"
	"keymanager/internal/storage"
)

type LicenseStore interface {
	SaveLicense(ctx context.Context, lic models.License) (models.License, error)
	Licenses(ctx context.Context) ([]models.License, error)
	UpdateLicense(ctx context.Context, id int64, patch models.LicensePatch) (models.License, error)
	DeleteLicense(ctx context.Context, id int64) error
}

type UsageRecorder interface {
	RecordUse(ctx context.Context, id int64, isoDownload bool, user models.User) (models.License, error)
}

type CreateRequest struct {
	CategoryID  int64   `json:"category_id" validate:"required"`
	ProductName string  `json:"product_name" validate:"required"`
	Edition     *string `json:"edition"`
	Vendor      *string `json:"vendor"`
	Version     *string `json:"version"`
	LicenseKey  string  `json:"license_key" validate:"required,min=5"`
	ISOURL      *string `json:"iso_url" validate:"omitempty,url"`
}

type UpdateRequest struct {
	ProductName *string `json:"product_name"`
	Edition     *string `json:"edition"`
	Vendor      *string `json:"vendor"`
	Version     *string `json:"version"`
	LicenseKey  *string `json:"license_key" validate:"omitempty,min=5"`
	ISOURL      *string `json:"iso_url" validate:"omitempty,url"`
}

// UseRequest's iso_download defaults to true when the body omits it.
type UseRequest struct {
	ISODownload *bool `json:"iso_download"`
}

type Response struct {
	resp.Response
	License models.License `json:"license"`
}

type ListResponse struct {
	resp.Response
	Licenses []models.License `json:"licenses"`
}

func NewCreate(log *slog.Logger, validate *validator.Validate, store LicenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.licenses.NewCreate"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req CreateRequest

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

		lic, err := store.SaveLicense(r.Context(), models.License{
			CategoryID:  req.CategoryID,
			ProductName: req.ProductName,
			Edition:     req.Edition,
			Vendor:      req.Vendor,
			Version:     req.Version,
			LicenseKey:  req.LicenseKey,
			ISOURL:      req.ISOURL,
		})
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrLicenseKeyExists):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("license key already exists"))
			case errors.Is(err, storage.ErrCategoryNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("category not found"))
			default:
				log.Error("failed to save license", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("internal error"))
			}

			return
		}

		log.Info("license created", slog.Int64("id", lic.ID))

		render.JSON(w, r, Response{Response: resp.OK(), License: lic})
	}
}

func NewList(log *slog.Logger, store LicenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.licenses.NewList"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		lics, err := store.Licenses(r.Context())
		if err != nil {
			log.Error("failed to list licenses", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		render.JSON(w, r, ListResponse{Response: resp.OK(), Licenses: lics})
	}
}

func NewUpdate(log *slog.Logger, validate *validator.Validate, store LicenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.licenses.NewUpdate"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id, ok := idParam(w, r)
		if !ok {
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

		lic, err := store.UpdateLicense(r.Context(), id, models.LicensePatch{
			ProductName: req.ProductName,
			Edition:     req.Edition,
			Vendor:      req.Vendor,
			Version:     req.Version,
			LicenseKey:  req.LicenseKey,
			ISOURL:      req.ISOURL,
		})
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrLicenseNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("license not found"))
			case errors.Is(err, storage.ErrLicenseKeyExists):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("license key already exists"))
			default:
				log.Error("failed to update license", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("internal error"))
			}

			return
		}

		render.JSON(w, r, Response{Response: resp.OK(), License: lic})
	}
}

func NewDelete(log *slog.Logger, store LicenseStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.licenses.NewDelete"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id, ok := idParam(w, r)
		if !ok {
			return
		}

		if err := store.DeleteLicense(r.Context(), id); err != nil {
			if errors.Is(err, storage.ErrLicenseNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("license not found"))

				return
			}

			log.Error("failed to delete license", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		log.Info("license deleted", slog.Int64("id", id))

		render.JSON(w, r, resp.OK())
	}
}

// NewUse invokes the usage workflow. A 200 here always means the
// timestamp was persisted, whatever happened to the email.
func NewUse(log *slog.Logger, recorder UsageRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.licenses.NewUse"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id, ok := idParam(w, r)
		if !ok {
			return
		}

		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("not authenticated"))

			return
		}

		var req UseRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			log.Error("failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("failed to decode request"))

			return
		}

		isoDownload := true
		if req.ISODownload != nil {
			isoDownload = *req.ISODownload
		}

		lic, err := recorder.RecordUse(r.Context(), id, isoDownload, user)
		if err != nil {
			if errors.Is(err, storage.ErrLicenseNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("license not found"))

				return
			}

			log.Error("failed to record license use", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		render.JSON(w, r, Response{Response: resp.OK(), License: lic})
	}
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, resp.Error("invalid id"))

		return 0, false
	}

	return id, true
}
