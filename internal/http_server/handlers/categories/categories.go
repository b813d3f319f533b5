package categories

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	resp "keymanager/internal/lib/api/response"
	sl "keymanager/internal/lib/logger"
	"keymanager/internal/models"
	"keymanager/internal/storage"
)

type CategoryStore interface {
	SaveCategory(ctx context.Context, name string, icon *string) (models.Category, error)
	Categories(ctx context.Context) ([]models.Category, error)
	UpdateCategory(ctx context.Context, id int64, name string, icon *string) (models.Category, error)
	DeleteCategory(ctx context.Context, id int64) error
}

type Request struct {
	Name string  `json:"name" validate:"required"`
	Icon *string `json:"icon"`
}

type Response struct {
	resp.Response
	Category models.Category `json:"category"`
}

type ListResponse struct {
	resp.Response
	Categories []models.Category `json:"categories"`
}

func NewCreate(log *slog.Logger, validate *validator.Validate, store CategoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.categories.NewCreate"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

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

		cat, err := store.SaveCategory(r.Context(), req.Name, req.Icon)
		if err != nil {
			if errors.Is(err, storage.ErrCategoryExists) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("category already exists"))

				return
			}

			log.Error("failed to save category", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		log.Info("category created", slog.Int64("id", cat.ID))

		render.JSON(w, r, Response{Response: resp.OK(), Category: cat})
	}
}

func NewList(log *slog.Logger, store CategoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.categories.NewList"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		cats, err := store.Categories(r.Context())
		if err != nil {
			log.Error("failed to list categories", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		render.JSON(w, r, ListResponse{Response: resp.OK(), Categories: cats})
	}
}

func NewUpdate(log *slog.Logger, validate *validator.Validate, store CategoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.categories.NewUpdate"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id, ok := idParam(w, r)
		if !ok {
			return
		}

		var req Request

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

		cat, err := store.UpdateCategory(r.Context(), id, req.Name, req.Icon)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrCategoryNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("category not found"))
			case errors.Is(err, storage.ErrCategoryExists):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("category already exists"))
			default:
				log.Error("failed to update category", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("internal error"))
			}

			return
		}

		render.JSON(w, r, Response{Response: resp.OK(), Category: cat})
	}
}

func NewDelete(log *slog.Logger, store CategoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.categories.NewDelete"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id, ok := idParam(w, r)
		if !ok {
			return
		}

		if err := store.DeleteCategory(r.Context(), id); err != nil {
			if errors.Is(err, storage.ErrCategoryNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("category not found"))

				return
			}

			log.Error("failed to delete category", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("internal error"))

			return
		}

		log.Info("category deleted", slog.Int64("id", id))

		render.JSON(w, r, resp.OK())
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
