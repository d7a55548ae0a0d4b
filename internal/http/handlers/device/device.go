// Package device реализует HTTP-обработчики регистрации push-токенов.
package device

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/scoutcard/internal/http/middlewarectx"
	"github.com/magabrotheeeer/scoutcard/internal/http/response"
	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
)

// Service описывает реестр push-токенов.
type Service interface {
	RegisterDevice(ctx context.Context, userID, token, platform string)
	UnregisterDevice(ctx context.Context, token string)
}

// Request тело POST /notifications/devices.
type Request struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=ios android"`
}

// Handler обрабатывает запросы /notifications/devices.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// Register POST /notifications/devices
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.device.Register"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		log.Error("user id not found in context")
		response.Fail(w, r, http.StatusUnauthorized, "unauthorized", response.CodeUnauthorized)
		return
	}

	var req Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, "invalid request body", response.CodeBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Info("validation failed", sl.Err(err))
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationError(verrs))
			return
		}
		response.Fail(w, r, http.StatusBadRequest, "invalid request body", response.CodeBadRequest)
		return
	}

	h.service.RegisterDevice(r.Context(), userID, req.Token, req.Platform)
	w.WriteHeader(http.StatusNoContent)
}

// Unregister DELETE /notifications/devices/{token}. Не требует авторизации:
// клиент отвязывает устройство уже после выхода.
func (h *Handler) Unregister(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	// chi отдаёт параметр экранированным, если в пути был %2F
	if unescaped, err := url.PathUnescape(token); err == nil {
		token = unescaped
	}
	if token == "" {
		response.Fail(w, r, http.StatusBadRequest, "token is required", response.CodeBadRequest)
		return
	}
	h.service.UnregisterDevice(r.Context(), token)
	w.WriteHeader(http.StatusNoContent)
}
