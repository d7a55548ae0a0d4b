// Package auth реализует HTTP-обработчики входа, регистрации, обновления
// токена, профиля и выхода.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/scoutcard/internal/http/middlewarectx"
	"github.com/magabrotheeeer/scoutcard/internal/http/response"
	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
	"github.com/magabrotheeeer/scoutcard/internal/mockapi"
	"github.com/magabrotheeeer/scoutcard/internal/models"
)

// Service описывает бизнес-логику аутентификации.
type Service interface {
	Login(ctx context.Context, email, password string) (*models.AuthResult, error)
	Register(ctx context.Context, data models.SignupData) (*models.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	User(ctx context.Context, userID string) (*models.User, error)
	Logout(ctx context.Context, userID, tokenID string)
}

// RefreshRequest тело запроса обновления токена.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// Handler обрабатывает запросы /auth.
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

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// decode разбирает и валидирует тело запроса. При ошибке ответ уже записан.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, req any) bool {
	if err := render.DecodeJSON(r.Body, req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, "invalid request body", response.CodeBadRequest)
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			log.Error("validation failed", sl.Err(err))
			response.Fail(w, r, http.StatusBadRequest, "invalid request body", response.CodeBadRequest)
			return false
		}
		log.Info("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(verrs))
		return false
	}
	return true
}

// Login POST /auth/mobile/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Login"
	log := h.logger(r, op)

	var req models.Credentials
	if !h.decode(w, r, log, &req) {
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, mockapi.ErrInvalidCredentials) {
			log.Info("login rejected", slog.String("email", req.Email))
			response.Fail(w, r, http.StatusUnauthorized, "invalid email or password", response.CodeInvalidCredentials)
			return
		}
		log.Error("login failed", sl.Err(err))
		response.Fail(w, r, http.StatusInternalServerError, "internal error", response.CodeInternal)
		return
	}

	log.Info("login success", slog.String("user_id", res.User.ID))
	render.JSON(w, r, res)
}

// Register POST /auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Register"
	log := h.logger(r, op)

	var req models.SignupData
	if !h.decode(w, r, log, &req) {
		return
	}

	res, err := h.service.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, mockapi.ErrEmailTaken) {
			log.Info("email already registered")
			response.Fail(w, r, http.StatusConflict, "email already registered", response.CodeConflict)
			return
		}
		log.Error("register failed", sl.Err(err))
		response.Fail(w, r, http.StatusInternalServerError, "internal error", response.CodeInternal)
		return
	}

	log.Info("user registered", slog.String("user_id", res.User.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

// Refresh POST /auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Refresh"
	log := h.logger(r, op)

	var req RefreshRequest
	if !h.decode(w, r, log, &req) {
		return
	}

	access, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		log.Info("refresh rejected", sl.Err(err))
		response.Fail(w, r, http.StatusUnauthorized, "invalid or expired refresh token", response.CodeUnauthorized)
		return
	}

	render.JSON(w, r, map[string]string{"accessToken": access})
}

// Me GET /auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Me"
	log := h.logger(r, op)

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		log.Error("user id not found in context")
		response.Fail(w, r, http.StatusUnauthorized, "unauthorized", response.CodeUnauthorized)
		return
	}

	user, err := h.service.User(r.Context(), userID)
	if err != nil {
		log.Warn("user lookup failed", sl.Err(err))
		response.Fail(w, r, http.StatusNotFound, "user not found", response.CodeNotFound)
		return
	}
	render.JSON(w, r, user)
}

// Logout POST /auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Logout"
	log := h.logger(r, op)

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		log.Error("user id not found in context")
		response.Fail(w, r, http.StatusUnauthorized, "unauthorized", response.CodeUnauthorized)
		return
	}
	tokenID, _ := r.Context().Value(middlewarectx.TokenID).(string)

	h.service.Logout(r.Context(), userID, tokenID)
	w.WriteHeader(http.StatusNoContent)
}
