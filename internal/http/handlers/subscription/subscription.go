// Package subscription реализует HTTP-обработчики каталога планов и
// подписки текущего пользователя.
package subscription

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

// Service описывает операции над подписками.
type Service interface {
	Plans(ctx context.Context) []models.SubscriptionPlan
	CurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, userID, planID, referralCode string) (*models.Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) (*models.Subscription, error)
	Reactivate(ctx context.Context, userID string) (*models.Subscription, error)
	Renew(ctx context.Context, userID string) (*models.Subscription, error)
}

// CreateRequest тело POST /subscriptions.
type CreateRequest struct {
	PlanID        string               `json:"planId" validate:"required"`
	ReferralCode  string               `json:"referralCode"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
}

// UpdateRequest тело PATCH /subscriptions/me.
type UpdateRequest struct {
	CancelAtPeriodEnd *bool `json:"cancel_at_period_end"`
}

// Handler обрабатывает запросы /subscriptions и /subscription-plans.
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

// Plans GET /subscription-plans
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{"data": h.service.Plans(r.Context())})
}

// Current GET /subscriptions/me
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.Current"
	log, userID, ok := h.begin(w, r, op)
	if !ok {
		return
	}

	sub, err := h.service.CurrentSubscription(r.Context(), userID)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	render.JSON(w, r, sub)
}

// Create POST /subscriptions
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.Create"
	log, userID, ok := h.begin(w, r, op)
	if !ok {
		return
	}

	var req CreateRequest
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

	sub, err := h.service.CreateSubscription(r.Context(), userID, req.PlanID, req.ReferralCode)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}

	log.Info("subscription created", slog.String("subscription_id", sub.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, sub)
}

// Update PATCH /subscriptions/me
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.Update"
	log, userID, ok := h.begin(w, r, op)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, "invalid request body", response.CodeBadRequest)
		return
	}
	if req.CancelAtPeriodEnd == nil {
		log.Info("cancel_at_period_end is missing")
		response.Fail(w, r, http.StatusBadRequest, "cancel_at_period_end is required", response.CodeBadRequest)
		return
	}

	sub, err := h.service.SetCancelAtPeriodEnd(r.Context(), userID, *req.CancelAtPeriodEnd)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	render.JSON(w, r, sub)
}

// Reactivate POST /subscriptions/me/reactivate
func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.Reactivate"
	log, userID, ok := h.begin(w, r, op)
	if !ok {
		return
	}

	sub, err := h.service.Reactivate(r.Context(), userID)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	render.JSON(w, r, sub)
}

// Renew POST /subscriptions/me/renew
func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.Renew"
	log, userID, ok := h.begin(w, r, op)
	if !ok {
		return
	}

	sub, err := h.service.Renew(r.Context(), userID)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	render.JSON(w, r, sub)
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request, op string) (*slog.Logger, string, bool) {
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		log.Error("user id not found in context")
		response.Fail(w, r, http.StatusUnauthorized, "unauthorized", response.CodeUnauthorized)
		return nil, "", false
	}
	return log, userID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, mockapi.ErrNoSubscription):
		response.Fail(w, r, http.StatusNotFound, "subscription not found", response.CodeNotFound)
	case errors.Is(err, mockapi.ErrSubscriptionExists):
		response.Fail(w, r, http.StatusConflict, "subscription already exists", response.CodeConflict)
	case errors.Is(err, mockapi.ErrNotCanceling):
		response.Fail(w, r, http.StatusConflict, "subscription is not scheduled for cancellation", response.CodeConflict)
	case errors.Is(err, mockapi.ErrPlanNotFound):
		response.Fail(w, r, http.StatusUnprocessableEntity, "plan not found", response.CodeValidation)
	case errors.Is(err, mockapi.ErrReferralRequired):
		response.Fail(w, r, http.StatusUnprocessableEntity, "referral code is required", response.CodeValidation)
	default:
		log.Error("subscription operation failed", sl.Err(err))
		response.Fail(w, r, http.StatusInternalServerError, "internal error", response.CodeInternal)
		return
	}
	log.Info("subscription request rejected", sl.Err(err))
}
