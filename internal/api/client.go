// Package api описывает REST-контракт бэкенда, с которым работает клиент.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/magabrotheeeer/scoutcard/internal/models"
	"github.com/magabrotheeeer/scoutcard/internal/transport"
)

const (
	PathLogin                  = "/api/v1/auth/mobile/login"
	PathRegister               = "/api/v1/auth/register"
	PathRefresh                = "/api/v1/auth/refresh"
	PathMe                     = "/api/v1/auth/me"
	PathLogout                 = "/api/v1/auth/logout"
	PathCurrentSubscription    = "/api/v1/subscriptions/me"
	PathPlans                  = "/api/v1/subscription-plans"
	PathSubscriptions          = "/api/v1/subscriptions"
	PathReactivateSubscription = "/api/v1/subscriptions/me/reactivate"
	PathRenewSubscription      = "/api/v1/subscriptions/me/renew"
	PathDevices                = "/api/v1/notifications/devices"
)

// Doer выполняет запросы к бэкенду.
type Doer interface {
	Do(ctx context.Context, req transport.Request, out any) error
}

// Client типизированные вызовы бэкенда поверх транспорта.
type Client struct {
	tr Doer
}

// New создаёт Client.
func New(tr Doer) *Client {
	return &Client{tr: tr}
}

// RefreshRequest тело запроса обновления токена
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse ответ на обновление: только новый access token
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// CreateSubscriptionRequest тело запроса оформления подписки.
// ReferralCode указывает скаута, которому засчитывается продажа.
type CreateSubscriptionRequest struct {
	PlanID        string               `json:"planId"`
	ReferralCode  string               `json:"referralCode,omitempty"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
}

// UpdateSubscriptionRequest тело PATCH текущей подписки
type UpdateSubscriptionRequest struct {
	CancelAtPeriodEnd bool `json:"cancel_at_period_end"`
}

// PlansResponse обёртка каталога планов
type PlansResponse struct {
	Data []models.SubscriptionPlan `json:"data"`
}

// DeviceRequest регистрация push-токена устройства
type DeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// Login входит по email и паролю.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (*models.AuthResult, error) {
	const op = "api.Login"
	var res models.AuthResult
	req := transport.Request{Method: http.MethodPost, Path: PathLogin, Body: creds, Public: true}
	if err := c.tr.Do(ctx, req, &res); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &res, nil
}

// Register регистрирует пользователя и сразу открывает сессию.
func (c *Client) Register(ctx context.Context, data models.SignupData) (*models.AuthResult, error) {
	const op = "api.Register"
	var res models.AuthResult
	req := transport.Request{Method: http.MethodPost, Path: PathRegister, Body: data, Public: true}
	if err := c.tr.Do(ctx, req, &res); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &res, nil
}

// Refresh обменивает refresh token на новый access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	const op = "api.Refresh"
	var res RefreshResponse
	req := transport.Request{
		Method: http.MethodPost,
		Path:   PathRefresh,
		Body:   RefreshRequest{RefreshToken: refreshToken},
		Public: true,
	}
	if err := c.tr.Do(ctx, req, &res); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if res.AccessToken == "" {
		return "", fmt.Errorf("%s: empty access token in response", op)
	}
	return res.AccessToken, nil
}

// Me возвращает профиль текущего пользователя.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	const op = "api.Me"
	var user models.User
	if err := c.tr.Do(ctx, transport.Request{Method: http.MethodGet, Path: PathMe}, &user); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &user, nil
}

// Logout отзывает сессию на сервере переданным токеном.
// Текущий токен клиента к этому моменту уже сброшен, поэтому он передаётся явно.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	const op = "api.Logout"
	req := transport.Request{Method: http.MethodPost, Path: PathLogout, Token: accessToken, Public: accessToken == ""}
	if err := c.tr.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CurrentSubscription возвращает подписку пользователя или nil, если её нет.
func (c *Client) CurrentSubscription(ctx context.Context) (*models.Subscription, error) {
	const op = "api.CurrentSubscription"
	var sub models.Subscription
	err := c.tr.Do(ctx, transport.Request{Method: http.MethodGet, Path: PathCurrentSubscription}, &sub)
	if transport.IsStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}

// Plans возвращает полный каталог планов.
func (c *Client) Plans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	const op = "api.Plans"
	var res PlansResponse
	if err := c.tr.Do(ctx, transport.Request{Method: http.MethodGet, Path: PathPlans}, &res); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res.Data, nil
}

// CreateSubscription оформляет подписку.
func (c *Client) CreateSubscription(ctx context.Context, body CreateSubscriptionRequest) (*models.Subscription, error) {
	const op = "api.CreateSubscription"
	var sub models.Subscription
	req := transport.Request{Method: http.MethodPost, Path: PathSubscriptions, Body: body}
	if err := c.tr.Do(ctx, req, &sub); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}

// UpdateSubscription включает или отменяет окончание подписки в конце периода.
func (c *Client) UpdateSubscription(ctx context.Context, cancelAtPeriodEnd bool) error {
	const op = "api.UpdateSubscription"
	req := transport.Request{
		Method: http.MethodPatch,
		Path:   PathCurrentSubscription,
		Body:   UpdateSubscriptionRequest{CancelAtPeriodEnd: cancelAtPeriodEnd},
	}
	if err := c.tr.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ReactivateSubscription отменяет запланированное окончание подписки.
func (c *Client) ReactivateSubscription(ctx context.Context) error {
	const op = "api.ReactivateSubscription"
	if err := c.tr.Do(ctx, transport.Request{Method: http.MethodPost, Path: PathReactivateSubscription}, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RenewSubscription продлевает подписку ещё на один период.
func (c *Client) RenewSubscription(ctx context.Context) error {
	const op = "api.RenewSubscription"
	if err := c.tr.Do(ctx, transport.Request{Method: http.MethodPost, Path: PathRenewSubscription}, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RegisterDevice привязывает push-токен устройства к пользователю.
func (c *Client) RegisterDevice(ctx context.Context, token, platform string) error {
	const op = "api.RegisterDevice"
	req := transport.Request{
		Method: http.MethodPost,
		Path:   PathDevices,
		Body:   DeviceRequest{Token: token, Platform: platform},
	}
	if err := c.tr.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UnregisterDevice отвязывает push-токен. Запрос публичный: сессии к этому моменту уже нет.
func (c *Client) UnregisterDevice(ctx context.Context, token string) error {
	const op = "api.UnregisterDevice"
	req := transport.Request{
		Method: http.MethodDelete,
		Path:   PathDevices + "/" + url.PathEscape(token),
		Public: true,
	}
	if err := c.tr.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
