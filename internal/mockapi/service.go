// Package mockapi хранит в памяти состояние локального бэкенда для разработки
// и интеграционных тестов: пользователей, токены, каталог планов, подписки
// и push-токены устройств.
package mockapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/scoutcard/internal/config"
	"github.com/magabrotheeeer/scoutcard/internal/lib/jwt"
	"github.com/magabrotheeeer/scoutcard/internal/lib/month"
	"github.com/magabrotheeeer/scoutcard/internal/lib/password"
	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
	"github.com/magabrotheeeer/scoutcard/internal/models"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidAccessToken  = errors.New("invalid access token")
	ErrUserNotFound        = errors.New("user not found")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrNoSubscription      = errors.New("subscription not found")
	ErrSubscriptionExists  = errors.New("subscription already exists")
	ErrReferralRequired    = errors.New("referral code required for unit leaders")
	ErrNotCanceling        = errors.New("subscription is not scheduled for cancellation")
)

// Catalog ID планов, которые создаёт New.
const (
	PlanDirect   = "scoutcard-annual"
	PlanReferral = "scoutcard-troop"
	PlanFamily   = "scoutcard-family"
)

const defaultReferralPriceCents = 1500

type account struct {
	user         models.User
	passwordHash string
}

type refreshToken struct {
	userID    string
	expiresAt time.Time
}

type device struct {
	userID   string
	platform string
}

// Service состояние бэкенда. Безопасен для конкурентного использования.
type Service struct {
	log        *slog.Logger
	hasher     *password.Hasher
	issuer     *jwt.Issuer
	refreshTTL time.Duration
	now        func() time.Time

	mu            sync.Mutex
	byEmail       map[string]*account
	byID          map[string]*account
	refreshTokens map[string]refreshToken
	accessTokens  map[string]string
	plans         []models.SubscriptionPlan
	subs          map[string]*models.Subscription
	scouts        map[string]*models.Subscription
	devices       map[string]device
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени для периодов подписки и refresh token'ов.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New создаёт пустой бэкенд с каталогом из трёх планов: прямая цена,
// цена по реферальной ссылке скаута и семейный план.
func New(cfg config.MockAPI, plans config.Plans, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		log:           log,
		hasher:        password.NewHasher(cfg.BcryptCost),
		issuer:        jwt.NewIssuer(cfg.JWTSecretKey, cfg.AccessTokenTTL),
		refreshTTL:    cfg.RefreshTokenTTL,
		now:           time.Now,
		byEmail:       make(map[string]*account),
		byID:          make(map[string]*account),
		refreshTokens: make(map[string]refreshToken),
		accessTokens:  make(map[string]string),
		plans:         Catalog(plans),
		subs:          make(map[string]*models.Subscription),
		scouts:        make(map[string]*models.Subscription),
		devices:       make(map[string]device),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog строит каталог планов из ценовых уровней.
func Catalog(p config.Plans) []models.SubscriptionPlan {
	referral := p.ReferralPriceCents
	if referral <= 0 {
		referral = defaultReferralPriceCents
	}
	features := []string{"Local merchant discounts", "Digital card"}
	return []models.SubscriptionPlan{
		{
			ID:              PlanDirect,
			UUID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte(PlanDirect)).String(),
			Name:            "Scout Card",
			PriceCents:      p.DirectPriceCents,
			Currency:        "USD",
			BillingInterval: models.BillingAnnual,
			Features:        features,
		},
		{
			ID:              PlanReferral,
			UUID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte(PlanReferral)).String(),
			Name:            "Scout Card (Troop)",
			PriceCents:      referral,
			Currency:        "USD",
			BillingInterval: models.BillingAnnual,
			Features:        features,
		},
		{
			ID:              PlanFamily,
			UUID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte(PlanFamily)).String(),
			Name:            "Scout Card Family",
			PriceCents:      p.DirectPriceCents * 2,
			Currency:        "USD",
			BillingInterval: models.BillingMonthly,
			TrialDays:       14,
			Features:        append(features, "Up to 4 members"),
		},
	}
}

// AddUser создаёт пользователя. Неизвестная роль заменяется на PARENT.
func (s *Service) AddUser(_ context.Context, data models.SignupData) (models.User, error) {
	const op = "mockapi.AddUser"

	hash, err := s.hasher.Hash(data.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	role := data.Role
	if !role.Valid() {
		role = models.RoleParent
	}
	user := models.User{
		ID:                 uuid.NewString(),
		Email:              strings.ToLower(strings.TrimSpace(data.Email)),
		FirstName:          data.FirstName,
		LastName:           data.LastName,
		Role:               role,
		SubscriptionStatus: models.UserSubscriptionNone,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[user.Email]; ok {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	acc := &account{user: user, passwordHash: hash}
	s.byEmail[user.Email] = acc
	s.byID[user.ID] = acc
	s.log.Info("user created", slog.String("user_id", user.ID), slog.String("role", string(role)))
	return user, nil
}

// Register создаёт пользователя и сразу открывает для него сессию.
func (s *Service) Register(ctx context.Context, data models.SignupData) (*models.AuthResult, error) {
	const op = "mockapi.Register"
	user, err := s.AddUser(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res, err := s.openSession(user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// Login проверяет пароль и выдаёт пару токенов.
func (s *Service) Login(_ context.Context, email, pass string) (*models.AuthResult, error) {
	const op = "mockapi.Login"

	s.mu.Lock()
	acc, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}
	if err := s.hasher.Compare(acc.passwordHash, pass); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res, err := s.openSession(acc.user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func (s *Service) openSession(user models.User) (*models.AuthResult, error) {
	access, err := s.issueAccess(user)
	if err != nil {
		return nil, err
	}
	refresh := uuid.NewString()

	rt := refreshToken{userID: user.ID}
	if s.refreshTTL > 0 {
		rt.expiresAt = s.now().Add(s.refreshTTL)
	}

	s.mu.Lock()
	s.refreshTokens[refresh] = rt
	user = s.userLocked(user.ID)
	s.mu.Unlock()

	return &models.AuthResult{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) issueAccess(user models.User) (string, error) {
	token, err := s.issuer.Issue(user.ID, user.Email, string(user.Role))
	if err != nil {
		return "", err
	}
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.accessTokens[claims.ID] = user.ID
	s.mu.Unlock()
	return token, nil
}

// Refresh выдаёт новый access token. Refresh token остаётся действительным
// до выхода или истечения срока.
func (s *Service) Refresh(_ context.Context, token string) (string, error) {
	const op = "mockapi.Refresh"

	s.mu.Lock()
	rt, ok := s.refreshTokens[token]
	if ok && !rt.expiresAt.IsZero() && !s.now().Before(rt.expiresAt) {
		delete(s.refreshTokens, token)
		ok = false
	}
	acc := s.byID[rt.userID]
	s.mu.Unlock()
	if !ok || acc == nil {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	access, err := s.issueAccess(acc.user)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return access, nil
}

// ValidateToken проверяет подпись access token'а и то, что он не отозван.
func (s *Service) ValidateToken(_ context.Context, token string) (*jwt.Claims, error) {
	const op = "mockapi.ValidateToken"
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	_, live := s.accessTokens[claims.ID]
	s.mu.Unlock()
	if !live {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidAccessToken)
	}
	return claims, nil
}

// Logout отзывает access token tokenID и все refresh token'ы пользователя.
func (s *Service) Logout(_ context.Context, userID, tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessTokens, tokenID)
	for token, rt := range s.refreshTokens {
		if rt.userID == userID {
			delete(s.refreshTokens, token)
		}
	}
	s.log.Info("user logged out", slog.String("user_id", userID))
}

// RevokeAccessTokens отзывает все выданные access token'ы, как если бы они истекли.
// Refresh token'ы остаются действительными.
func (s *Service) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.accessTokens)
}

// User возвращает профиль пользователя.
func (s *Service) User(_ context.Context, userID string) (*models.User, error) {
	const op = "mockapi.User"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[userID]; !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	user := s.userLocked(userID)
	return &user, nil
}

func (s *Service) userLocked(userID string) models.User {
	user := s.byID[userID].user
	user.SubscriptionStatus = models.UserSubscriptionNone
	if sub, ok := s.subs[userID]; ok {
		switch {
		case sub.Status == models.StatusActive:
			user.SubscriptionStatus = models.UserSubscriptionActive
		case sub.Status == models.StatusCanceled:
			user.SubscriptionStatus = models.UserSubscriptionExpired
		default:
			user.SubscriptionStatus = models.UserSubscriptionInactive
		}
	}
	return user
}

// Plans возвращает каталог.
func (s *Service) Plans(context.Context) []models.SubscriptionPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SubscriptionPlan, len(s.plans))
	copy(out, s.plans)
	return out
}

// CurrentSubscription возвращает последнюю подписку пользователя.
func (s *Service) CurrentSubscription(_ context.Context, userID string) (*models.Subscription, error) {
	const op = "mockapi.CurrentSubscription"
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSubscription)
	}
	out := *sub
	return &out, nil
}

// CreateSubscription оформляет подписку. Для UNIT_LEADER referralCode обязателен
// и указывает скаута; повторная покупка для того же скаута отклоняется. Для
// остальных ролей отклоняется покупка при неотменённой подписке.
func (s *Service) CreateSubscription(_ context.Context, userID, planID, referralCode string) (*models.Subscription, error) {
	const op = "mockapi.CreateSubscription"

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.byID[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	plan, ok := s.planLocked(planID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrPlanNotFound)
	}

	if acc.user.IsUnitLeader() {
		if referralCode == "" {
			return nil, fmt.Errorf("%s: %w", op, ErrReferralRequired)
		}
		if prev, ok := s.scouts[referralCode]; ok && prev.Status != models.StatusCanceled {
			return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionExists)
		}
	} else if sub, ok := s.subs[userID]; ok && sub.Status != models.StatusCanceled {
		return nil, fmt.Errorf("%s: %w", op, ErrSubscriptionExists)
	}

	now := s.now().UTC()
	sub := &models.Subscription{
		ID:                 uuid.NewString(),
		Plan:               plan,
		Status:             models.StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   month.AddMonths(now, intervalMonths(plan.BillingInterval)),
		TotalSavings:       "0.00",
	}
	if referralCode != "" {
		sub.ScoutAttribution = &models.ScoutAttribution{ScoutID: referralCode}
		s.scouts[referralCode] = sub
	}
	s.subs[userID] = sub

	s.log.Info("subscription created",
		slog.String("user_id", userID),
		slog.String("plan_id", plan.ID),
		slog.String("subscription_id", sub.ID),
	)
	out := *sub
	return &out, nil
}

// SetCancelAtPeriodEnd включает или выключает отмену в конце периода.
// Статус подписки не меняется.
func (s *Service) SetCancelAtPeriodEnd(_ context.Context, userID string, cancel bool) (*models.Subscription, error) {
	const op = "mockapi.SetCancelAtPeriodEnd"
	return s.mutate(op, userID, func(sub *models.Subscription) error {
		sub.CancelAtPeriodEnd = cancel
		return nil
	})
}

// Reactivate снимает запланированную отмену, а отменённую подписку
// возобновляет с новым периодом.
func (s *Service) Reactivate(_ context.Context, userID string) (*models.Subscription, error) {
	const op = "mockapi.Reactivate"
	return s.mutate(op, userID, func(sub *models.Subscription) error {
		switch {
		case sub.Status == models.StatusCanceled:
			s.restartLocked(sub)
		case sub.CancelAtPeriodEnd:
			sub.CancelAtPeriodEnd = false
		default:
			return ErrNotCanceling
		}
		return nil
	})
}

// Renew продлевает подписку на один расчётный период.
func (s *Service) Renew(_ context.Context, userID string) (*models.Subscription, error) {
	const op = "mockapi.Renew"
	return s.mutate(op, userID, func(sub *models.Subscription) error {
		if sub.Status == models.StatusCanceled {
			s.restartLocked(sub)
			return nil
		}
		sub.CurrentPeriodEnd = month.AddMonths(sub.CurrentPeriodEnd, intervalMonths(sub.Plan.BillingInterval))
		sub.CancelAtPeriodEnd = false
		return nil
	})
}

// EndPeriod закрывает текущий период подписки: подписка с запланированной
// отменой становится CANCELED, остальные продлеваются.
func (s *Service) EndPeriod(_ context.Context, userID string) (*models.Subscription, error) {
	const op = "mockapi.EndPeriod"
	return s.mutate(op, userID, func(sub *models.Subscription) error {
		if sub.CancelAtPeriodEnd {
			sub.Status = models.StatusCanceled
			sub.CancelAtPeriodEnd = false
			return nil
		}
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
		sub.CurrentPeriodEnd = month.AddMonths(sub.CurrentPeriodEnd, intervalMonths(sub.Plan.BillingInterval))
		return nil
	})
}

func (s *Service) mutate(op, userID string, fn func(*models.Subscription) error) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSubscription)
	}
	if err := fn(sub); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Debug("subscription updated",
		slog.String("op", op),
		slog.String("subscription_id", sub.ID),
		slog.String("status", string(sub.Status)),
		slog.Bool("cancel_at_period_end", sub.CancelAtPeriodEnd),
	)
	out := *sub
	return &out, nil
}

func (s *Service) restartLocked(sub *models.Subscription) {
	now := s.now().UTC()
	sub.Status = models.StatusActive
	sub.CancelAtPeriodEnd = false
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = month.AddMonths(now, intervalMonths(sub.Plan.BillingInterval))
}

func (s *Service) planLocked(id string) (models.SubscriptionPlan, bool) {
	for _, p := range s.plans {
		if p.ID == id || p.UUID == id {
			return p, true
		}
	}
	return models.SubscriptionPlan{}, false
}

// RegisterDevice привязывает push-токен к пользователю.
func (s *Service) RegisterDevice(_ context.Context, userID, token, platform string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[token] = device{userID: userID, platform: platform}
	s.log.Info("device registered", slog.String("user_id", userID), slog.String("platform", platform))
}

// UnregisterDevice отвязывает push-токен. Неизвестный токен не считается ошибкой.
func (s *Service) UnregisterDevice(_ context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[token]; ok {
		delete(s.devices, token)
		s.log.Info("device unregistered", slog.String("user_id", d.userID))
	}
}

// DeviceOwner возвращает пользователя, к которому привязан push-токен.
func (s *Service) DeviceOwner(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[token]
	return d.userID, ok
}

// Seed создаёт демонстрационных пользователей с паролем "password123".
func (s *Service) Seed(ctx context.Context) {
	demo := []models.SignupData{
		{Email: "parent@scoutcard.dev", FirstName: "Pat", LastName: "Parent", Role: models.RoleParent},
		{Email: "leader@scoutcard.dev", FirstName: "Lee", LastName: "Leader", Role: models.RoleUnitLeader},
		{Email: "scout@scoutcard.dev", FirstName: "Sam", LastName: "Scout", Role: models.RoleScout},
	}
	for _, d := range demo {
		d.Password = "password123"
		if _, err := s.AddUser(ctx, d); err != nil {
			s.log.Warn("failed to seed user", slog.String("email", d.Email), sl.Err(err))
		}
	}
}

func intervalMonths(i models.BillingInterval) int {
	if i == models.BillingAnnual {
		return 12
	}
	return 1
}
