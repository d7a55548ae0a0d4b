// Package subscription ведёт жизненный цикл подписки пользователя: чтение текущей
// подписки, каталог планов, оформление, отмена, возобновление и продление.
//
// Клиент не меняет статус подписки сам: после каждой успешной мутации подписка
// перечитывается с сервера.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/magabrotheeeer/scoutcard/internal/api"
	"github.com/magabrotheeeer/scoutcard/internal/config"
	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
	"github.com/magabrotheeeer/scoutcard/internal/models"
	"github.com/magabrotheeeer/scoutcard/internal/transport"
)

// Backend эндпоинты подписок.
type Backend interface {
	CurrentSubscription(ctx context.Context) (*models.Subscription, error)
	Plans(ctx context.Context) ([]models.SubscriptionPlan, error)
	CreateSubscription(ctx context.Context, body api.CreateSubscriptionRequest) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, cancelAtPeriodEnd bool) error
	ReactivateSubscription(ctx context.Context) error
	RenewSubscription(ctx context.Context) error
}

// Session источник текущего пользователя.
type Session interface {
	User() *models.User
}

// Cache хранит последнюю прочитанную подписку для показа без сети.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context, key string) error
}

// SubscribeRequest параметры оформления подписки.
type SubscribeRequest struct {
	PlanID        string `validate:"required"`
	Attribution   *models.ScoutAttribution
	PaymentMethod models.PaymentMethod
}

// Lifecycle жизненный цикл подписки текущего пользователя.
type Lifecycle struct {
	api     Backend
	session Session
	cache   Cache
	plans   config.Plans
	log     *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	current *models.Subscription
	fetched bool
}

// Option настраивает Lifecycle.
type Option func(*Lifecycle)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// New создаёт Lifecycle.
func New(api Backend, session Session, cache Cache, plans config.Plans, log *slog.Logger, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		api:     api,
		session: session,
		cache:   cache,
		plans:   plans,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func cacheKey(userID string) string {
	return "subscription:" + userID
}

// FetchCurrent читает текущую подписку с сервера. nil без ошибки означает,
// что подписки нет. Результат запоминается для State и защитных проверок.
func (l *Lifecycle) FetchCurrent(ctx context.Context) (*models.Subscription, error) {
	const op = "subscription.FetchCurrent"

	user := l.session.User()
	if user == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}

	sub, err := l.api.CurrentSubscription(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	l.mu.Lock()
	l.current = sub
	l.fetched = true
	l.mu.Unlock()

	key := cacheKey(user.ID)
	if sub == nil {
		if err := l.cache.Invalidate(ctx, key); err != nil {
			l.log.Warn("failed to invalidate cached subscription", sl.Op(op), sl.Err(err))
		}
		return nil, nil
	}
	if err := l.cache.Set(ctx, key, sub); err != nil {
		l.log.Warn("failed to cache subscription", sl.Op(op), sl.Err(err))
	}
	return copySubscription(sub), nil
}

// Current последняя прочитанная в этом процессе подписка или nil.
func (l *Lifecycle) Current() *models.Subscription {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copySubscription(l.current)
}

// Cached подписка из кеша, сохранённая при последнем чтении, для показа без сети.
func (l *Lifecycle) Cached(ctx context.Context) *models.Subscription {
	const op = "subscription.Cached"
	user := l.session.User()
	if user == nil {
		return nil
	}
	var sub models.Subscription
	found, err := l.cache.Get(ctx, cacheKey(user.ID), &sub)
	if err != nil {
		l.log.Warn("failed to read cached subscription", sl.Op(op), sl.Err(err))
		return nil
	}
	if !found {
		return nil
	}
	return &sub
}

// State последнее известное состояние жизненного цикла.
func (l *Lifecycle) State() models.LifecycleState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current.State()
}

// Reset забывает подписку, вызывается при смене сессии.
func (l *Lifecycle) Reset(ctx context.Context, userID string) {
	const op = "subscription.Reset"
	l.mu.Lock()
	l.current = nil
	l.fetched = false
	l.mu.Unlock()

	if userID == "" {
		return
	}
	if err := l.cache.Invalidate(ctx, cacheKey(userID)); err != nil {
		l.log.Warn("failed to invalidate cached subscription", sl.Op(op), sl.Err(err))
	}
}

// ListAvailablePlans возвращает планы ценового уровня, доступного пользователю:
// прямая цена для самостоятельной покупки, реферальная для вожатого, если она задана.
func (l *Lifecycle) ListAvailablePlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	const op = "subscription.ListAvailablePlans"

	user := l.session.User()
	if user == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}

	all, err := l.api.Plans(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tier := l.priceTier(user.Role)
	offered := make([]models.SubscriptionPlan, 0, len(all))
	for _, p := range all {
		if p.PriceCents == tier {
			offered = append(offered, p)
		}
	}
	l.log.Debug("plans filtered",
		sl.Op(op), slog.Int64("tier_cents", tier), slog.Int("catalog", len(all)), slog.Int("offered", len(offered)))
	return offered, nil
}

func (l *Lifecycle) priceTier(role models.Role) int64 {
	if role == models.RoleUnitLeader && l.plans.ReferralPriceCents > 0 {
		return l.plans.ReferralPriceCents
	}
	return l.plans.DirectPriceCents
}

// Subscribe оформляет подписку. Вожатый обязан указать скаута, которому
// засчитывается продажа; остальные роли указывать скаута не могут.
// Повторную подписку сервер отклоняет с 409, это ErrAlreadySubscribed.
func (l *Lifecycle) Subscribe(ctx context.Context, req SubscribeRequest) (*models.Subscription, error) {
	const op = "subscription.Subscribe"

	user := l.session.User()
	if user == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}

	hasAttribution := req.Attribution != nil && req.Attribution.ScoutID != ""
	switch {
	case user.IsUnitLeader() && !hasAttribution:
		return nil, fmt.Errorf("%s: %w", op, ErrAttributionRequired)
	case !user.IsUnitLeader() && req.Attribution != nil:
		return nil, fmt.Errorf("%s: %w", op, ErrAttributionNotAllowed)
	}

	offered, err := l.ListAvailablePlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !containsPlan(offered, req.PlanID) {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrPlanNotOffered, req.PlanID)
	}

	body := api.CreateSubscriptionRequest{
		PlanID:        req.PlanID,
		PaymentMethod: req.PaymentMethod,
	}
	if hasAttribution {
		body.ReferralCode = req.Attribution.ScoutID
	}

	if _, err := l.api.CreateSubscription(ctx, body); err != nil {
		if transport.IsStatus(err, http.StatusConflict) {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrAlreadySubscribed, err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	l.log.Info("subscription created", sl.Op(op), slog.String("plan_id", req.PlanID), slog.Bool("attributed", hasAttribution))

	return l.refetch(ctx, op)
}

// Cancel планирует окончание подписки в конце текущего периода.
// Статус не меняется до конца периода.
func (l *Lifecycle) Cancel(ctx context.Context) (*models.Subscription, error) {
	const op = "subscription.Cancel"
	if err := l.requireSubscription(op); err != nil {
		return nil, err
	}
	if err := l.api.UpdateSubscription(ctx, true); err != nil {
		return nil, mutationErr(op, err)
	}
	l.log.Info("subscription cancellation scheduled", sl.Op(op))
	return l.refetch(ctx, op)
}

// Reactivate отменяет запланированное окончание подписки, пока период не истёк,
// или возобновляет уже отменённую подписку. Если подписка ещё не читалась,
// решает сервер.
func (l *Lifecycle) Reactivate(ctx context.Context) (*models.Subscription, error) {
	const op = "subscription.Reactivate"
	if err := l.requireSubscription(op); err != nil {
		return nil, err
	}

	l.mu.RLock()
	cur := copySubscription(l.current)
	l.mu.RUnlock()
	if err := reactivatable(cur, l.now()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := l.api.ReactivateSubscription(ctx); err != nil {
		return nil, mutationErr(op, err)
	}
	l.log.Info("subscription reactivated", sl.Op(op))
	return l.refetch(ctx, op)
}

func reactivatable(cur *models.Subscription, now time.Time) error {
	switch {
	case cur == nil, cur.Status == models.StatusCanceled:
		return nil
	case !cur.CancelAtPeriodEnd:
		return ErrNotCanceling
	case cur.PeriodElapsed(now):
		return ErrPeriodElapsed
	}
	return nil
}

// Renew продлевает подписку ещё на один период. Не идемпотентна:
// каждый успешный вызов добавляет период.
func (l *Lifecycle) Renew(ctx context.Context) (*models.Subscription, error) {
	const op = "subscription.Renew"
	if err := l.requireSubscription(op); err != nil {
		return nil, err
	}
	if err := l.api.RenewSubscription(ctx); err != nil {
		return nil, mutationErr(op, err)
	}
	l.log.Info("subscription renewed", sl.Op(op))
	return l.refetch(ctx, op)
}

// ToggleAutoRenew включает или выключает автопродление. Если подписка уже
// в нужном состоянии, запрос не отправляется.
func (l *Lifecycle) ToggleAutoRenew(ctx context.Context, enabled bool) (*models.Subscription, error) {
	const op = "subscription.ToggleAutoRenew"
	if err := l.requireSubscription(op); err != nil {
		return nil, err
	}

	l.mu.RLock()
	cur := copySubscription(l.current)
	l.mu.RUnlock()
	if cur != nil && cur.AutoRenew() == enabled {
		return cur, nil
	}

	if err := l.api.UpdateSubscription(ctx, !enabled); err != nil {
		return nil, mutationErr(op, err)
	}
	l.log.Info("auto-renew changed", sl.Op(op), slog.Bool("enabled", enabled))
	return l.refetch(ctx, op)
}

// requireSubscription проверяет сессию и, если подписка уже читалась и её нет,
// отклоняет мутацию без запроса к серверу.
func (l *Lifecycle) requireSubscription(op string) error {
	if l.session.User() == nil {
		return fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.fetched && l.current == nil {
		return fmt.Errorf("%s: %w", op, ErrNoSubscription)
	}
	return nil
}

func (l *Lifecycle) refetch(ctx context.Context, op string) (*models.Subscription, error) {
	sub, err := l.FetchCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: refetch: %w", op, err)
	}
	return sub, nil
}

func mutationErr(op string, err error) error {
	if transport.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%s: %w: %w", op, ErrNoSubscription, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func containsPlan(plans []models.SubscriptionPlan, id string) bool {
	for _, p := range plans {
		if p.ID == id || (p.UUID != "" && p.UUID == id) {
			return true
		}
	}
	return false
}

func copySubscription(sub *models.Subscription) *models.Subscription {
	if sub == nil {
		return nil
	}
	c := *sub
	if sub.ScoutAttribution != nil {
		a := *sub.ScoutAttribution
		c.ScoutAttribution = &a
	}
	if sub.Plan.Features != nil {
		c.Plan.Features = append([]string(nil), sub.Plan.Features...)
	}
	return &c
}
