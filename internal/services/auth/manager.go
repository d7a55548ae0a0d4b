// Package auth управляет сессией пользователя на клиенте: вход, регистрация,
// восстановление при старте, обновление access token и выход.
//
// Manager единственный владелец токенов в памяти. Транспорт получает токен через
// AccessToken и просит новый через Refresh; конкурентные запросы на обновление
// объединяются в один сетевой вызов.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/magabrotheeeer/scoutcard/internal/lib/jwt"
	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
	"github.com/magabrotheeeer/scoutcard/internal/models"
	"github.com/magabrotheeeer/scoutcard/internal/storage"
)

// State состояние сессии.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
)

const refreshKey = "refresh"

// Backend эндпоинты аутентификации.
type Backend interface {
	Login(ctx context.Context, creds models.Credentials) (*models.AuthResult, error)
	Register(ctx context.Context, data models.SignupData) (*models.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Me(ctx context.Context) (*models.User, error)
	Logout(ctx context.Context, accessToken string) error
}

// Vault локальное хранилище сессии.
type Vault interface {
	Tokens(ctx context.Context) models.Tokens
	LoadProfile(ctx context.Context) *models.User
	Save(ctx context.Context, tokens models.Tokens, user models.User)
	SetAccessToken(ctx context.Context, token string) bool
	SaveProfile(ctx context.Context, user models.User) bool
	Clear(ctx context.Context) storage.ClearResult
}

// Snapshot согласованный срез состояния сессии.
type Snapshot struct {
	State State
	User  *models.User
}

// IsAuthenticated истинно и во время обновления токена: сессия при этом жива.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateAuthenticated || s.State == StateRefreshing
}

// BestEffort итог выхода. Сбои шагов очистки не возвращаются как ошибка:
// локальная сессия закрыта в любом случае.
type BestEffort struct {
	Storage storage.ClearResult
	// Remote ошибка отзыва сессии на сервере, nil если вызов прошёл или не нужен.
	Remote error
}

// OK сообщает, что все шаги очистки прошли.
func (b BestEffort) OK() bool {
	return b.Storage.OK() && b.Remote == nil
}

// Manager менеджер сессии.
type Manager struct {
	api     Backend
	vault   Vault
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
	leeway  time.Duration

	mu           sync.RWMutex
	state        State
	user         *models.User
	accessToken  string
	refreshToken string
	// epoch растёт при каждой смене сессии (вход, выход); результат обновления
	// из старой эпохи отбрасывается.
	epoch uint64

	refreshGroup singleflight.Group

	lmu          sync.Mutex
	listeners    map[uint64]func(Snapshot)
	nextListener uint64
}

// Option настраивает Manager.
type Option func(*Manager)

// WithMetrics подключает метрики.
func WithMetrics(m *Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithClock подменяет часы, используется в тестах.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) {
		mgr.now = now
	}
}

// WithExpiryLeeway задаёт запас, с которым токен считается истёкшим при старте.
func WithExpiryLeeway(d time.Duration) Option {
	return func(mgr *Manager) {
		mgr.leeway = d
	}
}

// NewManager создаёт менеджер в состоянии Unauthenticated.
func NewManager(api Backend, vault Vault, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		api:       api,
		vault:     vault,
		log:       log,
		now:       time.Now,
		state:     StateUnauthenticated,
		listeners: make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	return m
}

// Initialize восстанавливает сессию из хранилища при старте.
// Любой сбой проверки сессии приводит к выходу; приложение продолжает работу
// без сессии, ошибка возвращается только при отменённом контексте.
func (m *Manager) Initialize(ctx context.Context) error {
	const op = "auth.Initialize"
	log := m.log.With(sl.Op(op))

	profile := m.vault.LoadProfile(ctx)
	tokens := m.vault.Tokens(ctx)

	if !tokens.Complete() {
		if profile != nil || tokens.AccessToken != "" || tokens.RefreshToken != "" {
			log.Info("incomplete stored session, cleaning up")
			m.Logout(ctx)
		}
		return nil
	}

	var epoch uint64
	m.update(func() bool {
		m.epoch++
		epoch = m.epoch
		m.state = StateAuthenticating
		m.user = profile
		m.accessToken = tokens.AccessToken
		m.refreshToken = tokens.RefreshToken
		return true
	})

	if jwt.Expired(tokens.AccessToken, m.now(), m.leeway) {
		log.Debug("stored access token expired, refreshing")
		if _, err := m.Refresh(ctx); err != nil {
			log.Info("stored session could not be refreshed", sl.Err(err))
			return ctxErr(ctx, op)
		}
	}

	user, err := m.api.Me(ctx)
	if err != nil {
		log.Info("stored session rejected, logging out", sl.Err(err))
		if m.currentEpoch() == epoch {
			m.Logout(ctx)
		}
		return ctxErr(ctx, op)
	}

	var current bool
	m.update(func() bool {
		if m.epoch != epoch {
			return false
		}
		current = true
		m.user = user
		m.state = StateAuthenticated
		return true
	})
	if current {
		m.vault.SaveProfile(ctx, *user)
		log.Info("session restored", slog.String("user_id", user.ID))
	}
	return nil
}

func ctxErr(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Login входит по email и паролю. При ошибке менеджер возвращается в состояние,
// в котором был до вызова: из Unauthenticated в Unauthenticated, а уже открытая
// сессия остаётся открытой с прежними токенами. В хранилище ничего не пишется.
// Ответ без пары токенов считается ошибкой сервера.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	const op = "auth.Login"

	restore := m.beginAuthentication()
	res, err := m.api.Login(ctx, models.Credentials{Email: email, Password: password})
	if err == nil {
		err = checkAuthResult(res)
	}
	if err != nil {
		restore()
		m.metrics.logins.WithLabelValues("failure").Inc()
		authErr := classify(op, err, KindInvalidCredentials)
		m.log.Info("login failed", sl.Op(op), slog.String("kind", authErr.Kind.String()), sl.Err(err))
		return authErr
	}

	m.establish(ctx, res)
	m.metrics.logins.WithLabelValues("success").Inc()
	m.log.Info("logged in", sl.Op(op), slog.String("user_id", res.User.ID))
	return nil
}

// Signup регистрирует пользователя с ролью PARENT и открывает сессию.
// Ошибки обрабатываются так же, как в Login.
func (m *Manager) Signup(ctx context.Context, data models.SignupData) error {
	const op = "auth.Signup"

	data.Role = models.RoleParent

	restore := m.beginAuthentication()
	res, err := m.api.Register(ctx, data)
	if err == nil {
		err = checkAuthResult(res)
	}
	if err != nil {
		restore()
		m.metrics.logins.WithLabelValues("failure").Inc()
		authErr := classify(op, err, KindInvalidCredentials)
		m.log.Info("signup failed", sl.Op(op), slog.String("kind", authErr.Kind.String()), sl.Err(err))
		return authErr
	}

	m.establish(ctx, res)
	m.metrics.logins.WithLabelValues("success").Inc()
	m.log.Info("signed up", sl.Op(op), slog.String("user_id", res.User.ID))
	return nil
}

// checkAuthResult отклоняет успешный ответ, по которому нельзя открыть сессию.
func checkAuthResult(res *models.AuthResult) error {
	if res == nil || !res.Tokens().Complete() {
		return ErrIncompleteSession
	}
	return nil
}

// beginAuthentication переводит менеджер в Authenticating и возвращает функцию
// отката к предыдущему состоянию. Откат не срабатывает, если сессию успели сменить.
func (m *Manager) beginAuthentication() (restore func()) {
	var prev State
	var epoch uint64
	m.update(func() bool {
		prev = m.state
		epoch = m.epoch
		m.state = StateAuthenticating
		return prev != StateAuthenticating
	})

	return func() {
		m.update(func() bool {
			if m.epoch != epoch || m.state != StateAuthenticating {
				return false
			}
			m.state = prev
			return prev != StateAuthenticating
		})
	}
}

// establish открывает новую сессию из ответа входа или регистрации.
func (m *Manager) establish(ctx context.Context, res *models.AuthResult) {
	user := res.User
	m.update(func() bool {
		m.epoch++
		m.state = StateAuthenticated
		m.user = &user
		m.accessToken = res.AccessToken
		m.refreshToken = res.RefreshToken
		return true
	})
	m.vault.Save(ctx, res.Tokens(), user)
}

// Logout закрывает сессию. Состояние в памяти сбрасывается до любого ввода-вывода,
// затем очищается хранилище и отзывается сессия на сервере. Сбои этих шагов
// только логируются и возвращаются в BestEffort.
func (m *Manager) Logout(ctx context.Context) BestEffort {
	const op = "auth.Logout"
	log := m.log.With(sl.Op(op))

	var token string
	m.update(func() bool {
		token = m.accessToken
		changed := m.state != StateUnauthenticated || m.user != nil
		m.epoch++
		m.state = StateUnauthenticated
		m.user = nil
		m.accessToken = ""
		m.refreshToken = ""
		return changed
	})
	m.metrics.logouts.Inc()

	res := BestEffort{Storage: m.vault.Clear(ctx)}

	if token != "" {
		if err := m.api.Logout(ctx, token); err != nil {
			res.Remote = err
			log.Warn("remote logout failed", sl.Err(err))
		}
	}

	log.Info("logged out", slog.Bool("clean", res.OK()))
	return res
}

// Refresh получает новый access token. Пока обновление в полёте, остальные
// вызовы ждут его результат; сетевой вызов не отменяется отменой ctx
// вызвавшего, а только перестаёт его ждать.
// При отказе сервера или сбое сети сессия закрывается.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	const op = "auth.Refresh"

	detached := context.WithoutCancel(ctx)
	ch := m.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return m.refresh(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &Error{Kind: KindNetwork, Err: fmt.Errorf("%s: %w", op, ctx.Err())}
	}
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	const op = "auth.refresh"
	log := m.log.With(sl.Op(op))

	var (
		refreshToken string
		prev         State
		epoch        uint64
	)
	m.update(func() bool {
		refreshToken = m.refreshToken
		if refreshToken == "" {
			return false
		}
		prev = m.state
		epoch = m.epoch
		m.state = StateRefreshing
		return prev != StateRefreshing
	})
	if refreshToken == "" {
		return "", &Error{Kind: KindTokenExpired, Err: fmt.Errorf("%s: %w", op, ErrNotAuthenticated)}
	}

	m.metrics.refreshes.Inc()
	token, err := m.api.Refresh(ctx, refreshToken)

	var current bool
	m.update(func() bool {
		if m.epoch != epoch {
			return false
		}
		current = true
		if err != nil {
			return false
		}
		m.accessToken = token
		m.state = prev
		return prev != StateRefreshing
	})

	if !current {
		log.Info("session changed during refresh, result discarded")
		return "", &Error{Kind: KindTokenExpired, Err: fmt.Errorf("%s: %w", op, ErrNotAuthenticated)}
	}

	if err != nil {
		m.metrics.refreshFailures.Inc()
		authErr := classify(op, err, KindTokenExpired)
		if authErr.Kind == KindServer {
			authErr.Kind = KindTokenExpired
		}
		log.Warn("token refresh failed, logging out", slog.String("kind", authErr.Kind.String()), sl.Err(err))
		m.Logout(ctx)
		return "", authErr
	}

	m.vault.SetAccessToken(ctx, token)
	log.Debug("access token refreshed")
	return token, nil
}

// UpdateUser заменяет профиль текущего пользователя, токены не меняются.
func (m *Manager) UpdateUser(ctx context.Context, user models.User) error {
	const op = "auth.UpdateUser"

	var ok bool
	m.update(func() bool {
		if m.state == StateUnauthenticated {
			return false
		}
		ok = true
		u := user
		m.user = &u
		return true
	})
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}
	m.vault.SaveProfile(ctx, user)
	return nil
}

// Snapshot возвращает текущее состояние.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// IsAuthenticated есть ли открытая сессия.
func (m *Manager) IsAuthenticated() bool {
	return m.Snapshot().IsAuthenticated()
}

// User копия профиля текущего пользователя или nil.
func (m *Manager) User() *models.User {
	return m.Snapshot().User
}

// State текущее состояние сессии.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// AccessToken текущий access token или пустая строка.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

// Subscribe регистрирует наблюдателя за сменой состояния. Наблюдатель вызывается
// синхронно, вне блокировок менеджера. Возвращает функцию отписки.
func (m *Manager) Subscribe(fn func(Snapshot)) (cancel func()) {
	m.lmu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.lmu.Lock()
			delete(m.listeners, id)
			m.lmu.Unlock()
		})
	}
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{State: m.state}
	if m.user != nil {
		u := *m.user
		snap.User = &u
	}
	return snap
}

// update применяет fn под блокировкой и, если fn сообщила об изменении,
// уведомляет наблюдателей снимком, снятым под той же блокировкой.
func (m *Manager) update(fn func() bool) {
	m.mu.Lock()
	changed := fn()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if changed {
		m.notify(snap)
	}
}

func (m *Manager) notify(snap Snapshot) {
	m.lmu.Lock()
	fns := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.lmu.Unlock()

	for _, fn := range fns {
		m.safeCall(fn, snap)
	}
}

func (m *Manager) safeCall(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("session listener panicked", sl.Err(errors.New(fmt.Sprint(r))))
		}
	}()
	fn(snap)
}
