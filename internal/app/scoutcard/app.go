// Package scoutcard собирает клиентскую часть: хранилище сессии, транспорт,
// менеджер сессии, жизненный цикл подписки и регистрацию устройства.
package scoutcard

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/magabrotheeeer/scoutcard/internal/api"
	"github.com/magabrotheeeer/scoutcard/internal/cache"
	"github.com/magabrotheeeer/scoutcard/internal/config"
	"github.com/magabrotheeeer/scoutcard/internal/lib/seal"
	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
	"github.com/magabrotheeeer/scoutcard/internal/services/auth"
	"github.com/magabrotheeeer/scoutcard/internal/services/notification"
	"github.com/magabrotheeeer/scoutcard/internal/services/subscription"
	"github.com/magabrotheeeer/scoutcard/internal/storage"
	"github.com/magabrotheeeer/scoutcard/internal/transport"
)

const keyFileName = "secure.key"

// App клиент со всеми зависимостями, собранными один раз при старте.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	out      io.Writer
	validate *validator.Validate
	registry *prometheus.Registry

	Session       *auth.Manager
	Subscriptions *subscription.Lifecycle
	Registrar     *notification.Registrar

	secureKV    cache.Store
	profileKV   cache.Store
	httpClient  *http.Client
	closers     []io.Closer
	unsubscribe func()

	mu         sync.Mutex
	lastUserID string
}

// Option настраивает App.
type Option func(*App)

// WithOutput задаёт, куда команды пишут результат.
func WithOutput(w io.Writer) Option {
	return func(a *App) {
		a.out = w
	}
}

// WithStores подменяет бэкенды обоих уровней хранилища.
func WithStores(secure, profile cache.Store) Option {
	return func(a *App) {
		a.secureKV = secure
		a.profileKV = profile
	}
}

// WithHTTPClient подменяет HTTP-клиент транспорта.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) {
		a.httpClient = hc
	}
}

// New собирает клиент.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	const op = "scoutcard.New"

	a := &App{
		cfg:      cfg,
		log:      log,
		out:      os.Stdout,
		validate: validator.New(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.secureKV == nil || a.profileKV == nil {
		if err := a.openStores(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	sealer, err := a.sealer()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	vault := storage.NewVault(
		storage.NewSecureStore(a.secureKV, sealer, log),
		storage.NewProfileStore(a.profileKV, log),
		log,
	)

	trOpts := []transport.Option{transport.WithMetrics(transport.NewMetrics(a.registry))}
	if a.httpClient != nil {
		trOpts = append(trOpts, transport.WithHTTPClient(a.httpClient))
	}
	tr := transport.New(cfg.API, cfg.Breaker, log, trOpts...)
	client := api.New(tr)

	a.Session = auth.NewManager(client, vault, log, auth.WithMetrics(auth.NewMetrics(a.registry)))
	tr.SetAuthenticator(a.Session)

	a.Subscriptions = subscription.New(client, a.Session, a.profileKV, cfg.Plans, log)
	a.unsubscribe = a.Session.Subscribe(a.onSession)
	a.Registrar = notification.New(client, a.Session, cfg.Notifications, log)

	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "memory":
		a.secureKV, a.profileKV = cache.NewMemory(), cache.NewMemory()
	case "file", "":
		secure, err := cache.NewFile(filepath.Join(a.cfg.Dir, "secure.json"))
		if err != nil {
			return err
		}
		profile, err := cache.NewFile(filepath.Join(a.cfg.Dir, "profile.json"))
		if err != nil {
			return err
		}
		a.secureKV, a.profileKV = secure, profile
	case "redis":
		secure, err := cache.InitRedis(ctx, a.cfg.RedisConnection, "scoutcard:secure:")
		if err != nil {
			return err
		}
		a.closers = append(a.closers, secure)
		profile, err := cache.InitRedis(ctx, a.cfg.RedisConnection, "scoutcard:profile:")
		if err != nil {
			return err
		}
		a.closers = append(a.closers, profile)
		a.secureKV, a.profileKV = secure, profile
	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	return nil
}

// sealer выводит ключ защищённого уровня из пароля. Без пароля ключ
// генерируется: для файлового бэкенда он хранится рядом с данными, для
// памяти живёт до конца процесса.
func (a *App) sealer() (*seal.Sealer, error) {
	if a.cfg.SecurePassword != "" {
		return seal.New(a.cfg.SecurePassword, a.cfg.SecureSalt)
	}
	switch a.cfg.Storage.Backend {
	case "redis":
		return nil, errors.New("redis backend requires storage.secure_password")
	case "file", "":
		key, err := loadOrCreateKey(filepath.Join(a.cfg.Dir, keyFileName))
		if err != nil {
			return nil, err
		}
		return seal.NewWithKey(key)
	default:
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		return seal.NewWithKey(key)
	}
}

func loadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil && len(key) == 32 {
		return key, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

// onSession сбрасывает подписку прошлого пользователя при выходе.
func (a *App) onSession(snap auth.Snapshot) {
	a.mu.Lock()
	prev := a.lastUserID
	switch {
	case snap.State == auth.StateAuthenticated && snap.User != nil:
		a.lastUserID = snap.User.ID
	case snap.State == auth.StateUnauthenticated:
		a.lastUserID = ""
	}
	current := a.lastUserID
	a.mu.Unlock()

	if prev != "" && prev != current {
		a.Subscriptions.Reset(context.Background(), prev)
	}
}

// Registry метрики клиента.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Close останавливает регистрацию устройства и закрывает соединения хранилища.
func (a *App) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.Registrar != nil {
		a.Registrar.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("failed to close storage backend", sl.Err(err))
		}
	}
}
