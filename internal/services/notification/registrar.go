// Package notification привязывает push-токен устройства к сессии пользователя.
package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/scoutcard/internal/config"
	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
	"github.com/magabrotheeeer/scoutcard/internal/services/auth"
)

const requestTimeout = 10 * time.Second

// Backend эндпоинты регистрации устройства.
type Backend interface {
	RegisterDevice(ctx context.Context, token, platform string) error
	UnregisterDevice(ctx context.Context, token string) error
}

// Session источник событий сессии.
type Session interface {
	Snapshot() auth.Snapshot
	Subscribe(fn func(auth.Snapshot)) (cancel func())
}

// Registrar регистрирует устройство при входе и отвязывает при выходе.
// События обрабатываются последовательно в отдельной горутине; серия событий
// сворачивается до последнего желаемого состояния.
type Registrar struct {
	api      Backend
	token    string
	platform string
	log      *slog.Logger

	mu           sync.Mutex
	desired      string // id пользователя, для которого нужна регистрация; пусто после выхода
	registeredTo string

	wake        chan struct{}
	stop        chan struct{}
	done        chan struct{}
	unsubscribe func()
	closeOnce   sync.Once
}

// New запускает Registrar. Без push-токена регистратор ничего не делает.
func New(api Backend, session Session, cfg config.Notifications, log *slog.Logger) *Registrar {
	r := &Registrar{
		api:      api,
		token:    cfg.PushToken,
		platform: cfg.Platform,
		log:      log,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if r.token == "" {
		log.Debug("push token not configured, device registration disabled")
		close(r.done)
		r.unsubscribe = func() {}
		return r
	}

	r.unsubscribe = session.Subscribe(r.onSession)
	r.onSession(session.Snapshot())

	go r.run()
	return r
}

func (r *Registrar) onSession(snap auth.Snapshot) {
	var desired string
	switch snap.State {
	case auth.StateAuthenticated:
		if snap.User == nil {
			return
		}
		desired = snap.User.ID
	case auth.StateUnauthenticated:
		desired = ""
	default:
		// переходные состояния не меняют регистрацию
		return
	}

	r.mu.Lock()
	r.desired = desired
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Registrar) run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			// последнее событие до остановки ещё обрабатывается
			select {
			case <-r.wake:
				r.reconcile()
			default:
			}
			return
		case <-r.wake:
			r.reconcile()
		}
	}
}

func (r *Registrar) reconcile() {
	const op = "notification.reconcile"
	log := r.log.With(sl.Op(op))

	r.mu.Lock()
	desired, registered := r.desired, r.registeredTo
	r.mu.Unlock()

	if desired == registered {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if desired == "" {
		// сессии уже нет: отвязка публичная и best-effort
		if err := r.api.UnregisterDevice(ctx, r.token); err != nil {
			log.Warn("device unregistration failed", sl.Err(err))
		} else {
			log.Info("device unregistered")
		}
		r.setRegistered("")
		return
	}

	if err := r.api.RegisterDevice(ctx, r.token, r.platform); err != nil {
		log.Warn("device registration failed", slog.String("user_id", desired), sl.Err(err))
		return
	}
	r.setRegistered(desired)
	log.Info("device registered", slog.String("user_id", desired), slog.String("platform", r.platform))
}

func (r *Registrar) setRegistered(userID string) {
	r.mu.Lock()
	r.registeredTo = userID
	r.mu.Unlock()
}

// RegisteredTo id пользователя, к которому сейчас привязано устройство.
func (r *Registrar) RegisteredTo() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registeredTo
}

// Close отписывается от сессии и останавливает обработку событий.
func (r *Registrar) Close() {
	r.closeOnce.Do(func() {
		r.unsubscribe()
		if r.token != "" {
			close(r.stop)
		}
		<-r.done
	})
}
