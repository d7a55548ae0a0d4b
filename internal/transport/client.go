// Package transport реализует HTTP-клиент к бэкенду (SessionClient).
//
// Клиент подставляет Authorization: Bearer с текущим access token, а на 401
// получает новый токен у Authenticator и повторяет исходный запрос ровно один раз.
// Сам клиент не обновляет токены: single-flight обновления живёт в менеджере сессии.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/scoutcard/internal/config"
	"github.com/magabrotheeeer/scoutcard/internal/lib/sl"
)

// Authenticator источник access token для запросов.
type Authenticator interface {
	// AccessToken возвращает текущий токен или пустую строку.
	AccessToken() string
	// Refresh возвращает новый токен; конкурентные вызовы получают один результат.
	Refresh(ctx context.Context) (string, error)
}

// Request описание запроса к бэкенду.
type Request struct {
	Method string
	Path   string
	Body   any
	// Public запросы уходят без токена и не запускают обновление на 401.
	Public bool
	// Token явный bearer-токен вместо текущего; обновление на 401 не запускается.
	Token string
}

// Client HTTP-клиент бэкенда.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        config.API
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	metrics    *Metrics
	log        *slog.Logger

	mu   sync.RWMutex
	auth Authenticator
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет http.Client, например в тестах.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New создаёт клиент к бэкенду по настройкам API и circuit breaker.
func New(apiCfg config.API, breakerCfg config.Breaker, log *slog.Logger, opts ...Option) *Client {
	limit := rate.Inf
	if apiCfg.RateLimit > 0 {
		limit = rate.Limit(apiCfg.RateLimit)
	}
	burst := apiCfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		baseURL: strings.TrimRight(apiCfg.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: apiCfg.Timeout,
		},
		cfg:     apiCfg,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}

	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: breakerCfg.MaxRequests,
		Interval:    breakerCfg.Interval,
		Timeout:     breakerCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerCfg.MinRequests || breakerCfg.FailureRatio <= 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= breakerCfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.log.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			c.metrics.breakerState.Set(stateToFloat(to))
		},
	})
	return c
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// SetAuthenticator привязывает источник токенов.
func (c *Client) SetAuthenticator(a Authenticator) {
	c.mu.Lock()
	c.auth = a
	c.mu.Unlock()
}

func (c *Client) authenticator() Authenticator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

// Do выполняет запрос и декодирует 2xx ответ в out (если out не nil).
// Не-2xx ответ возвращается как *Error, транспортный сбой содержит ErrNetwork в цепочке.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	const op = "transport.Do"

	payload, err := encodeBody(req.Body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	auth := c.authenticator()
	token := req.Token
	if token == "" && !req.Public && auth != nil {
		token = auth.AccessToken()
	}

	resp, err := c.roundTrip(ctx, req, payload, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && !req.Public && req.Token == "" && auth != nil {
		discard(resp)

		fresh, err := c.renewToken(ctx, auth, token)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		c.metrics.reauth.Inc()
		c.log.Debug("retrying request with renewed token",
			sl.Op(op), slog.String("method", req.Method), slog.String("path", req.Path))

		resp, err = c.roundTrip(ctx, req, payload, fresh)
		if err != nil {
			return err
		}
	}

	return decodeResponse(resp, out)
}

// renewToken возвращает токен для повтора после 401. Если пока запрос летел
// токен уже обновили, берётся текущий, иначе ждём общее обновление.
func (c *Client) renewToken(ctx context.Context, auth Authenticator, used string) (string, error) {
	if current := auth.AccessToken(); current != "" && current != used {
		return current, nil
	}
	return auth.Refresh(ctx)
}

// roundTrip отправляет запрос, повторяя только GET на сетевых ошибках и 5xx.
func (c *Client) roundTrip(ctx context.Context, req Request, payload []byte, token string) (*http.Response, error) {
	attempts := 1
	if req.Method == http.MethodGet {
		attempts += c.cfg.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.metrics.retries.Inc()
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return nil, fmt.Errorf("transport.roundTrip: %w: %w", ErrNetwork, ctx.Err())
			}
		}

		resp, err := c.send(ctx, req, payload, token)
		last := attempt == attempts-1
		if err != nil {
			lastErr = err
			if last || !isRetryable(ctx, err) {
				return nil, err
			}
			continue
		}
		if resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented && !last {
			discard(resp)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) backoff(attempt int) time.Duration {
	wait := c.cfg.RetryWaitMin * time.Duration(1<<uint(attempt-1))
	if c.cfg.RetryWaitMax > 0 && wait > c.cfg.RetryWaitMax {
		wait = c.cfg.RetryWaitMax
	}
	return wait
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return errors.Is(err, ErrNetwork)
}

// send выполняет одну попытку через limiter и circuit breaker.
func (c *Client) send(ctx context.Context, req Request, payload []byte, token string) (*http.Response, error) {
	const op = "transport.send"

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	c.metrics.duration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

	if errors.Is(err, errServerStatus) {
		err = nil
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.requests.WithLabelValues(req.Method, "breaker_open").Inc()
			return nil, fmt.Errorf("%s: %w", op, ErrCircuitOpen)
		}
		c.metrics.requests.WithLabelValues(req.Method, "network_error").Inc()
		c.log.Warn("backend request failed", sl.Op(op),
			slog.String("method", req.Method), slog.String("path", req.Path), sl.Err(err))
		return nil, fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	}

	c.metrics.requests.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	return json.Marshal(body)
}

func decodeResponse(resp *http.Response, out any) error {
	const op = "transport.decodeResponse"
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp)
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}
