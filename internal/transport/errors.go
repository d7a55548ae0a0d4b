package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrNetwork транспортная ошибка: нет соединения, таймаут, обрыв.
	ErrNetwork = errors.New("network error")
	// ErrCircuitOpen circuit breaker отклонил запрос.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// errServerStatus помечает 5xx ответ как неуспешный для circuit breaker.
var errServerStatus = errors.New("server status")

// Error ответ бэкенда с не-2xx статусом.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// StatusOf возвращает HTTP-статус из цепочки ошибок или 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsStatus сообщает, что err является ответом бэкенда со статусом status.
func IsStatus(err error, status int) bool {
	return StatusOf(err) == status
}

// errorBody формы тела ошибки, которые встречаются у бэкенда.
type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// parseError читает тело не-2xx ответа и закрывает его.
func parseError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()

	apiErr := &Error{Status: resp.StatusCode}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(b) == 0 {
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}

	var body errorBody
	if json.Unmarshal(b, &body) == nil {
		apiErr.Code = body.Code
		switch {
		case body.Message != "":
			apiErr.Message = body.Message
		case body.Error != "":
			apiErr.Message = body.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
