package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/magabrotheeeer/scoutcard/internal/transport"
)

// ErrNotAuthenticated операция требует открытой сессии.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrIncompleteSession сервер ответил успехом, но без пары токенов.
var ErrIncompleteSession = errors.New("auth response without access or refresh token")

// Kind категория ошибки сессии.
type Kind int

const (
	// KindInvalidCredentials сервер отклонил логин или регистрацию.
	KindInvalidCredentials Kind = iota + 1
	// KindNetwork транспортный сбой.
	KindNetwork
	// KindServer 5xx или неразборчивый ответ.
	KindServer
	// KindTokenExpired обновление токена не удалось, сессия закрыта.
	KindTokenExpired
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindNetwork:
		return "network error"
	case KindServer:
		return "server error"
	case KindTokenExpired:
		return "token expired"
	default:
		return "unknown"
	}
}

// Error типизированная ошибка менеджера сессии.
// Message содержит текст сервера, если он был, для показа пользователю.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth: %s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Kind, e.Err)
	}
	return "auth: " + e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind сообщает, что в цепочке err есть *Error вида kind.
func IsKind(err error, kind Kind) bool {
	var authErr *Error
	return errors.As(err, &authErr) && authErr.Kind == kind
}

// classify переводит ошибку транспорта в *Error.
// rejected: вид ошибки для 4xx ответа сервера.
func classify(op string, err error, rejected Kind) *Error {
	wrapped := fmt.Errorf("%s: %w", op, err)

	if errors.Is(err, transport.ErrNetwork) || errors.Is(err, transport.ErrCircuitOpen) {
		return &Error{Kind: KindNetwork, Err: wrapped}
	}

	var apiErr *transport.Error
	if errors.As(err, &apiErr) {
		kind := KindServer
		if apiErr.Status >= http.StatusBadRequest && apiErr.Status < http.StatusInternalServerError {
			kind = rejected
		}
		return &Error{Kind: kind, Status: apiErr.Status, Message: apiErr.Message, Err: wrapped}
	}

	return &Error{Kind: KindServer, Err: wrapped}
}
