// Package response содержит вспомогательные функции для формирования
// JSON-ответов HTTP-обработчиков в формате, который разбирает клиент:
// ошибки приходят как {"message": ..., "code": ...}.
package response

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"
)

// ErrorResponse тело ответа с ошибкой.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_FAILED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeInternal           = "INTERNAL"
)

// Error возвращает тело ошибки с сообщением и кодом.
func Error(msg, code string) ErrorResponse {
	return ErrorResponse{Message: msg, Code: code}
}

// Fail пишет ошибку с HTTP-статусом status.
func Fail(w http.ResponseWriter, r *http.Request, status int, msg, code string) {
	render.Status(r, status)
	render.JSON(w, r, Error(msg, code))
}

// ValidationError формирует ошибку из нарушений валидации.
// Каждое нарушение описывается отдельно, описания объединяются через запятую.
func ValidationError(errs validator.ValidationErrors) ErrorResponse {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "min":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at least %s characters", err.Field(), err.Param()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of: %s", err.Field(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	return Error(strings.Join(errsMsgs, ", "), CodeValidation)
}
