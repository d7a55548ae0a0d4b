// Package sl содержит вспомогательные функции для работы с логгером slog.
// Основная цель — упростить формирование структурированных полей лога,
// например, для передачи информации об ошибках.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
//
// Пример:
//
//	log.Error("failed to do something", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{Key: "error", Value: slog.StringValue("<nil>")}
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Op возвращает атрибут с именем операции.
func Op(op string) slog.Attr {
	return slog.String("op", op)
}
