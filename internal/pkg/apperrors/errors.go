// Package apperrors предоставляет структурированные ошибки демона
// и отображение их кодов в статус завершения процесса.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Коды ошибок в формате CATEGORY.SPECIFIC.
const (
	// CONFIG — чтение и проверка конфигурации.
	ErrConfigLoad     = "CONFIG.LOAD_FAILED"
	ErrConfigParse    = "CONFIG.PARSE_FAILED"
	ErrConfigValidate = "CONFIG.VALIDATION_FAILED"

	// SPOOL — файл очереди. Ошибка загрузки фатальна: состояние очереди на диске неизвестно.
	ErrSpoolLoad    = "SPOOL.LOAD_FAILED"
	ErrSpoolPersist = "SPOOL.PERSIST_FAILED"

	// LISTENER — приём сообщений от локальных клиентов.
	ErrListenerBind = "LISTENER.BIND_FAILED"

	// DELIVERY — подключение к чат-бэкенду.
	ErrDeliveryLogin  = "DELIVERY.LOGIN_FAILED"
	ErrDeliveryConfig = "DELIVERY.CONFIG_INVALID"

	// STARTUP — прочие ошибки запуска демона.
	ErrStartup = "STARTUP.FAILED"

	// INPUT — аргументы командной строки клиента.
	ErrInputInvalid = "INPUT.INVALID_ARGUMENT"

	// CLIENT — передача сообщения демону.
	ErrClientSend = "CLIENT.SEND_FAILED"
)

// Статусы завершения процесса.
const (
	ExitOK      = 0
	ExitConfig  = 1
	ExitSpool   = 2
	ExitStartup = 3
	ExitRuntime = 4
)

// AppError — ошибка приложения с машиночитаемым кодом.
//
// ВАЖНО: Message не должен содержать секреты (пароли, токены, webhook URL).
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error реализует интерфейс error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap возвращает исходную ошибку для errors.Is/As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError создаёт AppError.
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Code возвращает код первого AppError в цепочке или пустую строку.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode проверяет, содержит ли цепочка ошибок AppError с указанным кодом.
func HasCode(err error, code string) bool {
	return Code(err) == code
}

// ExitCode отображает ошибку в статус завершения процесса.
// nil даёт ExitOK, ошибка без кода — ExitRuntime.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	code := Code(err)
	category, _, _ := strings.Cut(code, ".")
	switch {
	case code == "":
		return ExitRuntime
	case category == "CONFIG", category == "INPUT":
		return ExitConfig
	case code == ErrSpoolLoad:
		return ExitSpool
	case category == "LISTENER", category == "DELIVERY", category == "STARTUP":
		return ExitStartup
	default:
		return ExitRuntime
	}
}
