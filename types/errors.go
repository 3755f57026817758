package types

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrHandlerIsNil         = errors.New("handler is nil")
	ErrRouteInvalid         = errors.New("route invalid")
	ErrRouteConflict        = errors.New("route conflict")
	ErrRouteNotFound        = errors.New("route not found")
	ErrSchemaInvalid        = errors.New("schema invalid")
	ErrResponseEnded        = errors.New("response already ended")
)

var (
	ErrMiddlewareNotFound = errors.New("middleware not found")
)

var (
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheTypeUnknown     = errors.New("cache type unknown")
	ErrCacheOperationFailed = errors.New("cache operation failed")
	ErrCacheIsDisabled      = errors.New("cache manager is disabled")
	ErrProducerIsNil        = errors.New("cache producer is nil")
)

var (
	ErrSchedulerIsRunning  = errors.New("scheduler is running")
	ErrSchedulerJobIsNil   = errors.New("scheduler job is nil")
	ErrSchedulerSpecEmpty  = errors.New("scheduler spec is empty")
	ErrSchedulerJobInvalid = errors.New("scheduler job invalid")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrServiceIsRunning    = errors.New("service is running")
	ErrServiceIsNotRunning = errors.New("service is not running")
	ErrDiscoveryFailed     = errors.New("route discovery failed")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// ErrorKind tags a framework error. Classification is done by switching on the
// kind, never on the concrete error type.
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// StatusCode is the HTTP status a kind renders with.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	cause      error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:       kind,
		StatusCode: kind.StatusCode(),
		Message:    message,
	}
}

// NewStatusError builds an error carrying an arbitrary status code, for
// handlers that want a specific code without a dedicated kind.
func NewStatusError(statusCode int, message string) *Error {
	kind := KindInternal
	switch statusCode {
	case http.StatusBadRequest:
		kind = KindValidation
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusConflict:
		kind = KindConflict
	}

	return &Error{Kind: kind, StatusCode: statusCode, Message: message}
}

func NewValidationError(message string) *Error {
	return NewError(KindValidation, message)
}

func NewNotFoundError(message string) *Error {
	return NewError(KindNotFound, message)
}

func NewConflictError(message string) *Error {
	return &Error{
		Kind:       KindConflict,
		StatusCode: KindConflict.StatusCode(),
		Message:    message,
		cause:      ErrRouteConflict,
	}
}

func NewInternalError(cause error) *Error {
	message := "Internal server error"
	if cause != nil && cause.Error() != "" {
		message = cause.Error()
	}

	return &Error{
		Kind:       KindInternal,
		StatusCode: KindInternal.StatusCode(),
		Message:    message,
		cause:      cause,
	}
}

// AsError classifies err into a framework error. Foreign errors become
// KindInternal with their original message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var terr *Error
	if errors.As(err, &terr) && terr != nil {
		if terr.StatusCode == 0 {
			terr.StatusCode = terr.Kind.StatusCode()
		}
		return terr
	}

	return NewInternalError(err)
}

func IsKind(err error, kind ErrorKind) bool {
	var terr *Error
	if !errors.As(err, &terr) {
		return kind == KindInternal && err != nil
	}
	return terr.Kind == kind
}
