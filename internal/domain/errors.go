package domain

import "errors"

// Domain errors
var (
	ErrCollectorNotInstalled = errors.New("collector not installed")
	ErrNotPrivileged         = errors.New("insufficient privileges")
	ErrLogFileNotCreated     = errors.New("collector log file never appeared")
	ErrCollectorExited       = errors.New("collector exited")
	ErrInvalidPattern        = errors.New("invalid filter pattern")
	ErrUnknownProfile        = errors.New("unknown filter profile")
	ErrSessionClosed         = errors.New("session already closed")
	ErrStateNotFound         = errors.New("no session state file found")
	ErrConfigNotFound        = errors.New("config file not found")
	ErrInvalidConfig         = errors.New("invalid configuration")
)

// Error codes for API responses
const (
	ErrCodeCollectorNotInstalled = "COLLECTOR_NOT_INSTALLED"
	ErrCodeNotPrivileged         = "NOT_PRIVILEGED"
	ErrCodeLogFileNotCreated     = "LOG_FILE_NOT_CREATED"
	ErrCodeCollectorExited       = "COLLECTOR_EXITED"
	ErrCodeInvalidPattern        = "INVALID_PATTERN"
	ErrCodeUnknownProfile        = "UNKNOWN_PROFILE"
	ErrCodeSessionClosed         = "SESSION_CLOSED"
)

// ErrorCode returns the API error code for a domain error
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrCollectorNotInstalled):
		return ErrCodeCollectorNotInstalled
	case errors.Is(err, ErrNotPrivileged):
		return ErrCodeNotPrivileged
	case errors.Is(err, ErrLogFileNotCreated):
		return ErrCodeLogFileNotCreated
	case errors.Is(err, ErrCollectorExited):
		return ErrCodeCollectorExited
	case errors.Is(err, ErrInvalidPattern):
		return ErrCodeInvalidPattern
	case errors.Is(err, ErrUnknownProfile):
		return ErrCodeUnknownProfile
	case errors.Is(err, ErrSessionClosed):
		return ErrCodeSessionClosed
	default:
		return "INTERNAL_ERROR"
	}
}
