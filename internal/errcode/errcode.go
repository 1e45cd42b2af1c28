// Package errcode defines the machine-readable error taxonomy shared by the
// engine and the control API. Every error that crosses the HTTP boundary
// carries a Code; anything without one is surfaced as INTERNAL.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class.
type Code string

const (
	// Input errors
	MissingGuildID Code = "MISSING_GUILD_ID"
	MissingUserID  Code = "MISSING_USER_ID"
	MissingIndex   Code = "MISSING_INDEX"
	BadArgument    Code = "BAD_ARGUMENT"

	// Authorization errors
	PriorityForbidden Code = "PRIORITY_FORBIDDEN"
	QuotaExceeded     Code = "QUOTA_EXCEEDED"

	// Voice errors
	UserNotInVoice     Code = "USER_NOT_IN_VOICE"
	GuildNotFound      Code = "GUILD_NOT_FOUND"
	VoiceConnectFailed Code = "VOICE_CONNECT_FAILED"
	NoVoice            Code = "NO_VOICE"
	NotPlaying         Code = "NOT_PLAYING"

	// Extraction errors
	ProviderUnsupported Code = "PROVIDER_UNSUPPORTED"
	ExtractionFailed    Code = "EXTRACTION_FAILED"
	NetworkError        Code = "NETWORK_ERROR"

	// Engine errors
	PlayerUnavailable Code = "PLAYER_UNAVAILABLE"
	BotNotReady       Code = "BOT_NOT_READY"
	EnqueueFailed     Code = "ENQUEUE_FAILED"
	MoveFailed        Code = "MOVE_FAILED"
	EngineTimeout     Code = "ENGINE_TIMEOUT"

	// Fallback
	Internal Code = "INTERNAL"
)

// Error pairs a taxonomy code with an underlying error.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with a message.
func New(code Code, msg string) error {
	return &Error{Code: code, Err: errors.New(msg)}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a code to an existing error. A nil err yields nil.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// Of extracts the taxonomy code from err, or Internal if it has none.
func Of(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return Of(err) == code
}

// HTTPStatus maps a code to the response status used by the control API.
func HTTPStatus(code Code) int {
	switch code {
	case MissingGuildID, MissingUserID, MissingIndex, BadArgument:
		return http.StatusBadRequest
	case PriorityForbidden:
		return http.StatusForbidden
	case QuotaExceeded, MoveFailed, EnqueueFailed, UserNotInVoice,
		GuildNotFound, NoVoice, NotPlaying, ProviderUnsupported,
		ExtractionFailed, VoiceConnectFailed:
		return http.StatusConflict
	case PlayerUnavailable, BotNotReady:
		return http.StatusServiceUnavailable
	case EngineTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
