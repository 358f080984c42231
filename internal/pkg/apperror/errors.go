package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest          ErrorCode = "BAD_REQUEST"
	ErrCodeConflict            ErrorCode = "CONFLICT"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation          ErrorCode = "VALIDATION_ERROR"
	ErrCodeIllegalTransition   ErrorCode = "ILLEGAL_TRANSITION"
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeDatabaseError       ErrorCode = "DATABASE_ERROR"
	ErrCodeRateLimited         ErrorCode = "RATE_LIMITED"
)

// Стабильные коды причин, которые клиент может перечислить.
const (
	ReasonBelowMinimum        = "below-minimum"
	ReasonAboveMaximum        = "above-maximum"
	ReasonInsufficientBalance = "insufficient-balance"
	ReasonTierExceeded        = "tier-exceeded"
	ReasonUpstreamUnavailable = "upstream-unavailable"
	ReasonInvalidInput        = "invalid-input"
	ReasonIllegalTransition   = "illegal-transition"
	ReasonSelfInterest        = "self-interest"
	ReasonNotParty            = "not-a-party"
	ReasonNotAdmin            = "not-admin"
	ReasonNotArbitrator       = "not-arbitrator"
	ReasonAlreadyVoted        = "already-voted"
	ReasonAlreadyResolved     = "already-resolved"
	ReasonVotingClosed        = "voting-closed"
	ReasonDisputeExists       = "dispute-exists"
	ReasonNotFound            = "not-found"
	ReasonUnauthorized        = "unauthorized"
	ReasonRateLimited         = "rate-limited"
)

type AppError struct {
	Code       ErrorCode
	Reason     string
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s(%s): %s (caused by: %v)", e.Code, e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s(%s): %s", e.Code, e.Reason, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду и причине, чтобы errors.Is работал с предопределёнными значениями.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Reason == t.Reason
}

func New(code ErrorCode, reason, message string) *AppError {
	return &AppError{
		Code:       code,
		Reason:     reason,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, reason, message string) *AppError {
	return &AppError{
		Code:       code,
		Reason:     reason,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func Validation(message string) *AppError {
	return New(ErrCodeValidation, ReasonInvalidInput, message)
}

func IllegalTransition(message string) *AppError {
	return New(ErrCodeIllegalTransition, ReasonIllegalTransition, message)
}

func Forbidden(reason, message string) *AppError {
	return New(ErrCodeForbidden, reason, message)
}

func Conflict(reason, message string) *AppError {
	return New(ErrCodeConflict, reason, message)
}

func NotFound(message string) *AppError {
	return New(ErrCodeNotFound, ReasonNotFound, message)
}

func Upstream(err error, message string) *AppError {
	return Wrap(err, ErrCodeUpstreamUnavailable, ReasonUpstreamUnavailable, message)
}

// Конфликты (повторный голос, уже решённая задача) по контракту API отдаются как 400.
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeIllegalTransition, ErrCodeConflict:
		return http.StatusBadRequest
	case ErrCodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func ReasonOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}

func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	return CodeOf(err) == ErrCodeForbidden
}

func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflict
}

func IsIllegalTransition(err error) bool {
	return CodeOf(err) == ErrCodeIllegalTransition
}

func IsUpstreamUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeUpstreamUnavailable
}

var (
	ErrOrderNotFound      = NotFound("заказ не найден")
	ErrTaskNotFound       = NotFound("задача валидации не найдена")
	ErrDisputeNotFound    = NotFound("спор не найден")
	ErrValidatorNotFound  = NotFound("профиль валидатора не найден")
	ErrUnauthorized       = New(ErrCodeUnauthorized, ReasonUnauthorized, "требуется авторизация")
	ErrNotAdmin           = Forbidden(ReasonNotAdmin, "действие доступно только администраторам")
	ErrAlreadyVoted       = Conflict(ReasonAlreadyVoted, "вы уже проголосовали")
	ErrAlreadyResolved    = Conflict(ReasonAlreadyResolved, "задача уже решена")
	ErrDisputeExists      = Conflict(ReasonDisputeExists, "по заказу уже открыт спор")
	ErrSelfInterestedVote = Forbidden(ReasonSelfInterest, "участник сделки не может голосовать по ней")
)
