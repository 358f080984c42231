package repository

import (
	"errors"

	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
)

// Ошибки уровня репозитория.
var (
	ErrOrderNotFound     = apperror.ErrOrderNotFound
	ErrTaskNotFound      = apperror.ErrTaskNotFound
	ErrDisputeNotFound   = apperror.ErrDisputeNotFound
	ErrValidatorNotFound = apperror.ErrValidatorNotFound

	// ErrSkipUpdate возвращается из функции изменения, когда записывать нечего.
	ErrSkipUpdate = errors.New("skip update")
)
