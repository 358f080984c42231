package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
)

// Константы валидации
const (
	MinAddressLength     = 3
	MaxAddressLength     = 128
	MaxRailLength        = 32
	MaxNotesLength       = 2000
	MinReasoningLength   = 3
	MaxReasoningLength   = 4000
	MinDisputeReasonLen  = 3
	MaxDisputeReasonLen  = 2000
	MaxArtifactRefLength = 512
	MaxAmountScale       = 8
)

var (
	addressPattern  = regexp.MustCompile(`^[a-zA-Z0-9_.:\-]+$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	railPattern     = regexp.MustCompile(`^[a-z0-9_\-]+$`)
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return apperror.Validation(fmt.Sprintf("%s должен быть не менее %d символов", fieldName, min))
	}
	if max > 0 && length > max {
		return apperror.Validation(fmt.Sprintf("%s должен быть не более %d символов", fieldName, max))
	}
	return nil
}

// ValidateAddress проверяет адрес аккаунта.
func ValidateAddress(fieldName, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return apperror.Validation(fmt.Sprintf("%s обязателен", fieldName))
	}
	if err := ValidateLength(fieldName, address, MinAddressLength, MaxAddressLength); err != nil {
		return err
	}
	if !addressPattern.MatchString(address) {
		return apperror.Validation(fmt.Sprintf("%s содержит недопустимые символы", fieldName))
	}
	return nil
}

// ValidateAmount проверяет сумму в базовом активе и границы заказа.
func ValidateAmount(amount, min, max decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperror.Validation("сумма должна быть положительной")
	}
	if -amount.Exponent() > MaxAmountScale {
		return apperror.Validation(fmt.Sprintf("сумма допускает не более %d знаков после запятой", MaxAmountScale))
	}
	if amount.LessThan(min) {
		return apperror.New(apperror.ErrCodeValidation, apperror.ReasonBelowMinimum,
			fmt.Sprintf("сумма %s меньше минимальной %s", amount, min))
	}
	if amount.GreaterThan(max) {
		return apperror.New(apperror.ErrCodeValidation, apperror.ReasonAboveMaximum,
			fmt.Sprintf("сумма %s больше максимальной %s", amount, max))
	}
	return nil
}

// ValidateCurrency проверяет ISO-код валюты.
func ValidateCurrency(currency string) error {
	if !currencyPattern.MatchString(currency) {
		return apperror.Validation("валюта должна быть трёхбуквенным ISO-кодом")
	}
	return nil
}

// ValidateRail проверяет идентификатор платёжного канала (upi, sepa, ...).
func ValidateRail(rail string) error {
	if rail == "" {
		return apperror.Validation("платёжный канал обязателен")
	}
	if len(rail) > MaxRailLength || !railPattern.MatchString(rail) {
		return apperror.Validation("некорректный платёжный канал")
	}
	return nil
}

// ValidateNotes проверяет необязательный комментарий.
func ValidateNotes(notes string) error {
	return ValidateLength("комментарий", notes, 0, MaxNotesLength)
}

// ValidateReasoning проверяет обоснование голоса арбитра.
func ValidateReasoning(reasoning string) error {
	if strings.TrimSpace(reasoning) == "" {
		return apperror.Validation("обоснование голоса обязательно")
	}
	return ValidateLength("обоснование", strings.TrimSpace(reasoning), MinReasoningLength, MaxReasoningLength)
}

// ValidateDisputeReason проверяет причину спора.
func ValidateDisputeReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return apperror.Validation("причина спора обязательна")
	}
	return ValidateLength("причина спора", strings.TrimSpace(reason), MinDisputeReasonLen, MaxDisputeReasonLen)
}

// ValidateArtifactRef проверяет ссылку на материал спора.
func ValidateArtifactRef(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return apperror.Validation("ссылка на материал обязательна")
	}
	return ValidateLength("ссылка на материал", ref, 1, MaxArtifactRefLength)
}

// SanitizeString удаляет управляющие символы и обрезает пробелы.
func SanitizeString(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}
