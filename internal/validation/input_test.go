package validation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
)

func TestValidateAmount(t *testing.T) {
	min := decimal.NewFromInt(1)
	max := decimal.NewFromInt(10000)

	assert.NoError(t, ValidateAmount(decimal.NewFromInt(100), min, max))

	err := ValidateAmount(decimal.RequireFromString("0.5"), min, max)
	assert.Equal(t, apperror.ReasonBelowMinimum, apperror.ReasonOf(err))

	err = ValidateAmount(decimal.NewFromInt(10001), min, max)
	assert.Equal(t, apperror.ReasonAboveMaximum, apperror.ReasonOf(err))

	err = ValidateAmount(decimal.Zero, min, max)
	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, apperror.ReasonInvalidInput, apperror.ReasonOf(err))

	err = ValidateAmount(decimal.RequireFromString("1.123456789"), min, max)
	assert.Equal(t, apperror.ReasonInvalidInput, apperror.ReasonOf(err))
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("адрес", "0xAbC123"))
	assert.Error(t, ValidateAddress("адрес", ""))
	assert.Error(t, ValidateAddress("адрес", "ab"))
	assert.Error(t, ValidateAddress("адрес", "bad address"))
}

func TestValidateCurrencyAndRail(t *testing.T) {
	assert.NoError(t, ValidateCurrency("INR"))
	assert.Error(t, ValidateCurrency("inr"))
	assert.Error(t, ValidateCurrency("RUPEE"))

	assert.NoError(t, ValidateRail("upi"))
	assert.Error(t, ValidateRail(""))
	assert.Error(t, ValidateRail("UPI rail"))
}

func TestValidateReasoning(t *testing.T) {
	assert.Error(t, ValidateReasoning("   "))
	assert.NoError(t, ValidateReasoning("screenshot is edited"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "ok\tline", SanitizeString("  ok\tline\x00 "))
}
