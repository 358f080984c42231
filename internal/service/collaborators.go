package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/ignatzorin/swap-arbiter/internal/logger"
	"github.com/ignatzorin/swap-arbiter/internal/models"
	"github.com/ignatzorin/swap-arbiter/internal/pkg/apperror"
)

// RateOracle пересчитывает сумму в базовом активе в фиат. Вызывается только на сервере.
type RateOracle interface {
	FiatAmount(ctx context.Context, base decimal.Decimal, currency string) (decimal.Decimal, error)
}

// RateSource отдаёт курс базового актива к валюте.
type RateSource interface {
	Rate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// LimitVerifier проверяет баланс и лимиты аккаунта перед созданием заказа.
// nil означает успех, иначе AppError с причиной insufficient-balance, tier-exceeded
// или upstream-unavailable.
type LimitVerifier interface {
	CheckBalance(ctx context.Context, account string, amount decimal.Decimal) error
	CheckTierLimit(ctx context.Context, account string, fiatAmount decimal.Decimal) error
}

// Settler исполняет выпуск средств после завершения заказа.
type Settler interface {
	Release(ctx context.Context, order *models.Order) error
}

// Publisher доставляет события подписчикам.
type Publisher interface {
	Publish(event models.Event)
}

// FiatConverter реализует RateOracle поверх источника курсов.
type FiatConverter struct {
	source RateSource
}

func NewFiatConverter(source RateSource) *FiatConverter {
	return &FiatConverter{source: source}
}

func (c *FiatConverter) FiatAmount(ctx context.Context, base decimal.Decimal, currency string) (decimal.Decimal, error) {
	rate, err := c.source.Rate(ctx, strings.ToUpper(currency))
	if err != nil {
		return decimal.Zero, err
	}
	return base.Mul(rate).Round(2), nil
}

// StaticRates берёт курсы из конфигурации.
type StaticRates struct {
	rates map[string]decimal.Decimal
}

func NewStaticRates(rates map[string]decimal.Decimal) *StaticRates {
	copied := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		copied[strings.ToUpper(k)] = v
	}
	return &StaticRates{rates: copied}
}

func (s *StaticRates) Rate(_ context.Context, currency string) (decimal.Decimal, error) {
	rate, ok := s.rates[strings.ToUpper(currency)]
	if !ok {
		return decimal.Zero, apperror.Validation(fmt.Sprintf("валюта %s не поддерживается", currency))
	}
	return rate, nil
}

// Supports сообщает, известна ли валюта.
func (s *StaticRates) Supports(currency string) bool {
	_, ok := s.rates[strings.ToUpper(currency)]
	return ok
}

// HTTPRates запрашивает курс у внешнего сервиса. В URL подставляется {currency},
// курс извлекается из ответа по gjson-пути.
type HTTPRates struct {
	urlTemplate string
	jsonPath    string
	client      *http.Client
}

func NewHTTPRates(urlTemplate, jsonPath string, timeout time.Duration) *HTTPRates {
	return &HTTPRates{
		urlTemplate: urlTemplate,
		jsonPath:    jsonPath,
		client:      &http.Client{Timeout: timeout},
	}
}

func (h *HTTPRates) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	endpoint := strings.ReplaceAll(h.urlTemplate, "{currency}", url.PathEscape(strings.ToUpper(currency)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, apperror.Upstream(err, "не удалось сформировать запрос курса")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Zero, apperror.Upstream(err, "сервис курсов недоступен")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, apperror.Upstream(err, "не удалось прочитать ответ сервиса курсов")
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, apperror.Upstream(fmt.Errorf("status %d", resp.StatusCode), "сервис курсов вернул ошибку")
	}

	value := gjson.GetBytes(body, h.jsonPath)
	if !value.Exists() {
		return decimal.Zero, apperror.Upstream(fmt.Errorf("path %q not found", h.jsonPath), "в ответе нет курса")
	}
	rate, err := decimal.NewFromString(value.String())
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, apperror.Upstream(fmt.Errorf("bad rate %q", value.String()), "некорректный курс")
	}
	return rate, nil
}

// CachedRates кеширует курсы источника на ttl.
type CachedRates struct {
	source RateSource
	cache  *CacheService
	ttl    time.Duration
}

func NewCachedRates(source RateSource, cache *CacheService, ttl time.Duration) *CachedRates {
	return &CachedRates{source: source, cache: cache, ttl: ttl}
}

func (c *CachedRates) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	value, err := c.cache.GetOrSet(RateCacheKey(currency), c.ttl, func() (interface{}, error) {
		return c.source.Rate(ctx, currency)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return value.(decimal.Decimal), nil
}

// StaticLimitVerifier проверяет лимиты по конфигурации. Балансы не отслеживаются,
// если не заданы явно.
type StaticLimitVerifier struct {
	tierLimit decimal.Decimal
	balances  map[string]decimal.Decimal
}

func NewStaticLimitVerifier(tierLimit decimal.Decimal, balances map[string]decimal.Decimal) *StaticLimitVerifier {
	normalized := make(map[string]decimal.Decimal, len(balances))
	for addr, amount := range balances {
		normalized[models.NormalizeAddress(addr)] = amount
	}
	return &StaticLimitVerifier{tierLimit: tierLimit, balances: normalized}
}

func (v *StaticLimitVerifier) CheckBalance(_ context.Context, account string, amount decimal.Decimal) error {
	if len(v.balances) == 0 {
		return nil
	}
	balance := v.balances[models.NormalizeAddress(account)]
	if balance.LessThan(amount) {
		return apperror.New(apperror.ErrCodeValidation, apperror.ReasonInsufficientBalance,
			fmt.Sprintf("недостаточно средств: доступно %s, требуется %s", balance, amount))
	}
	return nil
}

func (v *StaticLimitVerifier) CheckTierLimit(_ context.Context, _ string, fiatAmount decimal.Decimal) error {
	if v.tierLimit.IsPositive() && fiatAmount.GreaterThan(v.tierLimit) {
		return apperror.New(apperror.ErrCodeValidation, apperror.ReasonTierExceeded,
			fmt.Sprintf("сумма %s превышает лимит уровня %s", fiatAmount, v.tierLimit))
	}
	return nil
}

// LogSettler только фиксирует разрешение на выпуск средств; перевод выполняет внешний исполнитель.
type LogSettler struct{}

func (LogSettler) Release(_ context.Context, order *models.Order) error {
	logger.Log.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"status":       order.Status,
		"requester":    order.Requester,
		"counterparty": order.CounterpartyAddress(),
		"amount_base":  order.AmountBase.String(),
	}).Info("settlement: выпуск средств разрешён")
	return nil
}

// NopPublisher отбрасывает события.
type NopPublisher struct{}

func (NopPublisher) Publish(models.Event) {}
