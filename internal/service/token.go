package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ignatzorin/swap-arbiter/internal/models"
)

// TokenManager проверяет bearer-токены. Subject токена - адрес аккаунта.
type TokenManager struct {
	secret []byte
	now    func() time.Time
}

// NewTokenManager создаёт менеджер токенов.
func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret), now: time.Now}
}

// Issue выпускает access токен для адреса.
func (m *TokenManager) Issue(address string, ttl time.Duration) (string, error) {
	address = models.NormalizeAddress(address)
	if address == "" {
		return "", errors.New("token: пустой адрес")
	}
	now := m.now()
	claims := jwt.MapClaims{
		"sub": address,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ParseAccess извлекает адрес аккаунта из access токена.
func (m *TokenManager) ParseAccess(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}

	sub, ok := claims["sub"].(string)
	if !ok || models.NormalizeAddress(sub) == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return models.NormalizeAddress(sub), nil
}
