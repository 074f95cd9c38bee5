// token.go — выпуск JWT (HS256) для пользователей, вошедших через /auth/login.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/filevault/internal/api/middleware"
)

// IssuedToken — подписанный токен и момент его истечения.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenIssuer подписывает токены общим секретом HS256.
// Проверка таких токенов — middleware.NewJWTAuthHMAC с тем же секретом.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer создаёт выпуск токенов.
func NewTokenIssuer(secret []byte, issuer, audience string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("секрет подписи JWT не задан")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("некорректное время жизни токена: %s", ttl)
	}
	return &TokenIssuer{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Issue выпускает токен с sub = subject.
func (ti *TokenIssuer) Issue(subject string) (IssuedToken, error) {
	now := ti.now().UTC()
	expiresAt := now.Add(ti.ttl)

	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    ti.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ti.audience != "" {
		claims.Audience = jwt.ClaimStrings{ti.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("ошибка подписи токена: %w", err)
	}

	return IssuedToken{Token: signed, ExpiresAt: expiresAt}, nil
}
