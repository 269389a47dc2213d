// Package middleware содержит HTTP middleware сервиса аренды автомобилей.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const addressKey contextKey = "walletAddress"

const (
	sessionCookieName = "wallet_session"
	sessionCookieTTL  = 24 * time.Hour
)

// SessionMiddleware проверяет подписанный cookie сессии кошелька.
// Сервис не управляет ключами: адрес приходит от внешнего wallet-провайдера,
// cookie лишь фиксирует его между запросами.
type SessionMiddleware struct {
	secretKey []byte
}

// NewSessionMiddleware создаёт middleware с указанным секретным ключом подписи.
func NewSessionMiddleware(secret string) *SessionMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &SessionMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie сессии и добавляет адрес кошелька в контекст запроса.
func (m *SessionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		address, ok := m.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), addressKey, address)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetSessionCookie устанавливает cookie сессии для указанного адреса кошелька.
func (m *SessionMiddleware) SetSessionCookie(w http.ResponseWriter, address string) {
	value := m.signAddress(address)

	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (m *SessionMiddleware) signAddress(address string) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(address))
	signature := mac.Sum(nil)
	return address + "." + hex.EncodeToString(signature)
}

func (m *SessionMiddleware) parseCookie(cookieValue string) (string, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 2 {
		return "", false
	}

	address := parts[0]
	signature := parts[1]

	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(address))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", false
	}

	return address, true
}

// GetAddressFromContext извлекает адрес кошелька из контекста запроса.
func GetAddressFromContext(ctx context.Context) (string, bool) {
	address, ok := ctx.Value(addressKey).(string)
	return address, ok
}
