// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// IsValidAddress проверяет, что строка является EVM-адресом вида 0x + 40 hex-символов.
func IsValidAddress(address string) bool {
	if len(address) != 42 {
		return false
	}
	if address[0] != '0' || (address[1] != 'x' && address[1] != 'X') {
		return false
	}

	for _, ch := range address[2:] {
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'f':
		case ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}

	return true
}

// IsValidEntityID проверяет идентификатор сущности нативного леджера
// в формате shard.realm.num (например "0.0.12345").
func IsValidEntityID(id string) bool {
	parts := strings.Split(id, ".")
	if len(parts) != 3 {
		return false
	}

	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, ch := range p {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}

	return true
}

// IsValidSymbol проверяет тикер токена: 1..10 заглавных латинских букв или цифр.
func IsValidSymbol(symbol string) bool {
	if symbol == "" || len(symbol) > 10 {
		return false
	}
	for _, ch := range symbol {
		switch {
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		default:
			return false
		}
	}
	return true
}
