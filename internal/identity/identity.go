// Package identity определяет роли участников маркетплейса по адресу кошелька.
package identity

import "strings"

// Role описывает роль участника маркетплейса.
type Role string

const (
	RoleMerchant Role = "merchant"
	RoleCustomer Role = "customer"
)

// Resolver сопоставляет адрес кошелька с ролью и идентификаторами мерчанта
// на обоих леджерах. Чистая функция над конфигурацией, без обращений к леджерам.
type Resolver struct {
	merchantAddress string
	merchantAccount string
}

// NewResolver создаёт резолвер для указанного EVM-адреса мерчанта
// и его аккаунта на нативном леджере.
func NewResolver(merchantAddress, merchantAccount string) *Resolver {
	return &Resolver{
		merchantAddress: strings.ToLower(merchantAddress),
		merchantAccount: merchantAccount,
	}
}

// RoleOf возвращает роль адреса: мерчант при совпадении с настроенным адресом
// без учёта регистра, иначе клиент.
func (r *Resolver) RoleOf(address string) Role {
	if strings.ToLower(address) == r.merchantAddress {
		return RoleMerchant
	}
	return RoleCustomer
}

// IsMerchant возвращает true, если адрес принадлежит мерчанту.
func (r *Resolver) IsMerchant(address string) bool {
	return r.RoleOf(address) == RoleMerchant
}

// MerchantAddress возвращает настроенный EVM-адрес мерчанта в нижнем регистре.
func (r *Resolver) MerchantAddress() string {
	return r.merchantAddress
}

// MerchantAccount возвращает идентификатор аккаунта мерчанта на нативном леджере.
func (r *Resolver) MerchantAccount() string {
	return r.merchantAccount
}

// SameAddress сравнивает два EVM-адреса без учёта регистра.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
