// Package model содержит доменные сущности сервиса аренды автомобилей.
package model

import "time"

// CarState описывает состояние автомобиля в реестре активов.
type CarState string

const (
	CarStateAvailable CarState = "AVAILABLE"
	CarStateBorrowed  CarState = "BORROWED"
)

// Car описывает автомобиль, выставленный мерчантом для аренды.
// AssetID назначается контрактным леджером при минтинге и неизменен.
type Car struct {
	AssetID  string
	Name     string
	Symbol   string
	Price    int64
	Owner    string
	State    CarState
	Borrower *string
}

// IsBorrowed возвращает true, если автомобиль сейчас арендован.
func (c *Car) IsBorrowed() bool {
	return c.State == CarStateBorrowed
}

// CustomerAccount описывает кошелёк клиента и его состояние на нативном леджере.
type CustomerAccount struct {
	Address          string
	NativeAccountID  string
	IsAssociated     bool
	AllowanceGranted int64
}

// AuditEventType описывает тип записи журнала аудита.
// Значения являются частью внешнего формата и не подлежат изменению.
type AuditEventType string

const (
	AuditEventMinting     AuditEventType = "Minting"
	AuditEventBorrow      AuditEventType = "Borrow"
	AuditEventReturn      AuditEventType = "Return"
	AuditEventScoreChange AuditEventType = "ScoreChange"
)

// AuditEntry описывает неизменяемую запись, отправляемую в топик консенсуса.
// Timestamp назначается леджером и монотонен в пределах топика.
type AuditEntry struct {
	Type         AuditEventType    `json:"type"`
	ActorAddress string            `json:"actorAddress"`
	AssetID      string            `json:"assetId,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Payload      map[string]string `json:"payload,omitempty"`
}

// PendingObligation описывает неисполненное обязательство по оплате аренды:
// смена владельца зафиксирована на контрактном леджере, а списание
// репутационных токенов ещё не прошло.
type PendingObligation struct {
	ID              string
	CustomerAddress string
	AssetID         string
	Amount          int64
	CreatedAt       time.Time
	SettledAt       *time.Time
}

// BorrowPhase описывает чекпоинт саги аренды для восстановления после сбоя.
type BorrowPhase string

const (
	BorrowPhaseOwnershipCommitted BorrowPhase = "OWNERSHIP_COMMITTED"
	BorrowPhasePaymentCommitted   BorrowPhase = "PAYMENT_COMMITTED"
)

// BorrowSaga описывает незавершённую последовательность аренды одного актива.
type BorrowSaga struct {
	AssetID         string
	CustomerAddress string
	Phase           BorrowPhase
	Price           int64
	UpdatedAt       time.Time
}

// Score содержит проекцию репутационного счёта клиента.
// Effective учитывает консервативный вычет по неисполненным обязательствам
// и поэтому может быть меньше Balance.
type Score struct {
	Balance   int64 `json:"balance"`
	Pending   int64 `json:"pending"`
	Effective int64 `json:"effective"`
}
