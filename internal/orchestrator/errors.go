package orchestrator

import "errors"

// ErrValidation возвращается, когда предусловие операции не выполнено;
// такие отказы никогда не приводят к отправке транзакций на леджеры.
var (
	ErrValidation = errors.New("validation failed")
	// ErrMint возвращается при отказе транзакции минтинга.
	ErrMint = errors.New("mint failed")
	// ErrAssociation возвращается при отказе транзакции ассоциации токена.
	ErrAssociation = errors.New("token association failed")
	// ErrAllowance возвращается при отказе транзакции выдачи allowance.
	ErrAllowance = errors.New("allowance approval failed")
	// ErrBorrow возвращается, если транзакция аренды не прошла:
	// смена владельца не состоялась, состояние системы не изменилось.
	ErrBorrow = errors.New("borrow failed")
	// ErrReturn возвращается при отказе транзакции возврата.
	ErrReturn = errors.New("return failed")
	// ErrInvalidScoreDelta возвращается для изменения счёта, которое увело бы
	// баланс клиента ниже нуля. Отклоняется локально, до отправки на леджер.
	ErrInvalidScoreDelta = errors.New("invalid score delta")
	// ErrLedgerTimeout возвращается после исчерпания повторных попыток
	// на шаге уже начатой последовательности.
	ErrLedgerTimeout = errors.New("ledger retries exhausted")
)
