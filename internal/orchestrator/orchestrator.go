// Package orchestrator реализует протокол кросс-леджерной координации
// аренды автомобилей: последовательность транзакций на контрактном и
// нативном леджерах, политику ретраев и ведение журнала аудита.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/carlend-system/internal/identity"
	"github.com/mmeshcher/carlend-system/internal/ledger"
	"github.com/mmeshcher/carlend-system/internal/metrics"
	"github.com/mmeshcher/carlend-system/internal/model"
	"github.com/mmeshcher/carlend-system/internal/repository"
	"github.com/mmeshcher/carlend-system/internal/validation"
)

// AssetRegistry описывает контракт клиента контрактного леджера.
type AssetRegistry interface {
	Mint(ctx context.Context, name, symbol string, price int64) (string, error)
	Borrow(ctx context.Context, assetID, borrower string) (*ledger.Receipt, error)
	Return(ctx context.Context, assetID string) (*ledger.Receipt, error)
	GetAsset(ctx context.Context, assetID string) (*model.Car, error)
}

// ReputationLedger описывает контракт клиента нативного токенового леджера.
type ReputationLedger interface {
	Associate(ctx context.Context, accountID string) (*ledger.Receipt, error)
	ApproveAllowance(ctx context.Context, owner, spender string, amount int64) (*ledger.Receipt, error)
	Transfer(ctx context.Context, from, to string, amount int64) (*ledger.Receipt, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)
	GetAllowance(ctx context.Context, owner, spender string) (int64, error)
	IsAssociated(ctx context.Context, accountID string) (bool, error)
	ResolveAccount(ctx context.Context, evmAddress string) (string, error)
}

// AuditLog описывает контракт клиента топика аудита.
type AuditLog interface {
	Append(ctx context.Context, entry model.AuditEntry) (int64, error)
}

// Store описывает контракт хранилища чекпоинтов саг и платёжных обязательств.
type Store interface {
	CreateObligation(ctx context.Context, customerAddress, assetID string, amount int64) (string, error)
	PendingObligations(ctx context.Context) ([]model.PendingObligation, error)
	PendingObligationsByCustomer(ctx context.Context, customerAddress string) ([]model.PendingObligation, error)
	SettleObligation(ctx context.Context, id string) error
	SaveBorrowSaga(ctx context.Context, saga model.BorrowSaga) error
	GetBorrowSaga(ctx context.Context, assetID string) (*model.BorrowSaga, error)
	DeleteBorrowSaga(ctx context.Context, assetID string) error
	UnfinishedSagas(ctx context.Context) ([]model.BorrowSaga, error)
}

// ScorePolicy описывает настраиваемую политику начисления репутации.
// Формула начисления не фиксирована протоколом и задаётся конфигурацией.
type ScorePolicy struct {
	// ReturnReward — количество репутационных токенов, начисляемых клиенту
	// за успешный возврат автомобиля. Ноль отключает начисление.
	ReturnReward int64
}

// Config содержит явно сконструированные зависимости оркестратора.
// Собирается один раз при старте процесса и переиспользуется.
type Config struct {
	Registry AssetRegistry
	Tokens   ReputationLedger
	Audit    AuditLog
	Store    Store
	Identity *identity.Resolver
	Policy   ScorePolicy
	Logger   *zap.Logger

	// RetryBase — базовый интервал экспоненциального backoff для шагов
	// уже начатой последовательности. По умолчанию 500 мс, 3 попытки.
	RetryBase time.Duration
}

const retryAttempts = 3

// Orchestrator последовательно исполняет мульти-леджерные операции
// маркетплейса и гарантирует, что частичный сбой никогда не теряется:
// зафиксированная смена владельца без оплаты превращается в записанное
// обязательство, а не в молчаливое расхождение.
type Orchestrator struct {
	registry  AssetRegistry
	tokens    ReputationLedger
	audit     AuditLog
	store     Store
	identity  *identity.Resolver
	policy    ScorePolicy
	logger    *zap.Logger
	retryBase time.Duration

	// Операции над одним активом сериализуются: аренда и возврат одной
	// машины не могут чередоваться. Разные активы независимы.
	mu         sync.Mutex
	assetLocks map[string]*sync.Mutex
}

// New создаёт оркестратор с указанными зависимостями.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}

	return &Orchestrator{
		registry:   cfg.Registry,
		tokens:     cfg.Tokens,
		audit:      cfg.Audit,
		store:      cfg.Store,
		identity:   cfg.Identity,
		policy:     cfg.Policy,
		logger:     logger,
		retryBase:  retryBase,
		assetLocks: make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) lockAsset(assetID string) func() {
	o.mu.Lock()
	lock, ok := o.assetLocks[assetID]
	if !ok {
		lock = &sync.Mutex{}
		o.assetLocks[assetID] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// withBackoff выполняет fn с ограниченным экспоненциальным backoff:
// 3 попытки, интервал удваивается от retryBase.
func (o *Orchestrator) withBackoff(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(retryAttempts-1, retry.NewExponential(o.retryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// appendAudit публикует запись аудита с backoff. Метка времени здесь —
// момент отправки; итоговый timestamp назначает леджер консенсуса.
func (o *Orchestrator) appendAudit(ctx context.Context, entry model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return o.withBackoff(ctx, func(ctx context.Context) error {
		_, err := o.audit.Append(ctx, entry)
		return err
	})
}

func observe(op string, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidScoreDelta):
		outcome = metrics.OutcomeRejected
	default:
		outcome = metrics.OutcomeError
	}
	metrics.Operations.WithLabelValues(op, outcome).Inc()
}

// ListCar минтит NFT автомобиля от имени мерчанта и публикует запись Minting.
// Возвращает назначенный леджером идентификатор актива. Если минтинг прошёл,
// а запись аудита не удалась после ретраев, идентификатор возвращается
// вместе с ошибкой, чтобы вызывающая сторона знала о созданном активе.
func (o *Orchestrator) ListCar(ctx context.Context, actor, name, symbol string, price int64) (assetID string, err error) {
	defer func() { observe("list_car", err) }()

	if !o.identity.IsMerchant(actor) {
		return "", fmt.Errorf("%w: list car requires the merchant role", ErrValidation)
	}
	if name == "" {
		return "", fmt.Errorf("%w: car name must not be empty", ErrValidation)
	}
	if !validation.IsValidSymbol(symbol) {
		return "", fmt.Errorf("%w: invalid car symbol %q", ErrValidation, symbol)
	}
	if price <= 0 {
		return "", fmt.Errorf("%w: price must be positive", ErrValidation)
	}

	assetID, err = o.registry.Mint(ctx, name, symbol, price)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMint, err)
	}

	// Минтинг зафиксирован: запись аудита идёт на отвязанном контексте.
	logCtx := context.WithoutCancel(ctx)
	err = o.appendAudit(logCtx, model.AuditEntry{
		Type:         model.AuditEventMinting,
		ActorAddress: actor,
		AssetID:      assetID,
		Payload: map[string]string{
			"name":   name,
			"symbol": symbol,
			"price":  strconv.FormatInt(price, 10),
		},
	})
	if err != nil {
		o.logger.Error("minting audit entry not appended",
			zap.String("assetID", assetID), zap.Error(err))
		return assetID, fmt.Errorf("%w: minting audit entry for %s: %v", ErrLedgerTimeout, assetID, err)
	}

	return assetID, nil
}

// EnsureAssociated идемпотентно ассоциирует аккаунт клиента с репутационным
// токеном. Повторный вызов для ассоциированного аккаунта не отправляет
// транзакций.
func (o *Orchestrator) EnsureAssociated(ctx context.Context, customer string) (err error) {
	defer func() { observe("ensure_associated", err) }()

	if !validation.IsValidAddress(customer) {
		return fmt.Errorf("%w: invalid customer address %q", ErrValidation, customer)
	}

	account, err := o.tokens.ResolveAccount(ctx, customer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssociation, err)
	}

	associated, err := o.tokens.IsAssociated(ctx, account)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssociation, err)
	}
	if associated {
		return nil
	}

	if _, err := o.tokens.Associate(ctx, account); err != nil {
		return fmt.Errorf("%w: %v", ErrAssociation, err)
	}

	return nil
}

// EnsureAllowance идемпотентно выдаёт мерчанту allowance на списание
// до amount единиц с баланса клиента. Если текущий allowance уже достаточен,
// транзакция не отправляется.
func (o *Orchestrator) EnsureAllowance(ctx context.Context, customer string, amount int64) (err error) {
	defer func() { observe("ensure_allowance", err) }()

	if !validation.IsValidAddress(customer) {
		return fmt.Errorf("%w: invalid customer address %q", ErrValidation, customer)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: allowance amount must be positive", ErrValidation)
	}

	account, err := o.tokens.ResolveAccount(ctx, customer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAllowance, err)
	}

	current, err := o.tokens.GetAllowance(ctx, account, o.identity.MerchantAccount())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAllowance, err)
	}
	if current >= amount {
		return nil
	}

	if _, err := o.tokens.ApproveAllowance(ctx, account, o.identity.MerchantAccount(), amount); err != nil {
		return fmt.Errorf("%w: %v", ErrAllowance, err)
	}

	return nil
}

// BorrowResult описывает исход операции аренды.
type BorrowResult struct {
	AssetID string
	Price   int64
	// PaymentPending равен true, если смена владельца зафиксирована,
	// а списание оплаты после ретраев отложено в обязательство.
	PaymentPending bool
	ObligationID   string
}

// BorrowCar арендует автомобиль: сначала фиксирует смену владельца на
// контрактном леджере, затем списывает оплату на нативном. Порядок
// принципиален: оплата асинхронна относительно смены владельца, и её сбой
// деградирует в записанное обязательство, а не откатывает аренду.
func (o *Orchestrator) BorrowCar(ctx context.Context, customer, assetID string) (res *BorrowResult, err error) {
	defer func() {
		if res != nil && res.PaymentPending {
			metrics.Operations.WithLabelValues("borrow_car", metrics.OutcomePending).Inc()
			return
		}
		observe("borrow_car", err)
	}()

	if !validation.IsValidAddress(customer) {
		return nil, fmt.Errorf("%w: invalid customer address %q", ErrValidation, customer)
	}
	if !validation.IsValidEntityID(assetID) {
		return nil, fmt.Errorf("%w: invalid asset id %q", ErrValidation, assetID)
	}

	unlock := o.lockAsset(assetID)
	defer unlock()

	car, err := o.registry.GetAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBorrow, err)
	}
	if car.IsBorrowed() {
		return nil, fmt.Errorf("%w: car %s is already borrowed", ErrValidation, assetID)
	}

	account, err := o.tokens.ResolveAccount(ctx, customer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBorrow, err)
	}

	associated, err := o.tokens.IsAssociated(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBorrow, err)
	}
	if !associated {
		return nil, fmt.Errorf("%w: customer %s is not associated with the reputation token", ErrValidation, customer)
	}

	allowance, err := o.tokens.GetAllowance(ctx, account, o.identity.MerchantAccount())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBorrow, err)
	}
	if allowance < car.Price {
		return nil, fmt.Errorf("%w: allowance %d is below the price %d", ErrValidation, allowance, car.Price)
	}

	// Первая транзакция последовательности. Её отказ не меняет состояние.
	receipt, err := o.registry.Borrow(ctx, assetID, customer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBorrow, err)
	}

	// Смена владельца зафиксирована: последовательность больше нельзя
	// отменить, оставшиеся шаги идут на отвязанном контексте.
	ctx = context.WithoutCancel(ctx)

	saga := model.BorrowSaga{
		AssetID:         assetID,
		CustomerAddress: customer,
		Phase:           model.BorrowPhaseOwnershipCommitted,
		Price:           car.Price,
	}
	if err := o.store.SaveBorrowSaga(ctx, saga); err != nil {
		o.logger.Warn("borrow saga checkpoint not saved",
			zap.String("assetID", assetID), zap.Error(err))
	}

	debitErr := o.withBackoff(ctx, func(ctx context.Context) error {
		_, err := o.tokens.Transfer(ctx, account, o.identity.MerchantAccount(), car.Price)
		return err
	})

	if debitErr != nil {
		return o.recordObligation(ctx, customer, assetID, car.Price, debitErr)
	}

	saga.Phase = model.BorrowPhasePaymentCommitted
	if err := o.store.SaveBorrowSaga(ctx, saga); err != nil {
		o.logger.Warn("borrow saga checkpoint not saved",
			zap.String("assetID", assetID), zap.Error(err))
	}

	err = o.appendAudit(ctx, model.AuditEntry{
		Type:         model.AuditEventBorrow,
		ActorAddress: customer,
		AssetID:      assetID,
		Payload: map[string]string{
			"price":          strconv.FormatInt(car.Price, 10),
			"paymentPending": "false",
			"transactionId":  receipt.TransactionID,
		},
	})
	if err != nil {
		// Сага остаётся в PAYMENT_COMMITTED: запись допишет воркер сверки.
		o.logger.Error("borrow audit entry not appended",
			zap.String("assetID", assetID), zap.Error(err))
		return nil, fmt.Errorf("%w: borrow audit entry for %s: %v", ErrLedgerTimeout, assetID, err)
	}

	if err := o.store.DeleteBorrowSaga(ctx, assetID); err != nil {
		o.logger.Warn("borrow saga not cleared",
			zap.String("assetID", assetID), zap.Error(err))
	}

	return &BorrowResult{AssetID: assetID, Price: car.Price}, nil
}

// recordObligation фиксирует неисполненную оплату после исчерпания ретраев:
// машина остаётся арендованной, долг записывается и публикуется в аудит
// с тегом paymentPending=true.
func (o *Orchestrator) recordObligation(ctx context.Context, customer, assetID string, price int64, debitErr error) (*BorrowResult, error) {
	o.logger.Warn("borrow debit retries exhausted, recording pending obligation",
		zap.String("assetID", assetID),
		zap.String("customer", customer),
		zap.Int64("price", price),
		zap.Error(debitErr))

	obligationID, err := o.store.CreateObligation(ctx, customer, assetID, price)
	if err != nil && !errors.Is(err, repository.ErrObligationExists) {
		// Обязательство не записано: сага остаётся в OWNERSHIP_COMMITTED,
		// воркер сверки восстановит запись при следующем проходе.
		o.logger.Error("pending obligation not recorded",
			zap.String("assetID", assetID), zap.Error(err))
		return nil, fmt.Errorf("%w: debit failed and obligation not recorded for %s: %v", ErrLedgerTimeout, assetID, err)
	}
	metrics.ObligationsOpened.Inc()

	entry := model.AuditEntry{
		Type:         model.AuditEventBorrow,
		ActorAddress: customer,
		AssetID:      assetID,
		Payload: map[string]string{
			"price":          strconv.FormatInt(price, 10),
			"paymentPending": "true",
		},
	}
	if obligationID != "" {
		entry.Payload["obligationId"] = obligationID
	}
	if err := o.appendAudit(ctx, entry); err != nil {
		// Обязательство записано и не потеряется; финальную запись аудита
		// опубликует воркер при исполнении долга.
		o.logger.Error("pending borrow audit entry not appended",
			zap.String("assetID", assetID), zap.Error(err))
	}

	if err := o.store.DeleteBorrowSaga(ctx, assetID); err != nil {
		o.logger.Warn("borrow saga not cleared",
			zap.String("assetID", assetID), zap.Error(err))
	}

	return &BorrowResult{
		AssetID:        assetID,
		Price:          price,
		PaymentPending: true,
		ObligationID:   obligationID,
	}, nil
}

// ReturnCar возвращает автомобиль: переводит актив в AVAILABLE, публикует
// запись Return и начисляет клиенту вознаграждение по политике.
func (o *Orchestrator) ReturnCar(ctx context.Context, customer, assetID string) (err error) {
	defer func() { observe("return_car", err) }()

	if !validation.IsValidAddress(customer) {
		return fmt.Errorf("%w: invalid customer address %q", ErrValidation, customer)
	}
	if !validation.IsValidEntityID(assetID) {
		return fmt.Errorf("%w: invalid asset id %q", ErrValidation, assetID)
	}

	unlock := o.lockAsset(assetID)
	defer unlock()

	car, err := o.registry.GetAsset(ctx, assetID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReturn, err)
	}
	if !car.IsBorrowed() || car.Borrower == nil {
		return fmt.Errorf("%w: car %s is not borrowed", ErrValidation, assetID)
	}
	if !identity.SameAddress(*car.Borrower, customer) {
		return fmt.Errorf("%w: car %s is borrowed by another customer", ErrValidation, assetID)
	}

	receipt, err := o.registry.Return(ctx, assetID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReturn, err)
	}

	ctx = context.WithoutCancel(ctx)

	err = o.appendAudit(ctx, model.AuditEntry{
		Type:         model.AuditEventReturn,
		ActorAddress: customer,
		AssetID:      assetID,
		Payload: map[string]string{
			"transactionId": receipt.TransactionID,
		},
	})
	if err != nil {
		o.logger.Error("return audit entry not appended",
			zap.String("assetID", assetID), zap.Error(err))
		return fmt.Errorf("%w: return audit entry for %s: %v", ErrLedgerTimeout, assetID, err)
	}

	// Вознаграждение за возврат — отдельная операция политики; её сбой
	// логируется, но не отменяет состоявшийся возврат.
	if o.policy.ReturnReward > 0 {
		if err := o.creditScore(ctx, customer, o.policy.ReturnReward, assetID); err != nil {
			o.logger.Error("return reward not credited",
				zap.String("customer", customer), zap.Error(err))
		}
	}

	return nil
}

// creditScore переводит клиенту delta токенов от мерчанта и публикует ScoreChange.
func (o *Orchestrator) creditScore(ctx context.Context, customer string, delta int64, assetID string) error {
	account, err := o.tokens.ResolveAccount(ctx, customer)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}

	if _, err := o.tokens.Transfer(ctx, o.identity.MerchantAccount(), account, delta); err != nil {
		return fmt.Errorf("reward transfer: %w", err)
	}

	entry := model.AuditEntry{
		Type:         model.AuditEventScoreChange,
		ActorAddress: customer,
		Payload: map[string]string{
			"delta": strconv.FormatInt(delta, 10),
		},
	}
	if assetID != "" {
		entry.Payload["reason"] = "return:" + assetID
	}
	if err := o.appendAudit(ctx, entry); err != nil {
		return fmt.Errorf("score audit entry: %w", err)
	}

	return nil
}

// AwardScore изменяет репутационный счёт клиента на delta по решению мерчанта.
// Отрицательная delta списывается через allowance; изменение, уводящее баланс
// ниже нуля, отклоняется локально.
func (o *Orchestrator) AwardScore(ctx context.Context, actor, customer string, delta int64) (err error) {
	defer func() { observe("award_score", err) }()

	if !o.identity.IsMerchant(actor) {
		return fmt.Errorf("%w: award score requires the merchant role", ErrValidation)
	}
	if !validation.IsValidAddress(customer) {
		return fmt.Errorf("%w: invalid customer address %q", ErrValidation, customer)
	}
	if delta == 0 {
		return fmt.Errorf("%w: delta must not be zero", ErrInvalidScoreDelta)
	}

	account, err := o.tokens.ResolveAccount(ctx, customer)
	if err != nil {
		return fmt.Errorf("award score: %w", err)
	}

	associated, err := o.tokens.IsAssociated(ctx, account)
	if err != nil {
		return fmt.Errorf("award score: %w", err)
	}
	if !associated {
		return fmt.Errorf("%w: customer %s is not associated with the reputation token", ErrValidation, customer)
	}

	if delta < 0 {
		balance, err := o.tokens.GetBalance(ctx, account)
		if err != nil {
			return fmt.Errorf("award score: %w", err)
		}
		if balance+delta < 0 {
			return fmt.Errorf("%w: balance %d cannot absorb delta %d", ErrInvalidScoreDelta, balance, delta)
		}

		allowance, err := o.tokens.GetAllowance(ctx, account, o.identity.MerchantAccount())
		if err != nil {
			return fmt.Errorf("award score: %w", err)
		}
		if allowance < -delta {
			return fmt.Errorf("%w: debit of %d exceeds the granted allowance %d", ErrValidation, -delta, allowance)
		}

		if _, err := o.tokens.Transfer(ctx, account, o.identity.MerchantAccount(), -delta); err != nil {
			return fmt.Errorf("award score: %w", err)
		}
	} else {
		if _, err := o.tokens.Transfer(ctx, o.identity.MerchantAccount(), account, delta); err != nil {
			return fmt.Errorf("award score: %w", err)
		}
	}

	ctx = context.WithoutCancel(ctx)
	err = o.appendAudit(ctx, model.AuditEntry{
		Type:         model.AuditEventScoreChange,
		ActorAddress: customer,
		Payload: map[string]string{
			"delta": strconv.FormatInt(delta, 10),
		},
	})
	if err != nil {
		o.logger.Error("score audit entry not appended",
			zap.String("customer", customer), zap.Error(err))
		return fmt.Errorf("%w: score audit entry for %s: %v", ErrLedgerTimeout, customer, err)
	}

	return nil
}

// PendingObligations возвращает все неисполненные платёжные обязательства.
func (o *Orchestrator) PendingObligations(ctx context.Context) ([]model.PendingObligation, error) {
	return o.store.PendingObligations(ctx)
}

// PendingObligationsFor возвращает неисполненные обязательства клиента.
func (o *Orchestrator) PendingObligationsFor(ctx context.Context, customer string) ([]model.PendingObligation, error) {
	return o.store.PendingObligationsByCustomer(ctx, customer)
}

// GetCar возвращает текущее состояние автомобиля из реестра активов.
func (o *Orchestrator) GetCar(ctx context.Context, assetID string) (*model.Car, error) {
	if !validation.IsValidEntityID(assetID) {
		return nil, fmt.Errorf("%w: invalid asset id %q", ErrValidation, assetID)
	}
	return o.registry.GetAsset(ctx, assetID)
}
