// Package score строит проекцию репутационного счёта клиента.
package score

import (
	"context"
	"fmt"

	"github.com/mmeshcher/carlend-system/internal/model"
)

// BalanceSource описывает запросы к нативному леджеру, нужные проектору.
type BalanceSource interface {
	ResolveAccount(ctx context.Context, evmAddress string) (string, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)
}

// ObligationSource описывает доступ к неисполненным обязательствам клиента.
type ObligationSource interface {
	PendingObligationsByCustomer(ctx context.Context, customerAddress string) ([]model.PendingObligation, error)
}

// Projector вычисляет отображаемый счёт клиента: сырой баланс леджера
// минус консервативный вычет по неисполненным обязательствам, которые
// рано или поздно будут списаны.
type Projector struct {
	tokens BalanceSource
	store  ObligationSource
}

// NewProjector создаёт проектор счёта над леджером и хранилищем обязательств.
func NewProjector(tokens BalanceSource, store ObligationSource) *Projector {
	return &Projector{
		tokens: tokens,
		store:  store,
	}
}

// GetScore возвращает проекцию счёта клиента. Значение вычисляется лениво
// на каждый вызов, без фонового опроса; кеширование — забота слоя отображения.
func (p *Projector) GetScore(ctx context.Context, customer string) (*model.Score, error) {
	account, err := p.tokens.ResolveAccount(ctx, customer)
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}

	balance, err := p.tokens.GetBalance(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	obligations, err := p.store.PendingObligationsByCustomer(ctx, customer)
	if err != nil {
		return nil, fmt.Errorf("get pending obligations: %w", err)
	}

	var pending int64
	for _, ob := range obligations {
		pending += ob.Amount
	}

	effective := balance - pending
	if effective < 0 {
		effective = 0
	}

	return &model.Score{
		Balance:   balance,
		Pending:   pending,
		Effective: effective,
	}, nil
}
