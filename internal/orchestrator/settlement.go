package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/carlend-system/internal/metrics"
	"github.com/mmeshcher/carlend-system/internal/model"
	"github.com/mmeshcher/carlend-system/internal/repository"
)

// StartObligationSettlement запускает фоновый процесс сверки: повторяет
// отложенные списания оплаты и дописывает записи аудита для саг,
// оборвавшихся между фиксацией платежа и публикацией в топик.
func (o *Orchestrator) StartObligationSettlement(ctx context.Context, interval time.Duration) {
	if o.store == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.settleBatch(ctx)
				o.recoverSagas(ctx)
			}
		}
	}()
}

// settleBatch делает по одной попытке списания на каждое неисполненное
// обязательство. Ограниченный backoff здесь не нужен: воркер сам по себе
// является циклом повторов.
func (o *Orchestrator) settleBatch(ctx context.Context) {
	obligations, err := o.store.PendingObligations(ctx)
	if err != nil {
		o.logger.Warn("pending obligations not loaded", zap.Error(err))
		return
	}

	for _, ob := range obligations {
		account, err := o.tokens.ResolveAccount(ctx, ob.CustomerAddress)
		if err != nil {
			o.logger.Warn("obligation account not resolved",
				zap.String("obligationID", ob.ID), zap.Error(err))
			continue
		}

		if _, err := o.tokens.Transfer(ctx, account, o.identity.MerchantAccount(), ob.Amount); err != nil {
			o.logger.Info("obligation debit still failing",
				zap.String("obligationID", ob.ID),
				zap.String("assetID", ob.AssetID),
				zap.Error(err))
			continue
		}

		if err := o.store.SettleObligation(ctx, ob.ID); err != nil {
			// Перевод прошёл, отметка не записана: на следующем проходе
			// произойдёт повторное списание. Relay обязан быть идемпотентным
			// по паре (обязательство, сумма); ошибку поднимаем в лог.
			o.logger.Error("settled obligation not marked",
				zap.String("obligationID", ob.ID), zap.Error(err))
			continue
		}
		metrics.ObligationsSettled.Inc()

		entry := model.AuditEntry{
			Type:         model.AuditEventBorrow,
			ActorAddress: ob.CustomerAddress,
			AssetID:      ob.AssetID,
			Payload: map[string]string{
				"price":          strconv.FormatInt(ob.Amount, 10),
				"paymentPending": "false",
				"obligationId":   ob.ID,
			},
		}
		if err := o.appendAudit(ctx, entry); err != nil {
			o.logger.Error("settlement audit entry not appended",
				zap.String("obligationID", ob.ID), zap.Error(err))
		}

		o.logger.Info("pending obligation settled",
			zap.String("obligationID", ob.ID),
			zap.String("assetID", ob.AssetID),
			zap.Int64("amount", ob.Amount))
	}
}

// recoverSagas разбирает чекпоинты, оставшиеся от оборванных аренд:
// PAYMENT_COMMITTED означает недописанную запись аудита,
// OWNERSHIP_COMMITTED без обязательства — незафиксированный долг.
func (o *Orchestrator) recoverSagas(ctx context.Context) {
	sagas, err := o.store.UnfinishedSagas(ctx)
	if err != nil {
		o.logger.Warn("unfinished sagas not loaded", zap.Error(err))
		return
	}

	for _, saga := range sagas {
		switch saga.Phase {
		case model.BorrowPhasePaymentCommitted:
			entry := model.AuditEntry{
				Type:         model.AuditEventBorrow,
				ActorAddress: saga.CustomerAddress,
				AssetID:      saga.AssetID,
				Payload: map[string]string{
					"price":          strconv.FormatInt(saga.Price, 10),
					"paymentPending": "false",
				},
			}
			if err := o.appendAudit(ctx, entry); err != nil {
				o.logger.Error("recovered borrow audit entry not appended",
					zap.String("assetID", saga.AssetID), zap.Error(err))
				continue
			}
			if err := o.store.DeleteBorrowSaga(ctx, saga.AssetID); err != nil {
				o.logger.Warn("recovered saga not cleared",
					zap.String("assetID", saga.AssetID), zap.Error(err))
			}

		case model.BorrowPhaseOwnershipCommitted:
			_, err := o.store.CreateObligation(ctx, saga.CustomerAddress, saga.AssetID, saga.Price)
			if err != nil && !errors.Is(err, repository.ErrObligationExists) {
				o.logger.Error("obligation not recovered from saga",
					zap.String("assetID", saga.AssetID), zap.Error(err))
				continue
			}
			if err == nil {
				metrics.ObligationsOpened.Inc()
			}
			if err := o.store.DeleteBorrowSaga(ctx, saga.AssetID); err != nil {
				o.logger.Warn("recovered saga not cleared",
					zap.String("assetID", saga.AssetID), zap.Error(err))
			}
		}
	}
}
