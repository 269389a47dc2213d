// Package repository содержит хранилище чекпоинтов саг аренды и
// неисполненных платёжных обязательств в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/carlend-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrObligationExists возвращается при попытке повторно записать
// неисполненное обязательство по той же паре клиент/актив.
var (
	ErrObligationExists = errors.New("pending obligation already exists")
	// ErrObligationNotFound возвращается, если обязательство не найдено.
	ErrObligationNotFound = errors.New("obligation not found")
	// ErrSagaNotFound возвращается, если чекпоинт саги для актива отсутствует.
	ErrSagaNotFound = errors.New("borrow saga not found")
)

// PostgresStore предоставляет доступ к хранилищу саг и обязательств в PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт новое хранилище и инициализирует схему БД через миграции.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (s *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраим только конфликты сериализации, дедлоки и сетевые сбои.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateObligation записывает неисполненное обязательство и возвращает его идентификатор.
// Для пары клиент/актив допускается не более одного неисполненного обязательства.
func (s *PostgresStore) CreateObligation(ctx context.Context, customerAddress, assetID string, amount int64) (string, error) {
	id := uuid.NewString()

	err := s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO obligations (id, customer_address, asset_id, amount) VALUES ($1, $2, $3, $4)`,
			id, strings.ToLower(customerAddress), assetID, amount,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return "", fmt.Errorf("%w: %s/%s", ErrObligationExists, customerAddress, assetID)
		}
		return "", fmt.Errorf("create obligation: %w", err)
	}

	return id, nil
}

// PendingObligations возвращает все неисполненные обязательства в порядке создания.
func (s *PostgresStore) PendingObligations(ctx context.Context) ([]model.PendingObligation, error) {
	return s.selectObligations(ctx,
		`SELECT id, customer_address, asset_id, amount, created_at, settled_at
		 FROM obligations
		 WHERE settled_at IS NULL
		 ORDER BY created_at`)
}

// PendingObligationsByCustomer возвращает неисполненные обязательства клиента.
func (s *PostgresStore) PendingObligationsByCustomer(ctx context.Context, customerAddress string) ([]model.PendingObligation, error) {
	return s.selectObligations(ctx,
		`SELECT id, customer_address, asset_id, amount, created_at, settled_at
		 FROM obligations
		 WHERE settled_at IS NULL AND customer_address = $1
		 ORDER BY created_at`,
		strings.ToLower(customerAddress))
}

func (s *PostgresStore) selectObligations(ctx context.Context, query string, args ...any) ([]model.PendingObligation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select obligations: %w", err)
	}
	defer rows.Close()

	var res []model.PendingObligation
	for rows.Next() {
		var o model.PendingObligation
		if err := rows.Scan(&o.ID, &o.CustomerAddress, &o.AssetID, &o.Amount, &o.CreatedAt, &o.SettledAt); err != nil {
			return nil, fmt.Errorf("scan obligation: %w", err)
		}
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SettleObligation отмечает обязательство исполненным. Записи не удаляются:
// история обязательств остаётся доступной для сверки с журналом аудита.
func (s *PostgresStore) SettleObligation(ctx context.Context, id string) error {
	var cmdTag pgconn.CommandTag
	err := s.withRetry(ctx, func() error {
		var execErr error
		cmdTag, execErr = s.pool.Exec(ctx,
			`UPDATE obligations SET settled_at = now() WHERE id = $1 AND settled_at IS NULL`,
			id,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("settle obligation: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrObligationNotFound, id)
	}
	return nil
}

// SaveBorrowSaga записывает или обновляет чекпоинт саги аренды для актива.
func (s *PostgresStore) SaveBorrowSaga(ctx context.Context, saga model.BorrowSaga) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO borrow_sagas (asset_id, customer_address, phase, price, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (asset_id) DO UPDATE
			 SET customer_address = EXCLUDED.customer_address,
			     phase = EXCLUDED.phase,
			     price = EXCLUDED.price,
			     updated_at = now()`,
			saga.AssetID, strings.ToLower(saga.CustomerAddress), string(saga.Phase), saga.Price,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save borrow saga: %w", err)
	}
	return nil
}

// GetBorrowSaga возвращает чекпоинт саги аренды по идентификатору актива.
func (s *PostgresStore) GetBorrowSaga(ctx context.Context, assetID string) (*model.BorrowSaga, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT asset_id, customer_address, phase, price, updated_at
		 FROM borrow_sagas
		 WHERE asset_id = $1`,
		assetID,
	)

	var saga model.BorrowSaga
	var phase string
	err := row.Scan(&saga.AssetID, &saga.CustomerAddress, &phase, &saga.Price, &saga.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSagaNotFound
		}
		return nil, fmt.Errorf("get borrow saga: %w", err)
	}
	saga.Phase = model.BorrowPhase(phase)

	return &saga, nil
}

// UnfinishedSagas возвращает все незавершённые саги аренды для восстановления.
func (s *PostgresStore) UnfinishedSagas(ctx context.Context) ([]model.BorrowSaga, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, customer_address, phase, price, updated_at
		 FROM borrow_sagas
		 ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("select sagas: %w", err)
	}
	defer rows.Close()

	var res []model.BorrowSaga
	for rows.Next() {
		var saga model.BorrowSaga
		var phase string
		if err := rows.Scan(&saga.AssetID, &saga.CustomerAddress, &phase, &saga.Price, &saga.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan saga: %w", err)
		}
		saga.Phase = model.BorrowPhase(phase)
		res = append(res, saga)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// DeleteBorrowSaga удаляет чекпоинт завершённой саги.
func (s *PostgresStore) DeleteBorrowSaga(ctx context.Context, assetID string) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `DELETE FROM borrow_sagas WHERE asset_id = $1`, assetID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete borrow saga: %w", err)
	}
	return nil
}
