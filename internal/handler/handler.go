// Package handler содержит HTTP-обработчики API сервиса аренды автомобилей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/carlend-system/internal/identity"
	"github.com/mmeshcher/carlend-system/internal/middleware"
	"github.com/mmeshcher/carlend-system/internal/model"
	"github.com/mmeshcher/carlend-system/internal/orchestrator"
	"github.com/mmeshcher/carlend-system/internal/validation"
)

// Orchestrator определяет контракт ядра, используемый HTTP-обработчиками.
type Orchestrator interface {
	ListCar(ctx context.Context, actor, name, symbol string, price int64) (string, error)
	EnsureAssociated(ctx context.Context, customer string) error
	EnsureAllowance(ctx context.Context, customer string, amount int64) error
	BorrowCar(ctx context.Context, customer, assetID string) (*orchestrator.BorrowResult, error)
	ReturnCar(ctx context.Context, customer, assetID string) error
	AwardScore(ctx context.Context, actor, customer string, delta int64) error
	PendingObligations(ctx context.Context) ([]model.PendingObligation, error)
	PendingObligationsFor(ctx context.Context, customer string) ([]model.PendingObligation, error)
	GetCar(ctx context.Context, assetID string) (*model.Car, error)
}

// ScoreProjector определяет контракт проекции счёта.
type ScoreProjector interface {
	GetScore(ctx context.Context, customer string) (*model.Score, error)
}

// AuditReader определяет контракт чтения журнала аудита.
type AuditReader interface {
	Messages(ctx context.Context, actorAddress string) ([]model.AuditEntry, error)
}

// Handler реализует HTTP-обработчики API сервиса аренды автомобилей.
type Handler struct {
	orch     Orchestrator
	score    ScoreProjector
	auditLog AuditReader
	identity *identity.Resolver
	logger   *zap.Logger
	session  *middleware.SessionMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(orch Orchestrator, score ScoreProjector, auditLog AuditReader, resolver *identity.Resolver, logger *zap.Logger, session *middleware.SessionMiddleware) *Handler {
	return &Handler{
		orch:     orch,
		score:    score,
		auditLog: auditLog,
		identity: resolver,
		logger:   logger,
		session:  session,
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation), errors.Is(err, orchestrator.ErrInvalidScoreDelta):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, orchestrator.ErrMint),
		errors.Is(err, orchestrator.ErrAssociation),
		errors.Is(err, orchestrator.ErrAllowance),
		errors.Is(err, orchestrator.ErrBorrow),
		errors.Is(err, orchestrator.ErrReturn),
		errors.Is(err, orchestrator.ErrLedgerTimeout):
		h.logger.Error(op+" ledger error", append(fields, zap.Error(err))...)
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type sessionRequest struct {
	Address string `json:"address"`
}

type sessionResponse struct {
	Address string `json:"address"`
	Role    string `json:"role"`
}

// OpenSession принимает адрес подключённого кошелька от wallet-провайдера
// и устанавливает подписанный cookie сессии.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidAddress(req.Address) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	h.session.SetSessionCookie(w, req.Address)
	writeJSON(w, http.StatusOK, sessionResponse{
		Address: req.Address,
		Role:    string(h.identity.RoleOf(req.Address)),
	})
}

type listCarRequest struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Price  int64  `json:"price"`
}

type listCarResponse struct {
	AssetID string `json:"assetId"`
}

// ListCar выставляет новый автомобиль от имени мерчанта.
func (h *Handler) ListCar(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req listCarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	assetID, err := h.orch.ListCar(r.Context(), actor, req.Name, req.Symbol, req.Price)
	if err != nil {
		h.writeError(w, "list car", err, zap.String("actor", actor))
		return
	}

	writeJSON(w, http.StatusCreated, listCarResponse{AssetID: assetID})
}

type carResponse struct {
	AssetID  string  `json:"assetId"`
	Name     string  `json:"name"`
	Symbol   string  `json:"symbol"`
	Price    int64   `json:"price"`
	Owner    string  `json:"owner"`
	State    string  `json:"state"`
	Borrower *string `json:"borrower,omitempty"`
}

// GetCar возвращает состояние автомобиля из реестра активов.
func (h *Handler) GetCar(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	car, err := h.orch.GetCar(r.Context(), assetID)
	if err != nil {
		h.writeError(w, "get car", err, zap.String("assetID", assetID))
		return
	}

	writeJSON(w, http.StatusOK, carResponse{
		AssetID:  car.AssetID,
		Name:     car.Name,
		Symbol:   car.Symbol,
		Price:    car.Price,
		Owner:    car.Owner,
		State:    string(car.State),
		Borrower: car.Borrower,
	})
}

type borrowResponse struct {
	AssetID        string `json:"assetId"`
	Price          int64  `json:"price"`
	PaymentPending bool   `json:"paymentPending"`
	ObligationID   string `json:"obligationId,omitempty"`
}

// BorrowCar арендует автомобиль для текущего адреса сессии.
// Отложенная оплата возвращается статусом 202 с идентификатором обязательства.
func (h *Handler) BorrowCar(w http.ResponseWriter, r *http.Request) {
	customer, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	assetID := chi.URLParam(r, "assetID")

	res, err := h.orch.BorrowCar(r.Context(), customer, assetID)
	if err != nil {
		h.writeError(w, "borrow car", err,
			zap.String("assetID", assetID), zap.String("customer", customer))
		return
	}

	status := http.StatusOK
	if res.PaymentPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, borrowResponse{
		AssetID:        res.AssetID,
		Price:          res.Price,
		PaymentPending: res.PaymentPending,
		ObligationID:   res.ObligationID,
	})
}

// ReturnCar возвращает автомобиль, арендованный текущим адресом сессии.
func (h *Handler) ReturnCar(w http.ResponseWriter, r *http.Request) {
	customer, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	assetID := chi.URLParam(r, "assetID")

	if err := h.orch.ReturnCar(r.Context(), customer, assetID); err != nil {
		h.writeError(w, "return car", err,
			zap.String("assetID", assetID), zap.String("customer", customer))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Associate идемпотентно ассоциирует текущий адрес с репутационным токеном.
func (h *Handler) Associate(w http.ResponseWriter, r *http.Request) {
	customer, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.orch.EnsureAssociated(r.Context(), customer); err != nil {
		h.writeError(w, "associate", err, zap.String("customer", customer))
		return
	}

	w.WriteHeader(http.StatusOK)
}

type allowanceRequest struct {
	Amount int64 `json:"amount"`
}

// Allowance идемпотентно выдаёт мерчанту allowance от текущего адреса.
func (h *Handler) Allowance(w http.ResponseWriter, r *http.Request) {
	customer, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req allowanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.orch.EnsureAllowance(r.Context(), customer, req.Amount); err != nil {
		h.writeError(w, "allowance", err, zap.String("customer", customer))
		return
	}

	w.WriteHeader(http.StatusOK)
}

type awardScoreRequest struct {
	Customer string `json:"customer"`
	Delta    int64  `json:"delta"`
}

// AwardScore изменяет репутационный счёт клиента по решению мерчанта.
func (h *Handler) AwardScore(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req awardScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.orch.AwardScore(r.Context(), actor, req.Customer, req.Delta); err != nil {
		h.writeError(w, "award score", err,
			zap.String("actor", actor), zap.String("customer", req.Customer))
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetScore возвращает проекцию репутационного счёта текущего адреса.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	customer, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	scoreValue, err := h.score.GetScore(r.Context(), customer)
	if err != nil {
		h.writeError(w, "get score", err, zap.String("customer", customer))
		return
	}

	writeJSON(w, http.StatusOK, scoreValue)
}

type obligationResponse struct {
	ID              string `json:"id"`
	CustomerAddress string `json:"customerAddress"`
	AssetID         string `json:"assetId"`
	Amount          int64  `json:"amount"`
	CreatedAt       string `json:"createdAt"`
}

// GetObligations возвращает неисполненные обязательства: мерчанту — все,
// клиенту — только его собственные.
func (h *Handler) GetObligations(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var (
		obligations []model.PendingObligation
		err         error
	)
	if h.identity.IsMerchant(actor) {
		obligations, err = h.orch.PendingObligations(r.Context())
	} else {
		obligations, err = h.orch.PendingObligationsFor(r.Context(), actor)
	}
	if err != nil {
		h.writeError(w, "get obligations", err, zap.String("actor", actor))
		return
	}

	if len(obligations) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]obligationResponse, 0, len(obligations))
	for _, ob := range obligations {
		resp = append(resp, obligationResponse{
			ID:              ob.ID,
			CustomerAddress: ob.CustomerAddress,
			AssetID:         ob.AssetID,
			Amount:          ob.Amount,
			CreatedAt:       ob.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAudit возвращает записи журнала аудита для текущего адреса сессии.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetAddressFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	entries, err := h.auditLog.Messages(r.Context(), actor)
	if err != nil {
		h.writeError(w, "get audit", err, zap.String("actor", actor))
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}
