package ledger

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// TokenClient инкапсулирует операции нативного леджера с репутационным
// fungible-токеном: ассоциацию, выдачу allowance, переводы и запросы балансов.
type TokenClient struct {
	baseURL    string
	tokenID    string
	httpClient *http.Client
}

// NewTokenClient создаёт клиент нативного леджера для указанного токена.
func NewTokenClient(baseURL, tokenID string) *TokenClient {
	return &TokenClient{
		baseURL:    normalizeBaseURL(baseURL),
		tokenID:    tokenID,
		httpClient: newHTTPClient(),
	}
}

type associateRequest struct {
	Account string `json:"account"`
	Token   string `json:"token"`
}

// Associate отправляет транзакцию ассоциации аккаунта с репутационным токеном.
// Операция одноразовая и коммутативная, повторный вызов для уже
// ассоциированного аккаунта безопасен на стороне relay.
func (c *TokenClient) Associate(ctx context.Context, accountID string) (*Receipt, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("token client not configured")
	}

	var receipt Receipt
	err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/token/associate", associateRequest{
		Account: accountID,
		Token:   c.tokenID,
	}, &receipt)
	if err != nil {
		return nil, fmt.Errorf("associate account %s: %w", accountID, err)
	}
	return &receipt, nil
}

type allowanceRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Token   string `json:"token"`
	Amount  int64  `json:"amount"`
}

// ApproveAllowance отправляет транзакцию, разрешающую spender списывать
// до amount единиц токена с баланса owner.
func (c *TokenClient) ApproveAllowance(ctx context.Context, owner, spender string, amount int64) (*Receipt, error) {
	var receipt Receipt
	err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/token/allowance", allowanceRequest{
		Owner:   owner,
		Spender: spender,
		Token:   c.tokenID,
		Amount:  amount,
	}, &receipt)
	if err != nil {
		return nil, fmt.Errorf("approve allowance %s -> %s: %w", owner, spender, err)
	}
	return &receipt, nil
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
}

// Transfer отправляет перевод amount единиц токена между аккаунтами.
func (c *TokenClient) Transfer(ctx context.Context, from, to string, amount int64) (*Receipt, error) {
	var receipt Receipt
	err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/token/transfer", transferRequest{
		From:   from,
		To:     to,
		Token:  c.tokenID,
		Amount: amount,
	}, &receipt)
	if err != nil {
		return nil, fmt.Errorf("transfer %d from %s to %s: %w", amount, from, to, err)
	}
	return &receipt, nil
}

type balanceResponse struct {
	Balance    int64 `json:"balance"`
	Associated bool  `json:"associated"`
}

// GetBalance возвращает баланс репутационного токена на аккаунте.
func (c *TokenClient) GetBalance(ctx context.Context, accountID string) (int64, error) {
	resp, err := c.tokenRelationship(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// IsAssociated возвращает true, если аккаунт ассоциирован с репутационным токеном.
func (c *TokenClient) IsAssociated(ctx context.Context, accountID string) (bool, error) {
	resp, err := c.tokenRelationship(ctx, accountID)
	if err != nil {
		return false, err
	}
	return resp.Associated, nil
}

func (c *TokenClient) tokenRelationship(ctx context.Context, accountID string) (*balanceResponse, error) {
	var resp balanceResponse
	u := fmt.Sprintf("%s/accounts/%s/tokens/%s", c.baseURL, url.PathEscape(accountID), url.PathEscape(c.tokenID))
	if err := doJSON(ctx, c.httpClient, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("token relationship for %s: %w", accountID, err)
	}
	return &resp, nil
}

type allowanceResponse struct {
	Amount int64 `json:"amount"`
}

// GetAllowance возвращает остаток allowance, выданного owner аккаунту spender.
func (c *TokenClient) GetAllowance(ctx context.Context, owner, spender string) (int64, error) {
	var resp allowanceResponse
	u := fmt.Sprintf("%s/accounts/%s/allowances/%s/%s",
		c.baseURL, url.PathEscape(owner), url.PathEscape(c.tokenID), url.PathEscape(spender))
	if err := doJSON(ctx, c.httpClient, http.MethodGet, u, nil, &resp); err != nil {
		return 0, fmt.Errorf("get allowance %s -> %s: %w", owner, spender, err)
	}
	return resp.Amount, nil
}

type accountResponse struct {
	AccountID string `json:"accountId"`
}

// ResolveAccount возвращает идентификатор аккаунта нативного леджера,
// соответствующий EVM-адресу кошелька.
func (c *TokenClient) ResolveAccount(ctx context.Context, evmAddress string) (string, error) {
	var resp accountResponse
	u := fmt.Sprintf("%s/accounts/%s", c.baseURL, url.PathEscape(evmAddress))
	if err := doJSON(ctx, c.httpClient, http.MethodGet, u, nil, &resp); err != nil {
		return "", fmt.Errorf("resolve account %s: %w", evmAddress, err)
	}
	if resp.AccountID == "" {
		return "", fmt.Errorf("resolve account %s: empty account id", evmAddress)
	}
	return resp.AccountID, nil
}
