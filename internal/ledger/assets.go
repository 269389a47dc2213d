package ledger

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mmeshcher/carlend-system/internal/model"
)

// AssetsClient инкапсулирует вызовы контрактного леджера для жизненного цикла
// автомобилей: минтинг, аренда, возврат и запросы состояния.
type AssetsClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAssetsClient создаёт клиент contract relay по указанному адресу.
func NewAssetsClient(baseURL string) *AssetsClient {
	return &AssetsClient{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: newHTTPClient(),
	}
}

type mintRequest struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Price  int64  `json:"price"`
}

type mintResponse struct {
	AssetID string  `json:"assetId"`
	Receipt Receipt `json:"receipt"`
}

// Mint отправляет транзакцию минтинга NFT автомобиля и возвращает
// назначенный леджером идентификатор актива.
func (c *AssetsClient) Mint(ctx context.Context, name, symbol string, price int64) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("assets client not configured")
	}

	var resp mintResponse
	err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/contract/mint", mintRequest{
		Name:   name,
		Symbol: symbol,
		Price:  price,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	if resp.AssetID == "" {
		return "", fmt.Errorf("mint: empty asset id in response")
	}

	return resp.AssetID, nil
}

type borrowRequest struct {
	Borrower string `json:"borrower"`
}

// Borrow отправляет транзакцию аренды: переводит актив в состояние BORROWED
// и записывает арендатора.
func (c *AssetsClient) Borrow(ctx context.Context, assetID, borrower string) (*Receipt, error) {
	var receipt Receipt
	endpoint := fmt.Sprintf("%s/contract/cars/%s/borrow", c.baseURL, url.PathEscape(assetID))
	if err := doJSON(ctx, c.httpClient, http.MethodPost, endpoint, borrowRequest{Borrower: borrower}, &receipt); err != nil {
		return nil, fmt.Errorf("borrow asset %s: %w", assetID, err)
	}
	return &receipt, nil
}

// Return отправляет транзакцию возврата: переводит актив в состояние AVAILABLE
// и очищает арендатора.
func (c *AssetsClient) Return(ctx context.Context, assetID string) (*Receipt, error) {
	var receipt Receipt
	endpoint := fmt.Sprintf("%s/contract/cars/%s/return", c.baseURL, url.PathEscape(assetID))
	if err := doJSON(ctx, c.httpClient, http.MethodPost, endpoint, nil, &receipt); err != nil {
		return nil, fmt.Errorf("return asset %s: %w", assetID, err)
	}
	return &receipt, nil
}

type assetResponse struct {
	AssetID  string  `json:"assetId"`
	Name     string  `json:"name"`
	Symbol   string  `json:"symbol"`
	Price    int64   `json:"price"`
	Owner    string  `json:"owner"`
	State    string  `json:"state"`
	Borrower *string `json:"borrower,omitempty"`
}

// GetAsset возвращает текущее состояние автомобиля из контрактного леджера.
func (c *AssetsClient) GetAsset(ctx context.Context, assetID string) (*model.Car, error) {
	var resp assetResponse
	endpoint := fmt.Sprintf("%s/contract/cars/%s", c.baseURL, url.PathEscape(assetID))
	if err := doJSON(ctx, c.httpClient, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("get asset %s: %w", assetID, err)
	}

	return &model.Car{
		AssetID:  resp.AssetID,
		Name:     resp.Name,
		Symbol:   resp.Symbol,
		Price:    resp.Price,
		Owner:    resp.Owner,
		State:    model.CarState(resp.State),
		Borrower: resp.Borrower,
	}, nil
}
