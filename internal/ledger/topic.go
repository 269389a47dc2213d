package ledger

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mmeshcher/carlend-system/internal/model"
)

// TopicClient инкапсулирует работу с append-only топиком консенсуса:
// публикацию записей аудита и чтение истории через mirror node.
type TopicClient struct {
	baseURL    string
	topicID    string
	httpClient *http.Client
}

// NewTopicClient создаёт клиент топика аудита по указанному адресу relay.
func NewTopicClient(baseURL, topicID string) *TopicClient {
	return &TopicClient{
		baseURL:    normalizeBaseURL(baseURL),
		topicID:    topicID,
		httpClient: newHTTPClient(),
	}
}

type appendResponse struct {
	SequenceNumber int64 `json:"sequenceNumber"`
}

// Append публикует запись аудита в топик и возвращает назначенный леджером
// порядковый номер. Поля записи являются внешним форматом: их имена и
// значения type разбираются сторонними инструментами аудита.
func (c *TopicClient) Append(ctx context.Context, entry model.AuditEntry) (int64, error) {
	if c == nil || c.baseURL == "" {
		return 0, fmt.Errorf("topic client not configured")
	}

	var resp appendResponse
	u := fmt.Sprintf("%s/topics/%s/messages", c.baseURL, url.PathEscape(c.topicID))
	if err := doJSON(ctx, c.httpClient, http.MethodPost, u, entry, &resp); err != nil {
		return 0, fmt.Errorf("append audit entry %s: %w", entry.Type, err)
	}

	return resp.SequenceNumber, nil
}

type messagesResponse struct {
	Messages []model.AuditEntry `json:"messages"`
}

// Messages возвращает записи аудита из топика. Непустой actorAddress
// ограничивает выборку записями указанного участника.
func (c *TopicClient) Messages(ctx context.Context, actorAddress string) ([]model.AuditEntry, error) {
	u := fmt.Sprintf("%s/topics/%s/messages", c.baseURL, url.PathEscape(c.topicID))
	if actorAddress != "" {
		u += "?actor=" + url.QueryEscape(actorAddress)
	}

	var resp messagesResponse
	if err := doJSON(ctx, c.httpClient, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("read audit topic: %w", err)
	}

	return resp.Messages, nil
}
