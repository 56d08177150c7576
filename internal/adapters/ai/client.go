package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"account-humanizer/internal/infra/metrics"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client проверяет пригодность AI-ключа настоящим запросом к провайдеру.
// Подменяет симулированную проверку, когда задан AI_BASE_URL.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient создаёт клиента провайдера.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// TestAICredential выполняет лёгкий аутентифицированный запрос к списку
// моделей. Ответ 2xx означает рабочий ключ.
func (c *Client) TestAICredential(ctx context.Context, key string) (bool, string) {
	if strings.TrimSpace(key) == "" {
		return false, "Invalid API Key."
	}

	endpoint := c.baseURL + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Sprintf("Request failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveNetworkRequest("ai", "list_models", c.baseURL, start, err)
	if err != nil {
		return false, fmt.Sprintf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, "Connection successful!"
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, "Invalid API Key."
	default:
		return false, fmt.Sprintf("Provider returned status %d.", resp.StatusCode)
	}
}
