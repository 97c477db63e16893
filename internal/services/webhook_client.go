package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/travelpay/backend/internal/models"
)

// WebhookClient delivers signed notifications to subscriber endpoints. The
// envelope fields are duplicated into headers so receivers can verify the
// signature without parsing the body first.
type WebhookClient struct {
	httpClient *http.Client
	log        *zap.Logger
}

func NewWebhookClient(timeout time.Duration, log *zap.Logger) *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Deliver POSTs the envelope to url. Any 2xx counts as delivered.
func (c *WebhookClient) Deliver(ctx context.Context, url string, env *models.SignedEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TravelPay-Signature", env.Signature)
	req.Header.Set("X-TravelPay-Timestamp", strconv.FormatInt(env.Timestamp, 10))
	req.Header.Set("X-TravelPay-Pubkey", env.ProviderPubkey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}
