package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/rx-engine/pkg/circuitbreaker"
)

// WebhookSender delivers notification envelopes to a downstream webhook,
// one endpoint per recipient type, wrapped in a circuit breaker.
type WebhookSender struct {
	endpoints map[string]string
	client    *http.Client
	breakers  *circuitbreaker.Manager
	logger    *zap.Logger
}

// NewWebhookSender creates a sender. endpoints maps recipient type
// ("patient", "doctor") to the webhook URL for that audience.
func NewWebhookSender(endpoints map[string]string, breakers *circuitbreaker.Manager, logger *zap.Logger) *WebhookSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSender{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 10 * time.Second},
		breakers:  breakers,
		logger:    logger,
	}
}

// Send posts the raw notification body to the endpoint for its recipient
// type. Unknown recipient types are dropped with a log line rather than
// retried forever.
func (w *WebhookSender) Send(ctx context.Context, recipientType string, body []byte) error {
	endpoint, ok := w.endpoints[recipientType]
	if !ok || endpoint == "" {
		w.logger.Warn("no webhook endpoint for recipient type",
			zap.String("recipient_type", recipientType))
		return nil
	}

	breaker := w.breakers.GetOrCreate("webhook-"+recipientType,
		circuitbreaker.DefaultConfig("webhook-"+recipientType))

	_, err := breaker.Execute(ctx, func() (interface{}, error) {
		return nil, w.post(ctx, endpoint, body)
	})
	return err
}

func (w *WebhookSender) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
