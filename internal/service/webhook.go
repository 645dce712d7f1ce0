package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPStatusThreshold = 300
	webhookTimeout             = 5 * time.Second
)

// NewDeviceAlert is posted when a user logs in from a user agent that none of
// their active sessions use.
type NewDeviceAlert struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	UserAgent string    `json:"user_agent"`
	LoggedAt  time.Time `json:"logged_at"`
}

type LoginNotifier interface {
	NotifyNewDevice(ctx context.Context, alert NewDeviceAlert)
}

type WebhookService struct {
	client     *http.Client
	log        *zap.SugaredLogger
	webhookURL string
}

func NewWebhookService(log *zap.SugaredLogger, webhookURL string) *WebhookService {
	return &WebhookService{
		client:     &http.Client{Timeout: webhookTimeout},
		log:        log,
		webhookURL: webhookURL,
	}
}

// NotifyNewDevice fires and forgets. The request outlives ctx cancellation
// because ctx usually belongs to the login request that already finished.
func (s *WebhookService) NotifyNewDevice(ctx context.Context, alert NewDeviceAlert) {
	if s.webhookURL == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	go func() {
		payload, err := json.Marshal(alert)
		if err != nil {
			s.log.Errorw("failed to marshal webhook payload", "error", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
		if err != nil {
			s.log.Errorw("failed to create webhook request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Errorw("failed to send webhook", "error", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= defaultHTTPStatusThreshold {
			s.log.Warnw("webhook returned non-2xx status", "status", resp.StatusCode)
		}
	}()
}
