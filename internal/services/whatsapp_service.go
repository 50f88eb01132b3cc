package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WhatsAppService delivers security notices to the operations channel
// through a WhatsApp gateway endpoint. The recipient is fixed per
// deployment; the notice's email recipient is included in the message
// text instead.
type WhatsAppService struct {
	endpoint   string
	token      string
	to         string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWhatsAppService creates a new WhatsApp gateway sender
func NewWhatsAppService(endpoint, token, to string, logger *slog.Logger) *WhatsAppService {
	return &WhatsAppService{
		endpoint: endpoint,
		token:    token,
		to:       to,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// Channel identifies this sender in logs and metrics.
func (s *WhatsAppService) Channel() string {
	return "whatsapp"
}

// Send posts the notice to the gateway as a single text message.
func (s *WhatsAppService) Send(ctx context.Context, notice Notice) error {
	payload := map[string]string{
		"to":      s.to,
		"message": fmt.Sprintf("*%s*\n(%s)\n\n%s", notice.Subject, notice.ToEmail, notice.Body),
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(jsonPayload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling whatsapp gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp gateway returned HTTP %d", resp.StatusCode)
	}

	s.logger.Info("whatsapp notice sent",
		slog.String("subject", notice.Subject))

	return nil
}
