package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	resendEndpoint     = "https://api.resend.com/emails"
	magicLinkSubject   = "Claim your QR code"
	defaultSendTimeout = 10 * time.Second
)

// Sender delivers a magic link to a recipient. Delivery is best-effort:
// the claim state transition is already durable before Send is called,
// so failures are logged by the caller and never retried.
type Sender interface {
	Send(ctx context.Context, to, link string) error
}

// LogSender writes the link to the log instead of delivering mail. Used
// in development and whenever no provider key is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the magic link.
func (s *LogSender) Send(_ context.Context, to, link string) error {
	s.logger.Info("magic link issued",
		zap.String("to", to),
		zap.String("link", link))
	return nil
}

// ResendConfig bundles settings for the Resend delivery provider.
type ResendConfig struct {
	APIKey     string
	From       string
	HTTPClient *http.Client
}

// ResendSender delivers magic links through the Resend HTTP API.
type ResendSender struct {
	apiKey string
	from   string
	client *http.Client
}

// NewResendSender constructs a ResendSender.
func NewResendSender(cfg ResendConfig) (*ResendSender, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mail: resend api key is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("mail: sender identity is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}
	return &ResendSender{apiKey: cfg.APIKey, from: cfg.From, client: client}, nil
}

type resendMessage struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// Send posts the message to the Resend API.
func (s *ResendSender) Send(ctx context.Context, to, link string) error {
	message := resendMessage{
		From:    s.from,
		To:      []string{to},
		Subject: magicLinkSubject,
		Text:    "Click to claim: " + link,
	}
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mail: encoding message: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, resendEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mail: building request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+s.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("mail: delivering message: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("mail: provider returned %d: %s", response.StatusCode, string(detail))
	}
	return nil
}
