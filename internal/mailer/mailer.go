// Package mailer delivers outbound email through a transactional HTTP API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eagleharbor/monitor/internal/config"
	"github.com/eagleharbor/monitor/internal/pipeline"
)

// HTTPMailer posts one JSON document per message. Delivery is reported per
// recipient so a bad address cannot hide successful sends in its batch.
type HTTPMailer struct {
	endpoint string
	apiKey   string
	from     string
	http     *http.Client
	logger   *zap.Logger
}

// New builds a mailer from configuration.
func New(cfg config.MailerConfig, logger *zap.Logger) *HTTPMailer {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPMailer{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		from:     cfg.FromAddress,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// SendBatch delivers msgs one by one, returning a result per recipient.
func (m *HTTPMailer) SendBatch(ctx context.Context, msgs []pipeline.Message) []pipeline.SendResult {
	results := make([]pipeline.SendResult, 0, len(msgs))
	for _, msg := range msgs {
		err := m.send(ctx, msg)
		if err != nil {
			m.logger.Warn("email send failed",
				zap.String("recipient", msg.Recipient), zap.Error(err))
		}
		results = append(results, pipeline.SendResult{Recipient: msg.Recipient, Err: err})
	}
	return results
}

func (m *HTTPMailer) send(ctx context.Context, msg pipeline.Message) error {
	payload, err := json.Marshal(sendRequest{
		From:    m.from,
		To:      msg.Recipient,
		Subject: msg.Subject,
		HTML:    msg.HTMLBody,
	})
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send email: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// LogMailer stands in for the HTTP mailer when sending is disabled. It logs
// recipients and subjects and reports every send as successful, which keeps
// the delivery ledger realistic in development environments.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer builds the dev-mode mailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendBatch logs each message instead of delivering it.
func (m *LogMailer) SendBatch(_ context.Context, msgs []pipeline.Message) []pipeline.SendResult {
	results := make([]pipeline.SendResult, 0, len(msgs))
	for _, msg := range msgs {
		m.logger.Info("email suppressed (sending disabled)",
			zap.String("recipient", msg.Recipient),
			zap.String("subject", msg.Subject))
		results = append(results, pipeline.SendResult{Recipient: msg.Recipient})
	}
	return results
}
