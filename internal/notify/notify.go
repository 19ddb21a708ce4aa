// Package notify delivers reminder text to an outside channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appLog "visitcal/internal/log"
)

const DefaultTimeout = 10 * time.Second

// Sender sends one reminder. The failure reason is opaque to callers.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Gate reports whether sending is currently enabled.
type Gate interface {
	Enabled() bool
}

// StaticGate is a fixed on/off switch.
type StaticGate bool

func (g StaticGate) Enabled() bool { return bool(g) }

// SendWithTimeout bounds one Send call so an unreachable channel cannot
// stall a whole dispatch run.
func SendWithTimeout(ctx context.Context, s Sender, text string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Send(ctx, text)
}

// WebhookSender posts {"text": ...} as JSON to a URL (chat webhooks such as
// Slack, Discord or LINE bridges accept this shape).
type WebhookSender struct {
	URL    string
	Header http.Header
	client *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookSender{
		URL:    url,
		Header: http.Header{},
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookSender) Send(ctx context.Context, text string) error {
	if w.URL == "" {
		return errors.New("webhook url is empty")
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	for k, vs := range w.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}

// SMSSender posts the reminder to an SMS gateway with a bearer API key.
type SMSSender struct {
	URL        string
	APIKey     string
	SenderName string
	Recipients []string
	client     *http.Client
}

type smsRequest struct {
	Sender     string   `json:"sender"`
	Recipients []string `json:"msisdn"`
	Message    string   `json:"message"`
}

type smsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewSMSSender(url, apiKey, senderName string, recipients []string, timeout time.Duration) *SMSSender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SMSSender{
		URL:        url,
		APIKey:     apiKey,
		SenderName: senderName,
		Recipients: recipients,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *SMSSender) Send(ctx context.Context, text string) error {
	if s.URL == "" || s.APIKey == "" {
		return errors.New("sms gateway is not configured")
	}
	if len(s.Recipients) == 0 {
		return errors.New("sms recipients are empty")
	}

	payload, err := json.Marshal(smsRequest{
		Sender:     s.SenderName,
		Recipients: s.Recipients,
		Message:    text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway responded %s", resp.Status)
	}

	// Gateways answer 200 with success=false for rejected numbers/credit.
	var out smsResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("sms gateway response: %w", err)
		}
		if !out.Success {
			return fmt.Errorf("sms gateway rejected message: %s", out.Message)
		}
	}
	return nil
}

// LogSender only writes the reminder to the log. Useful for dry runs.
type LogSender struct{}

func (LogSender) Send(_ context.Context, text string) error {
	appLog.Info("reminder (log sender)", "text", strings.ReplaceAll(text, "\n", " | "))
	return nil
}
