// Package mailer is a thin HTTP client for the notification dispatch
// service. Delivery is best effort; callers decide what a failure means.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kidsclubhq/bookingpay/internal/config"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

type HTTPMailerClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewMailerClient(cfg config.MailerConfig) ports.Mailer {
	return &HTTPMailerClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.ConnTimeout,
		},
	}
}

type sendRequest struct {
	Template  string            `json:"template"`
	Recipient string            `json:"recipient"`
	Variables map[string]string `json:"variables"`
}

func (c *HTTPMailerClient) Send(ctx context.Context, template, recipient string, vars map[string]string) error {
	jsonData, err := json.Marshal(sendRequest{
		Template:  template,
		Recipient: recipient,
		Variables: vars,
	})
	if err != nil {
		return fmt.Errorf("error marshalling json: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mailer returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
