package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kidsclubhq/bookingpay/internal/config"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

type HTTPGatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewGatewayClient(cfg config.GatewayConfig) ports.PaymentGateway {
	return &HTTPGatewayClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.ConnTimeout,
		},
	}
}

type createRefundRequest struct {
	PaymentReference string `json:"payment_reference"`
	AmountPence      int64  `json:"amount_pence"`
}

func (c *HTTPGatewayClient) CreateRefund(ctx context.Context, paymentReference string, amountPence int64, idempotencyKey string) (*domain.GatewayRefund, error) {
	body := createRefundRequest{
		PaymentReference: paymentReference,
		AmountPence:      amountPence,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshalling json: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/refunds", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)

	return c.do(httpReq)
}

func (c *HTTPGatewayClient) GetRefund(ctx context.Context, refundID string) (*domain.GatewayRefund, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/refunds/"+refundID, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	return c.do(httpReq)
}

func (c *HTTPGatewayClient) do(req *http.Request) (*domain.GatewayRefund, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var errResp gatewayErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr != nil {
			return nil, &GatewayError{
				Message:    "unreadable error response",
				StatusCode: resp.StatusCode,
				Err:        decodeErr,
			}
		}
		return nil, &GatewayError{
			Code:       errResp.Err,
			Message:    errResp.Message,
			StatusCode: resp.StatusCode,
		}
	}

	var refund domain.GatewayRefund
	if err := json.NewDecoder(resp.Body).Decode(&refund); err != nil {
		return nil, fmt.Errorf("error decoding json response: %w", err)
	}
	return &refund, nil
}
