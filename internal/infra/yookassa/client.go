package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/alenakom/speechstar/internal/domain/enums"
)

const defaultBaseURL = "https://api.yookassa.ru/v3"

// ErrUnavailable covers every gateway failure the caller can only retry:
// network errors, non-2xx responses, the disabled stub.
var ErrUnavailable = errors.New("payment gateway unavailable")

type Charge struct {
	ID          string
	RedirectURL string
}

type ChargeState struct {
	Status      enums.ChargeStatus
	AmountMinor int64
}

type Client struct {
	shopID     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(shopID, secretKey string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(shopID) == "" || strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("yookassa shop id and secret key are required")
	}
	if httpClient == nil {
		return nil, fmt.Errorf("http client is nil")
	}

	return &Client{
		shopID:     strings.TrimSpace(shopID),
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    defaultBaseURL,
		httpClient: httpClient,
	}, nil
}

// SetBaseURL points the client at a test server.
func (c *Client) SetBaseURL(raw string) {
	if strings.TrimSpace(raw) != "" {
		c.baseURL = strings.TrimRight(strings.TrimSpace(raw), "/")
	}
}

type createPaymentRequest struct {
	Amount       amountPayload       `json:"amount"`
	Description  string              `json:"description"`
	Metadata     map[string]string   `json:"metadata"`
	Confirmation confirmationPayload `json:"confirmation"`
	Capture      bool                `json:"capture"`
}

type amountPayload struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmationPayload struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type paymentResponse struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	Amount       amountPayload       `json:"amount"`
	Confirmation confirmationPayload `json:"confirmation"`
}

func (c *Client) CreateCharge(ctx context.Context, amountMinor, subscriberID int64, description, returnURL string) (Charge, error) {
	if amountMinor <= 0 || subscriberID <= 0 {
		return Charge{}, fmt.Errorf("invalid charge parameters")
	}

	payload := createPaymentRequest{
		Amount: amountPayload{
			Value:    FormatAmountMinor(amountMinor),
			Currency: "RUB",
		},
		Description: description,
		Metadata: map[string]string{
			"subscriber_id": strconv.FormatInt(subscriberID, 10),
		},
		Confirmation: confirmationPayload{
			Type:      "redirect",
			ReturnURL: returnURL,
		},
		Capture: true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Charge{}, fmt.Errorf("marshal create payment request: %w", err)
	}

	idempotenceKey := uuid.NewString()
	var resp paymentResponse
	if err := c.doWithRetry(ctx, http.MethodPost, c.baseURL+"/payments", body, idempotenceKey, &resp); err != nil {
		return Charge{}, err
	}
	if resp.ID == "" {
		return Charge{}, fmt.Errorf("%w: empty payment id in response", ErrUnavailable)
	}

	return Charge{
		ID:          resp.ID,
		RedirectURL: resp.Confirmation.ConfirmationURL,
	}, nil
}

func (c *Client) GetChargeStatus(ctx context.Context, chargeID string) (ChargeState, error) {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return ChargeState{}, fmt.Errorf("charge id is required")
	}

	var resp paymentResponse
	if err := c.doWithRetry(ctx, http.MethodGet, c.baseURL+"/payments/"+chargeID, nil, "", &resp); err != nil {
		return ChargeState{}, err
	}

	amountMinor, err := ParseAmountMinor(resp.Amount.Value)
	if err != nil {
		return ChargeState{}, fmt.Errorf("parse payment amount %q: %w", resp.Amount.Value, err)
	}

	return ChargeState{
		Status:      enums.ParseChargeStatus(resp.Status),
		AmountMinor: amountMinor,
	}, nil
}

// doWithRetry performs the request with one retry on transport errors and
// 5xx responses. 4xx is final: retrying the same request cannot help.
func (c *Client) doWithRetry(ctx context.Context, method, url string, body []byte, idempotenceKey string, out any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := c.do(ctx, method, url, body, idempotenceKey, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, idempotenceKey string, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: gateway returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway rejected request with status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

// FormatAmountMinor renders kopecks as the gateway's decimal string: 15000 -> "150.00".
func FormatAmountMinor(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

// ParseAmountMinor parses the gateway's decimal string into kopecks without
// going through floats: "150.00" -> 15000.
func ParseAmountMinor(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("amount is empty")
	}

	whole, frac, _ := strings.Cut(value, ".")
	rubles, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", value)
	}

	kopecks := int64(0)
	if frac != "" {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		kopecks, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", value)
		}
	}

	return rubles*100 + kopecks, nil
}
