package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/domain/enums"
	"github.com/alenakom/speechstar/internal/infra/metrics"
	"github.com/alenakom/speechstar/internal/infra/yookassa"
	paymentssvc "github.com/alenakom/speechstar/internal/services/payments"
	httperrors "github.com/alenakom/speechstar/internal/transport/http/errors"
)

// Reconciler applies one charge status report to a subscriber.
type Reconciler interface {
	Reconcile(ctx context.Context, subscriberID int64, chargeID string, status enums.ChargeStatus, amountMinor int64) (paymentssvc.Result, error)
}

type WebhookHandler struct {
	payments Reconciler
	logger   *zap.Logger
}

func NewWebhookHandler(payments Reconciler, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		payments: payments,
		logger:   logger,
	}
}

type webhookNotification struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value string `json:"value"`
		} `json:"amount"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

type webhookResponse struct {
	OK     bool   `json:"ok"`
	Result string `json:"result"`
}

// Handle accepts YooKassa payment notifications. Replays and
// notifications for charges we no longer track get a 200 so the provider
// stops resending; only malformed payloads get a 400.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	var notification webhookNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid notification body")
		return
	}

	chargeID := strings.TrimSpace(notification.Object.ID)
	if chargeID == "" {
		writeBadRequest(w, "VALIDATION_ERROR", "charge id is required")
		return
	}

	subscriberID, err := strconv.ParseInt(notification.Object.Metadata["subscriber_id"], 10, 64)
	if err != nil || subscriberID <= 0 {
		writeBadRequest(w, "VALIDATION_ERROR", "subscriber id is missing or invalid")
		return
	}

	amountMinor, err := yookassa.ParseAmountMinor(notification.Object.Amount.Value)
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid amount value")
		return
	}

	metrics.WebhooksReceived.WithLabelValues(notification.Event).Inc()

	status := enums.ParseChargeStatus(notification.Object.Status)
	result, err := h.payments.Reconcile(r.Context(), subscriberID, chargeID, status, amountMinor)
	if err != nil {
		h.logger.Error("webhook reconcile failed",
			zap.String("charge_id", chargeID),
			zap.Int64("subscriber_id", subscriberID),
			zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to process notification")
		return
	}

	httperrors.Write(w, http.StatusOK, webhookResponse{
		OK:     true,
		Result: string(result),
	})
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}
