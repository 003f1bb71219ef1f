package apiapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/domain/enums"
	paymentssvc "github.com/alenakom/speechstar/internal/services/payments"
)

type reconcilerStub struct {
	result paymentssvc.Result
}

func (r *reconcilerStub) Reconcile(context.Context, int64, string, enums.ChargeStatus, int64) (paymentssvc.Result, error) {
	return r.result, nil
}

func newTestRouter(result paymentssvc.Result) http.Handler {
	r := chi.NewRouter()
	ApplyMiddlewares(r, zap.NewNop())
	RegisterRoutes(r, Dependencies{
		PaymentsService: &reconcilerStub{result: result},
		Logger:          zap.NewNop(),
	})
	return r
}

func TestHealthzRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	newTestRouter(paymentssvc.ResultApplied).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	newTestRouter(paymentssvc.ResultApplied).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookRouteIsWired(t *testing.T) {
	body := `{
		"event": "payment.succeeded",
		"object": {
			"id": "ch-1",
			"status": "succeeded",
			"amount": {"value": "500.00", "currency": "RUB"},
			"metadata": {"subscriber_id": "7"}
		}
	}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/yookassa", strings.NewReader(body))

	newTestRouter(paymentssvc.ResultApplied).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"result":"applied"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
