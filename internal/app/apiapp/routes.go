package apiapp

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alenakom/speechstar/internal/transport/http/handlers"
)

type Dependencies struct {
	PaymentsService handlers.Reconciler
	Logger          *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	webhookHandler := handlers.NewWebhookHandler(deps.PaymentsService, deps.Logger)

	r.Get("/healthz", healthHandler.Get)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhooks/yookassa", webhookHandler.Handle)
}
