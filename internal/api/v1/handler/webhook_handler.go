package handler

import (
	"io"
	"net/http"

	"app/internal/billing"
	"app/internal/service"

	"github.com/rs/zerolog"
)

// WebhookHandler is the single entry point for Stripe webhook deliveries.
type WebhookHandler struct {
	provider   billing.Provider
	webhookSvc service.WebhookService
	logger     zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(provider billing.Provider, webhookSvc service.WebhookService, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{provider: provider, webhookSvc: webhookSvc, logger: logger}
}

// RegisterRoutes registers the webhook endpoint. No auth middleware: the
// request is authenticated by its Stripe signature instead.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/webhook", http.HandlerFunc(h.Handle))
}

// Handle godoc
// @Summary Receive a Stripe webhook event
// @Description Verifies the Stripe-Signature header and reconciles local state. Responds 200 even when processing fails so Stripe does not redeliver events that are already in the audit log.
// @Tags webhooks
// @Accept json
// @Success 200
// @Failure 400 {string} string "signature verification failed"
// @Router /webhook [post]
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	event, err := h.provider.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}

	// Processing failures are logged, never surfaced: a non-2xx response
	// would make Stripe redeliver an event that is already audit-logged and
	// failed for a reason redelivery cannot fix.
	if err := h.webhookSvc.Process(r.Context(), event, payload); err != nil {
		h.logger.Error().Err(err).Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("Failed to process Stripe webhook event")
	}
	w.WriteHeader(http.StatusOK)
}
