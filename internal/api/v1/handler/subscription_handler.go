package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// SubscriptionHandler handles subscription-related endpoints.
type SubscriptionHandler struct {
	subSvc   service.SubscriptionService
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subSvc service.SubscriptionService, v *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subSvc: subSvc, validate: v, logger: logger}
}

// RegisterRoutes registers the subscription endpoints.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/subscriptions/checkout", authMiddleware(http.HandlerFunc(h.Subscribe)))
	mux.Handle("/subscriptions/cancel", authMiddleware(http.HandlerFunc(h.Cancel)))
	mux.Handle("/subscriptions/me", authMiddleware(http.HandlerFunc(h.Me)))
	mux.Handle("/subscriptions/me/active", authMiddleware(http.HandlerFunc(h.ActiveSubscription)))
}

// Subscribe godoc
// @Summary Create or switch a subscription
// @Description Creates a subscription on the requested plan. Returns either a Stripe Checkout URL or a confirmation when a stored card was charged directly.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param subscription body dto.SubscribeRequest true "Subscribe request"
// @Success 200 {object} service.SubscribeResult
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 409 {string} string "Subscription already exists."
// @Failure 500 {string} string "failed to create subscription"
// @Router /subscriptions/checkout [post]
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.subSvc.Subscribe(r.Context(), userID, req.Plan)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPlan):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrAlreadySubscribed):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, service.ErrUserNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to create subscription")
			http.Error(w, "failed to create subscription", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, h.logger, result)
}

// Cancel godoc
// @Summary Cancel a subscription
// @Description Schedules cancellation at period end (default) or cancels immediately.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param cancellation body dto.CancelRequest true "Cancel request"
// @Success 200 {object} map[string]string
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "subscription not found"
// @Failure 500 {string} string "failed to cancel subscription"
// @Router /subscriptions/cancel [post]
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	atPeriodEnd := true
	if req.AtPeriodEnd != nil {
		atPeriodEnd = *req.AtPeriodEnd
	}

	if err := h.subSvc.Cancel(r.Context(), userID, req.SubscriptionID, atPeriodEnd); err != nil {
		switch {
		case errors.Is(err, service.ErrSubscriptionNotFound):
			http.Error(w, "subscription not found", http.StatusNotFound)
		case errors.Is(err, service.ErrNotSubscriptionOwner):
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			h.logger.Error().Err(err).Str("subscription_id", req.SubscriptionID).Msg("failed to cancel subscription")
			http.Error(w, "failed to cancel subscription", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, h.logger, map[string]string{"status": "cancellation scheduled"})
}

// Me godoc
// @Summary List the authenticated user's subscriptions
// @Tags subscriptions
// @Produce json
// @Success 200 {array} dto.SubscriptionResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to list subscriptions"
// @Router /subscriptions/me [get]
func (h *SubscriptionHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	subs, err := h.subSvc.ListForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to list subscriptions")
		http.Error(w, "failed to list subscriptions", http.StatusInternalServerError)
		return
	}
	resp := make([]dto.SubscriptionResponseDTO, 0, len(subs))
	for _, s := range subs {
		resp = append(resp, toSubscriptionDTO(s))
	}
	writeJSON(w, h.logger, resp)
}

// ActiveSubscription godoc
// @Summary Get the authenticated user's active subscription
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.SubscriptionResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "no active subscription"
// @Failure 500 {string} string "failed to fetch subscription"
// @Router /subscriptions/me/active [get]
func (h *SubscriptionHandler) ActiveSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sub, err := h.subSvc.GetActiveForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to fetch active subscription")
		http.Error(w, "failed to fetch subscription", http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "no active subscription", http.StatusNotFound)
		return
	}
	writeJSON(w, h.logger, toSubscriptionDTO(*sub))
}

func toSubscriptionDTO(s model.Subscription) dto.SubscriptionResponseDTO {
	return dto.SubscriptionResponseDTO{
		StripeSubscriptionID: s.StripeSubscriptionID,
		Plan:                 s.Plan,
		Status:               s.Status,
		StartsAt:             s.StartsAt,
		EndsAt:               s.EndsAt,
		NextBillingAt:        s.NextBillingAt,
	}
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
