package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"kaboom-collab-backend/pkg/config"
	"kaboom-collab-backend/pkg/logging"
	"kaboom-collab-backend/pkg/models"
	"kaboom-collab-backend/pkg/payments"
	"kaboom-collab-backend/pkg/utils"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 1 << 16

// WebhookApplier applies a verified processor event to the ledger.
type WebhookApplier interface {
	HandleEvent(ctx context.Context, evt *payments.WebhookEvent) ([]models.DomainEvent, error)
}

// WebhookHandler 处理webhook相关的请求
type WebhookHandler struct {
	config *config.Config
	bridge WebhookApplier
	events EventSink
	log    hclog.Logger
}

// NewWebhookHandler 创建新的webhook处理器
func NewWebhookHandler(cfg *config.Config, bridge WebhookApplier, events EventSink) *WebhookHandler {
	return &WebhookHandler{
		config: cfg,
		bridge: bridge,
		events: events,
		log:    logging.Named("webhook"),
	}
}

// HandleStripeWebhook 处理Stripe webhook
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.config.StripeWebhookSecret == "" {
		h.log.Warn("stripe webhook received but STRIPE_WEBHOOK_SECRET is not set")
		utils.WriteErrorResponseWithCode(w, http.StatusServiceUnavailable, "PAYMENTS_NOT_CONFIGURED", "Webhook secret not configured", "")
		return
	}

	// 读取请求体
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.log.Error("failed to read webhook body", "error", err)
		utils.WriteBadRequestResponse(w, "Failed to read request body")
		return
	}

	// 验证签名
	evt, err := payments.ParseStripeEvent(body, r.Header.Get("Stripe-Signature"), h.config.StripeWebhookSecret)
	if err != nil {
		h.log.Warn("rejected webhook", "error", err)
		utils.WriteErrorResponseWithCode(w, http.StatusBadRequest, "INVALID_SIGNATURE", "Invalid webhook signature", "")
		return
	}
	h.log.Debug("webhook received", "event", evt.ID, "type", evt.Type)

	events, err := h.bridge.HandleEvent(r.Context(), evt)
	if err != nil {
		// a 5xx makes Stripe retry the delivery
		h.log.Error("failed to apply webhook", "event", evt.ID, "type", evt.Type, "error", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to process webhook")
		return
	}
	h.events.Enqueue(events...)

	utils.WriteSuccessResponse(w, map[string]string{"status": "processed", "event_id": evt.ID})
}
