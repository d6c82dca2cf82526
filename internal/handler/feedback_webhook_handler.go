package handler

import (
	"crypto/subtle"
	"log"
	"net/http"

	"tably/config"
	"tably/internal/service"

	"github.com/gin-gonic/gin"
)

// FeedbackApprovedEvent is the payload the feedback subsystem posts when a
// submission is approved. Delivery is at-least-once; the reward bridge
// dedupes by feedback ID.
type FeedbackApprovedEvent struct {
	CustomerID uint   `json:"customer_id" binding:"required"`
	FeedbackID uint   `json:"feedback_id" binding:"required"`
	StoreID    uint   `json:"store_id"`
	ApprovedAt string `json:"approved_at"`
}

type FeedbackWebhookHandler struct {
	cfg       *config.Config
	rewardSvc *service.RewardService
}

func NewFeedbackWebhookHandler(cfg *config.Config, rewardSvc *service.RewardService) *FeedbackWebhookHandler {
	return &FeedbackWebhookHandler{cfg: cfg, rewardSvc: rewardSvc}
}

// Handle credits reward points for an approved feedback. Duplicate
// deliveries ack with 200 and change nothing.
func (h *FeedbackWebhookHandler) Handle(c *gin.Context) {
	if h.cfg.Webhook.FeedbackSecret != "" {
		got := c.GetHeader("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.Webhook.FeedbackSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
	}
	var event FeedbackApprovedEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.rewardSvc.OnFeedbackApproved(event.CustomerID, event.FeedbackID); err != nil {
		log.Printf("[feedback webhook] crediting feedback %d for user %d failed: %v", event.FeedbackID, event.CustomerID, err)
		// Non-2xx makes the feedback subsystem redeliver; the dedupe guard
		// makes that safe.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credit failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
