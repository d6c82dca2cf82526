package handler

import (
	"net/http"
	"strconv"

	"tably/internal/middleware"
	"tably/internal/service"

	"github.com/gin-gonic/gin"
)

// RewardHandler serves the read side of the reward ledger: balance,
// transaction history and monthly stats.
type RewardHandler struct {
	rewardSvc *service.RewardService
}

func NewRewardHandler(rewardSvc *service.RewardService) *RewardHandler {
	return &RewardHandler{rewardSvc: rewardSvc}
}

// GetBalance returns the authoritative balance derived from the ledger.
func (h *RewardHandler) GetBalance(c *gin.Context) {
	userID := middleware.GetUserID(c)
	summary, err := h.rewardSvc.BalanceSummary(userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "REWARD_BALANCE_FAILED", "failed to load balance")
		return
	}
	ok(c, http.StatusOK, gin.H{
		"totalEarned":      summary.TotalEarned,
		"totalRedeemed":    summary.TotalRedeemed,
		"currentBalance":   summary.CurrentBalance,
		"nextRedemptionAt": summary.NextRedemptionAt,
		"canRedeem":        summary.CanRedeem,
	})
}

// GetTransactions returns one page of the customer's history, newest-first.
func (h *RewardHandler) GetTransactions(c *gin.Context) {
	userID := middleware.GetUserID(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if size > 100 {
		size = 100
	}
	list, total, err := h.rewardSvc.History(userID, page, size)
	if err != nil {
		fail(c, http.StatusInternalServerError, "REWARD_HISTORY_FAILED", "failed to load transactions")
		return
	}
	content := make([]transactionDTO, 0, len(list))
	for i := range list {
		content = append(content, toTransactionDTO(&list[i]))
	}
	ok(c, http.StatusOK, pageResult{
		Content:       content,
		Page:          page,
		Size:          size,
		TotalElements: total,
		HasNext:       int64((page+1)*size) < total,
	})
}

// GetStats returns the monthly aggregates for the rewards dashboard.
func (h *RewardHandler) GetStats(c *gin.Context) {
	userID := middleware.GetUserID(c)
	stats, err := h.rewardSvc.Stats(userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "REWARD_STATS_FAILED", "failed to load stats")
		return
	}
	ok(c, http.StatusOK, gin.H{
		"totalEarnedThisMonth":   stats.TotalEarnedThisMonth,
		"totalRedeemedThisMonth": stats.TotalRedeemedThisMonth,
		"averageMonthlyEarning":  stats.AverageMonthlyEarning,
		"nextMilestone":          stats.NextMilestone,
	})
}
