package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/billing"
	"github.com/tesseract-hub/translation-engine/internal/middleware"
	"github.com/tesseract-hub/translation-engine/internal/repository"
)

// BillingHandler serves credits, transactions and usage endpoints.
type BillingHandler struct {
	ledger    *billing.Ledger
	usageRepo repository.UsageRepository
	logger    *logrus.Entry
}

// NewBillingHandler creates the billing handler
func NewBillingHandler(ledger *billing.Ledger, usageRepo repository.UsageRepository, logger *logrus.Entry) *BillingHandler {
	return &BillingHandler{
		ledger:    ledger,
		usageRepo: usageRepo,
		logger:    logger,
	}
}

// GetCredits handles GET /api/v1/credits
func (h *BillingHandler) GetCredits(c *gin.Context) {
	workspaceID, _ := middleware.GetWorkspaceID(c)

	credits, err := h.ledger.GetCredits(c.Request.Context(), workspaceID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load credits")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "Failed to load credits",
		})
		return
	}

	c.JSON(http.StatusOK, credits)
}

type rechargeRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// Recharge handles POST /api/v1/credits/recharge
func (h *BillingHandler) Recharge(c *gin.Context) {
	workspaceID, _ := middleware.GetWorkspaceID(c)

	var req rechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": err.Error(),
		})
		return
	}

	txn, err := h.ledger.Recharge(c.Request.Context(), workspaceID, req.Amount)
	if err != nil {
		if errors.Is(err, billing.ErrPaymentsUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "PAYMENT_FAILED",
				"message": "Payment gateway rejected or is unavailable",
			})
			return
		}
		h.logger.WithError(err).Error("Recharge failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "Recharge failed",
		})
		return
	}

	c.JSON(http.StatusOK, txn)
}

type autoRechargeRequest struct {
	Enabled   bool            `json:"enabled"`
	Threshold decimal.Decimal `json:"threshold"`
	Amount    decimal.Decimal `json:"amount"`
}

// UpdateAutoRecharge handles PUT /api/v1/credits/auto-recharge
func (h *BillingHandler) UpdateAutoRecharge(c *gin.Context) {
	workspaceID, _ := middleware.GetWorkspaceID(c)

	var req autoRechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": err.Error(),
		})
		return
	}

	if err := h.ledger.UpdateAutoRecharge(c.Request.Context(), workspaceID,
		req.Enabled, req.Threshold, req.Amount); err != nil {
		h.logger.WithError(err).Error("Failed to update auto-recharge settings")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "Failed to update auto-recharge settings",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Auto-recharge settings updated"})
}

// ListTransactions handles GET /api/v1/transactions
func (h *BillingHandler) ListTransactions(c *gin.Context) {
	workspaceID, _ := middleware.GetWorkspaceID(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txns, err := h.ledger.ListTransactions(c.Request.Context(), workspaceID, limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list transactions")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "Failed to list transactions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txns,
		"count":        len(txns),
	})
}

// GetDailyUsage handles GET /api/v1/usage/daily
func (h *BillingHandler) GetDailyUsage(c *gin.Context) {
	workspaceID, _ := middleware.GetWorkspaceID(c)

	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -30)
	if v := c.Query("from"); v != "" {
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			from = parsed
		}
	}
	if v := c.Query("to"); v != "" {
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			to = parsed
		}
	}

	usage, err := h.usageRepo.GetDailyUsage(c.Request.Context(), workspaceID, from, to)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load daily usage")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "Failed to load daily usage",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"usage": usage,
		"from":  from.Format("2006-01-02"),
		"to":    to.Format("2006-01-02"),
	})
}
