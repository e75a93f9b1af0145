package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/billing"
	"github.com/tesseract-hub/translation-engine/internal/cache"
	"github.com/tesseract-hub/translation-engine/internal/conversation"
	"github.com/tesseract-hub/translation-engine/internal/engine"
	"github.com/tesseract-hub/translation-engine/internal/middleware"
	"github.com/tesseract-hub/translation-engine/internal/models"
	"github.com/tesseract-hub/translation-engine/internal/repository"
)

// TranslationHandler serves the translation API surface.
type TranslationHandler struct {
	engine       *engine.Engine
	conversation *conversation.Manager
	repo         repository.TranslationRepository
	cache        *cache.TranslationCache
	logger       *logrus.Entry
}

// NewTranslationHandler creates the translation handler. cache may be nil.
func NewTranslationHandler(eng *engine.Engine, conv *conversation.Manager,
	repo repository.TranslationRepository, translationCache *cache.TranslationCache,
	logger *logrus.Entry) *TranslationHandler {
	return &TranslationHandler{
		engine:       eng,
		conversation: conv,
		repo:         repo,
		cache:        translationCache,
		logger:       logger,
	}
}

// Translate handles POST /api/v1/translate
func (h *TranslationHandler) Translate(c *gin.Context) {
	workspaceID, _ := middleware.GetWorkspaceID(c)

	var req models.TranslationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": err.Error(),
		})
		return
	}

	resp, err := h.engine.Translate(c.Request.Context(), workspaceID,
		middleware.GetUserID(c), middleware.GetRequestID(c), &req)
	if err != nil {
		h.translationError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// TranslateBatch handles POST /api/v1/translate/batch
func (h *TranslationHandler) TranslateBatch(c *gin.Context) {
	workspaceID, _ := middleware.GetWorkspaceID(c)

	var req models.BatchTranslationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": err.Error(),
		})
		return
	}

	resp, err := h.engine.TranslateBatch(c.Request.Context(), workspaceID,
		middleware.GetUserID(c), middleware.GetRequestID(c), &req)
	if err != nil {
		h.translationError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DetectLanguage handles POST /api/v1/detect
func (h *TranslationHandler) DetectLanguage(c *gin.Context) {
	var req models.DetectLanguageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": err.Error(),
		})
		return
	}

	resp, err := h.engine.DetectLanguage(c.Request.Context(), req.Text)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "DETECTION_FAILED",
			"message": "Unable to detect language",
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetLanguages handles GET /api/v1/languages
func (h *TranslationHandler) GetLanguages(c *gin.Context) {
	languages, err := h.repo.GetLanguages(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load languages")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "Failed to load languages",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"languages": languages,
		"count":     len(languages),
	})
}

// GetProviderHealth handles GET /api/v1/providers/health
func (h *TranslationHandler) GetProviderHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers": h.engine.ProviderStatuses(),
	})
}

// InvalidateCache handles DELETE /api/v1/cache
func (h *TranslationHandler) InvalidateCache(c *gin.Context) {
	workspaceID, _ := middleware.GetWorkspaceID(c)

	if h.cache != nil {
		if err := h.cache.InvalidateWorkspace(c.Request.Context(), workspaceID); err != nil {
			h.logger.WithError(err).Error("Failed to invalidate cache")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "INTERNAL_ERROR",
				"message": "Failed to invalidate cache",
			})
			return
		}
	}
	if err := h.repo.DeleteByWorkspace(c.Request.Context(), workspaceID); err != nil {
		h.logger.WithError(err).Warn("Failed to clear durable cache entries")
	}

	c.JSON(http.StatusOK, gin.H{"message": "Cache invalidated"})
}

type contextMessageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text" binding:"required,max=10000"`
}

// AddContextMessage handles POST /api/v1/context/:channel/messages.
// Lets chat frontends feed conversation history without translating.
func (h *TranslationHandler) AddContextMessage(c *gin.Context) {
	channelID := c.Param("channel")

	var req contextMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": err.Error(),
		})
		return
	}

	h.conversation.AddMessage(channelID, req.UserID, req.Text)
	c.JSON(http.StatusAccepted, gin.H{"message": "Context recorded"})
}

// GetContext handles GET /api/v1/context/:channel
func (h *TranslationHandler) GetContext(c *gin.Context) {
	channelID := c.Param("channel")
	c.JSON(http.StatusOK, gin.H{
		"channel_id":   channelID,
		"context":      h.conversation.GetContext(channelID),
		"participants": h.conversation.Participants(channelID),
	})
}

// ClearContext handles DELETE /api/v1/context/:channel
func (h *TranslationHandler) ClearContext(c *gin.Context) {
	h.conversation.ClearContext(c.Param("channel"))
	c.JSON(http.StatusOK, gin.H{"message": "Context cleared"})
}

func (h *TranslationHandler) translationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrUnsupportedLanguage):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "UNSUPPORTED_LANGUAGE",
			"message": err.Error(),
		})
	case errors.Is(err, engine.ErrBatchTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "BATCH_TOO_LARGE",
			"message": err.Error(),
		})
	case errors.Is(err, billing.ErrInsufficientCredits):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "INSUFFICIENT_CREDITS",
			"message": "Workspace has insufficient credits for this translation",
		})
	case errors.Is(err, engine.ErrDetectionFailed):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "DETECTION_FAILED",
			"message": "Unable to detect the source language",
		})
	case errors.Is(err, engine.ErrTranslationUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "TRANSLATION_UNAVAILABLE",
			"message": "No translation provider supports this language pair",
		})
	default:
		h.logger.WithError(err).Error("Translation failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "Translation failed",
		})
	}
}
