package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sami/medbank/internal/ai"
	"github.com/sami/medbank/internal/prompts"
)

// maxCorrectionItems bounds a single correction request.
const maxCorrectionItems = 200

// AIHandler exposes the standalone question correction endpoint.
type AIHandler struct {
	orchestrator *ai.Orchestrator
	batchSize    int
	concurrency  int
}

// NewAIHandler creates a new AI handler.
func NewAIHandler(orchestrator *ai.Orchestrator, batchSize, concurrency int) *AIHandler {
	if batchSize <= 0 {
		batchSize = 10
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &AIHandler{
		orchestrator: orchestrator,
		batchSize:    batchSize,
		concurrency:  concurrency,
	}
}

// CorrectRequest is the payload for a standalone correction call. Batch
// size, concurrency, and the system prompt fall back to server configuration
// when omitted.
type CorrectRequest struct {
	Items        []ai.BatchItem `json:"items" binding:"required"`
	BatchSize    int            `json:"batch_size"`
	Concurrency  int            `json:"concurrency"`
	SystemPrompt string         `json:"system_prompt"`
}

// Correct runs the correction pipeline on the submitted questions and returns
// one result per input item, in input order.
// POST /api/v1/ai/correct
func (h *AIHandler) Correct(c *gin.Context) {
	var req CorrectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "items must not be empty"})
		return
	}
	if len(req.Items) > maxCorrectionItems {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many items"})
		return
	}
	for _, item := range req.Items {
		if item.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "item missing id"})
			return
		}
		if item.QuestionText == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "item missing question text"})
			return
		}
	}

	batchSize := req.BatchSize
	if batchSize <= 0 || batchSize > maxCorrectionItems {
		batchSize = h.batchSize
	}
	concurrency := req.Concurrency
	if concurrency <= 0 || concurrency > 16 {
		concurrency = h.concurrency
	}
	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = prompts.CorrectionSystemPrompt
	}

	resultsByID := h.orchestrator.Run(c.Request.Context(), req.Items, batchSize, concurrency, systemPrompt)

	results := make([]ai.BatchResult, 0, len(req.Items))
	for _, item := range req.Items {
		results = append(results, resultsByID[item.ID])
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
