package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sami/medbank/internal/domain"
	"github.com/sami/medbank/internal/importer"
	"github.com/sami/medbank/internal/logger"
	"github.com/sami/medbank/internal/session"
)

// ImportHandler handles spreadsheet upload and import progress endpoints.
type ImportHandler struct {
	importService  *importer.Service
	sessions       *session.Store
	streamInterval time.Duration
	maxUploadBytes int64
}

// NewImportHandler creates a new import handler.
func NewImportHandler(importService *importer.Service, sessions *session.Store, streamInterval time.Duration, maxUploadMB int) *ImportHandler {
	if streamInterval <= 0 {
		streamInterval = 500 * time.Millisecond
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &ImportHandler{
		importService:  importService,
		sessions:       sessions,
		streamInterval: streamInterval,
		maxUploadBytes: int64(maxUploadMB) << 20,
	}
}

// StartImport accepts a multipart workbook upload, registers a session, and
// starts the import in the background. The response carries the session id
// for progress polling.
// POST /api/v1/imports
func (h *ImportHandler) StartImport(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open uploaded file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	opts := importer.Options{
		AICorrection: c.PostForm("ai_correction") == "true",
	}

	sessionID := h.sessions.Create()
	logger.CtxInfo(c.Request.Context(), "Import accepted: session=%s, file=%s, size=%d, ai_correction=%v",
		sessionID, fileHeader.Filename, len(data), opts.AICorrection)

	// The run outlives the HTTP request, so it gets a fresh context carrying
	// only the logging fields.
	runCtx := logger.WithFields(context.Background(), logger.Fields{
		logger.FieldRequestID: c.Writer.Header().Get("X-Request-ID"),
	})
	go h.importService.Run(runCtx, sessionID, data, opts)

	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID})
}

// GetImport returns the current progress snapshot for a session.
// GET /api/v1/imports/:id
func (h *ImportHandler) GetImport(c *gin.Context) {
	snap, ok := h.sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "import session not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// StreamImport pushes progress snapshots over Server-Sent Events until the
// session reaches a terminal phase or the client disconnects. The terminal
// snapshot is always sent before the stream closes.
// GET /api/v1/imports/:id/stream
func (h *ImportHandler) StreamImport(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.sessions.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "import session not found"})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case <-ticker.C:
		}

		snap, ok := h.sessions.Get(id)
		if !ok {
			// swept mid-stream
			c.SSEvent("gone", gin.H{"id": id})
			return false
		}
		c.SSEvent("progress", snap)
		return snap.Phase != domain.PhaseComplete
	})
}

// CancelImport requests cancellation of a running import. The session moves
// to the terminal phase immediately; the run stops at its next checkpoint.
// POST /api/v1/imports/:id/cancel
func (h *ImportHandler) CancelImport(c *gin.Context) {
	id := c.Param("id")
	if !h.sessions.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "import session not found"})
		return
	}
	logger.CtxInfo(c.Request.Context(), "Import cancelled: session=%s", id)
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
