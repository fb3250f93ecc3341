package document

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avolkov/ragchat/internal/domain"
	"github.com/avolkov/ragchat/internal/service"
)

// maxUploadSize bounds accepted PDF payloads.
const maxUploadSize = 32 << 20 // 32 MiB

// Handler handles document API requests
type Handler struct {
	ingestService *service.IngestService
}

// NewHandler creates a new document handler
func NewHandler(ingestService *service.IngestService) *Handler {
	return &Handler{ingestService: ingestService}
}

// RegisterRoutes registers document routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chats/:id/documents", h.Upload)
	r.GET("/chats/:id/documents", h.List)
	r.GET("/documents/:id", h.View)
	r.DELETE("/documents/:id", h.Delete)
}

// Upload ingests a PDF into a chat
func (h *Handler) Upload(c *gin.Context) {
	chatID := c.Param("id")

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}
	if file.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open uploaded file"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file"})
		return
	}

	result, err := h.ingestService.Upload(c.Request.Context(), chatID, file.Filename, data)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// List lists a chat's documents
func (h *Handler) List(c *gin.Context) {
	docs, err := h.ingestService.ListDocuments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if docs == nil {
		docs = []*domain.Document{}
	}

	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// View returns a document and its chunks
func (h *Handler) View(c *gin.Context) {
	doc, chunks, err := h.ingestService.ViewDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if chunks == nil {
		chunks = []*domain.Chunk{}
	}

	c.JSON(http.StatusOK, gin.H{"document": doc, "chunks": chunks})
}

// Delete removes a document and its derived data
func (h *Handler) Delete(c *gin.Context) {
	if err := h.ingestService.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
