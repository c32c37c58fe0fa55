package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pdfrag/internal/domain"
	"pdfrag/internal/log"
	"pdfrag/internal/port"
	"pdfrag/internal/usecase"
)

// Handler exposes retrieval and question answering over HTTP.
type Handler struct {
	retriever port.Retriever
	ask       *usecase.AskUseCase
	store     port.ChunkStore
}

func NewHandler(retriever port.Retriever, ask *usecase.AskUseCase, store port.ChunkStore) *Handler {
	return &Handler{
		retriever: retriever,
		ask:       ask,
		store:     store,
	}
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Health)

	v1 := r.Group("/v1")
	v1.POST("/retrieve", h.Retrieve)
	v1.POST("/ask", h.Ask)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type retrieveRequest struct {
	Query string `json:"query"`
}

type retrieveResponse struct {
	Query    string                 `json:"query"`
	Grounded bool                   `json:"grounded"`
	Chunks   []domain.GroundedChunk `json:"chunks"`
}

type askRequest struct {
	Question string `json:"question"`
}

func (h *Handler) Health(c *gin.Context) {
	n, err := h.store.Count(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "chunks": n})
}

func (h *Handler) Retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		sendError(c, http.StatusBadRequest, usecase.ErrEmptyQuery)
		return
	}

	chunks, err := h.retriever.Retrieve(c.Request.Context(), req.Query)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	if chunks == nil {
		chunks = []domain.GroundedChunk{}
	}

	c.JSON(http.StatusOK, retrieveResponse{
		Query:    req.Query,
		Grounded: len(chunks) > 0,
		Chunks:   chunks,
	})
}

func (h *Handler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, err)
		return
	}

	answer, err := h.ask.Ask(c.Request.Context(), req.Question)
	if err != nil {
		sendError(c, http.StatusInternalServerError, err)
		return
	}
	if answer.Sources == nil {
		answer.Sources = []domain.GroundedChunk{}
	}
	c.JSON(http.StatusOK, answer)
}

// sendError maps known errors to their status; status is the fallback.
func sendError(c *gin.Context, status int, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, usecase.ErrEmptyQuery):
		status = http.StatusBadRequest
	case errors.Is(err, usecase.ErrQueryEmbedding):
		status = http.StatusServiceUnavailable
		msg = usecase.ErrQueryEmbedding.Error()
	case errors.Is(err, usecase.ErrNoAnswerer):
		status = http.StatusNotImplemented
	}
	if status >= http.StatusInternalServerError {
		log.Error(err, "request failed", "path", c.FullPath())
	}
	c.JSON(status, ErrorResponse{Error: msg})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status())
	}
}
