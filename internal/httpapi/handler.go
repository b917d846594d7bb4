package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"endochat/internal/domain"
	"endochat/internal/observability"
	"endochat/internal/service"
	"endochat/internal/storage"
)

// ChatService runs one chat turn.
type ChatService interface {
	Reply(ctx context.Context, req service.ChatRequest) (service.ChatReply, error)
}

// Records gives read and delete access to the per-user records.
type Records interface {
	LoadSources(userID string) ([]domain.Source, error)
	LoadImages(userID string) ([]domain.ImageMatch, error)
	DeleteAll(userID string) (int, error)
}

type ConversationDeleter interface {
	Delete(userID string) bool
}

// Handler handles HTTP requests.
type Handler struct {
	chat           ChatService
	records        Records
	conversations  ConversationDeleter
	imageURLPrefix string
	ready          func() bool
}

// NewHandler creates a new handler. ready reports whether the search index
// is built and may be nil.
func NewHandler(chat ChatService, records Records, conversations ConversationDeleter, imageURLPrefix string, ready func() bool) *Handler {
	return &Handler{
		chat:           chat,
		records:        records,
		conversations:  conversations,
		imageURLPrefix: imageURLPrefix,
		ready:          ready,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/chat", h.Chat)
	e.GET("/sources", h.Sources)
	e.GET("/images", h.Images)
	e.DELETE("/conversations/:user", h.DeleteConversation)

	e.GET("/metrics", echo.WrapHandler(observability.MetricsHandler()))
	e.GET("/healthz", h.Health)
}

// ChatRequest is the body of POST /chat. conversation_history is optional;
// the stored history is used when it is absent.
type ChatRequest struct {
	Message  string          `json:"message"`
	UserID   string          `json:"user_id"`
	Language string          `json:"language"`
	History  *domain.History `json:"conversation_history,omitempty"`
}

// ImageResponse is an image match with its public URL.
type ImageResponse struct {
	domain.ImageMatch
	URL string `json:"url"`
}

type ChatResponse struct {
	Response string          `json:"response"`
	History  domain.History  `json:"conversation_history"`
	Sources  []domain.Source `json:"sources"`
	Images   []ImageResponse `json:"images"`
	Fallback bool            `json:"fallback"`
}

// Chat answers a message.
// POST /chat
func (h *Handler) Chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}

	creq := service.ChatRequest{
		Message:  req.Message,
		UserID:   req.UserID,
		Language: domain.ParseLanguage(req.Language),
	}
	if req.History != nil {
		creq.History = *req.History
		if creq.History == nil {
			creq.History = domain.History{}
		}
	}

	reply, err := h.chat.Reply(c.Request().Context(), creq)
	if err != nil {
		log.Error().Err(err).Str("request_id", reqID(c)).Str("user_id", req.UserID).Msg("Chat turn failed")
		return c.JSON(http.StatusBadGateway, map[string]any{
			"error":                "the language model is unavailable, please try again",
			"conversation_history": reply.History,
		})
	}

	return c.JSON(http.StatusOK, ChatResponse{
		Response: reply.Response,
		History:  reply.History,
		Sources:  nonNil(reply.Sources),
		Images:   h.withURLs(reply.Images),
		Fallback: reply.Fallback,
	})
}

// Sources returns the latest source attribution record of a user.
// GET /sources?user_id=...
func (h *Handler) Sources(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	sources, err := h.records.LoadSources(userID)
	if err != nil && !errors.Is(err, storage.ErrCorrupt) {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"sources": nonNil(sources)})
}

// Images returns the latest image relevance record of a user.
// GET /images?user_id=...
func (h *Handler) Images(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	images, err := h.records.LoadImages(userID)
	if err != nil && !errors.Is(err, storage.ErrCorrupt) {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"images": h.withURLs(images)})
}

// DeleteConversation forgets a user.
// DELETE /conversations/:user
func (h *Handler) DeleteConversation(c echo.Context) error {
	userID := c.Param("user")
	deleted := h.conversations.Delete(userID)
	removed, err := h.records.DeleteAll(userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !deleted && removed == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	ready := h.ready == nil || h.ready()
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"index_ready": ready,
	})
}

func (h *Handler) withURLs(images []domain.ImageMatch) []ImageResponse {
	out := make([]ImageResponse, 0, len(images))
	prefix := strings.TrimRight(h.imageURLPrefix, "/") + "/"
	for _, img := range images {
		out = append(out, ImageResponse{ImageMatch: img, URL: prefix + url.PathEscape(img.Filename)})
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
