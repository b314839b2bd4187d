package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"findit/internal/app/dto"
	chatsvc "findit/internal/app/services/chat"
)

// ChatHandler exposes conversations and messages over HTTP.
type ChatHandler struct {
	Service *chatsvc.Service
	Logger  *slog.Logger
}

type createConversationRequest struct {
	ListingID string `json:"listing_id"`
}

type sendMessageRequest struct {
	Text     string `json:"text"`
	ClientID string `json:"client_id"`
}

// CreateConversation returns 201 for a new thread and 200 when it already existed.
func (h ChatHandler) CreateConversation(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	conv, created, err := h.Service.CreateOrGetConversation(c.Request.Context(), p.ID, req.ListingID)
	if err != nil {
		respondError(c, h.Logger, err, "create conversation", "listing_id", req.ListingID, "user_id", p.ID)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, dto.MapConversation(conv))
}

func (h ChatHandler) ListConversations(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	list, err := h.Service.ListConversations(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, h.Logger, err, "list conversations", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	msgs, err := h.Service.ListMessages(c.Request.Context(), p.ID, conversationID)
	if err != nil {
		respondError(c, h.Logger, err, "list messages", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MapChatMessages(msgs))
}

// SendMessage answers 201 when the message was stored and 200 for a replayed client id.
func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	result, err := h.Service.SendMessage(c.Request.Context(), chatsvc.SendParams{
		SenderID:       p.ID,
		ConversationID: conversationID,
		Text:           req.Text,
		ClientID:       req.ClientID,
	})
	if err != nil {
		respondError(c, h.Logger, err, "send message", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, dto.MapChatMessage(result.Message))
}
