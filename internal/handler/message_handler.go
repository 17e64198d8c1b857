package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/service"
)

type MessageHandler interface {
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	DeleteMessage(c *gin.Context)
	PollMessages(c *gin.Context)
}

type messageHandler struct {
	service *service.MessageService
	logger  *zap.Logger
}

func NewMessageHandler(svc *service.MessageService, logger *zap.Logger) MessageHandler {
	return &messageHandler{service: svc, logger: logger}
}

type sendMessageRequest struct {
	Body          string `json:"body"`
	Type          string `json:"type"`
	AttachmentURL string `json:"attachmentUrl"`
}

func (h *messageHandler) SendMessage(c *gin.Context) {
	conversationID := c.Param("conversationId")
	senderID := c.GetString("user_id")

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.service.Send(c.Request.Context(), conversationID, senderID, req.Body, req.Type, req.AttachmentURL)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *messageHandler) MarkRead(c *gin.Context) {
	conversationID := c.Param("conversationId")
	readerID := c.GetString("user_id")

	count, err := h.service.MarkRead(c.Request.Context(), conversationID, readerID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"read": count})
}

func (h *messageHandler) DeleteMessage(c *gin.Context) {
	messageID := c.Param("messageId")
	requesterID := c.GetString("user_id")

	if err := h.service.Delete(c.Request.Context(), messageID, requesterID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": messageID})
}

func (h *messageHandler) PollMessages(c *gin.Context) {
	conversationID := c.Param("conversationId")
	callerID := c.GetString("user_id")
	after := c.Query("after")

	msgs, err := h.service.PollSince(c.Request.Context(), conversationID, callerID, after)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
