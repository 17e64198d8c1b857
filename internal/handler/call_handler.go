package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/model"
	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/service"
)

type CallHandler interface {
	PlaceCall(c *gin.Context)
	AnswerCall(c *gin.Context)
	DeclineCall(c *gin.Context)
	EndCall(c *gin.Context)
	Beacon(c *gin.Context)
	PollRinging(c *gin.Context)
}

type callHandler struct {
	service *service.CallService
	logger  *zap.Logger
}

func NewCallHandler(svc *service.CallService, logger *zap.Logger) CallHandler {
	return &callHandler{service: svc, logger: logger}
}

type placeCallRequest struct {
	ReceiverID string `json:"receiverId"`
	CallType   string `json:"callType"`
}

func (h *callHandler) PlaceCall(c *gin.Context) {
	callerID := c.GetString("user_id")

	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	call, err := h.service.Place(c.Request.Context(), callerID, req.ReceiverID, req.CallType)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, callView(call, callerID))
}

func (h *callHandler) AnswerCall(c *gin.Context) {
	userID := c.GetString("user_id")

	call, err := h.service.Answer(c.Request.Context(), c.Param("callId"), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, callView(call, userID))
}

func (h *callHandler) DeclineCall(c *gin.Context) {
	userID := c.GetString("user_id")

	call, err := h.service.Decline(c.Request.Context(), c.Param("callId"), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, callView(call, userID))
}

func (h *callHandler) EndCall(c *gin.Context) {
	userID := c.GetString("user_id")

	call, err := h.service.End(c.Request.Context(), c.Param("callId"), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, callView(call, userID))
}

// Beacon is the page-unload hangup path. Browsers fire it with
// navigator.sendBeacon and never read the response, so it always answers 204:
// a failure here has no one left to report to.
func (h *callHandler) Beacon(c *gin.Context) {
	userID := c.GetString("user_id")

	if _, err := h.service.End(c.Request.Context(), c.Param("callId"), userID); err != nil {
		h.logger.Warn("beacon hangup failed",
			zap.String("call_id", c.Param("callId")),
			zap.Error(err),
		)
	}
	c.Status(http.StatusNoContent)
}

func (h *callHandler) PollRinging(c *gin.Context) {
	userID := c.GetString("user_id")

	call, err := h.service.PollRinging(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if call == nil {
		c.JSON(http.StatusOK, gin.H{"call": nil})
		return
	}

	c.JSON(http.StatusOK, callView(call, userID))
}

// callView shapes a call for the acting user: their own token, the label
// their UI should render, and never the counterpart's token.
func callView(call *model.Call, viewerID string) gin.H {
	return gin.H{
		"call":        call.WithoutTokens(),
		"token":       call.TokenFor(viewerID),
		"roomName":    call.RoomName,
		"statusLabel": model.StatusLabel(call, viewerID),
	}
}
