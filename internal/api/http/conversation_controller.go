package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/marketcall/internal/api/http/converter"
	"github.com/immxrtalbeast/marketcall/internal/repository"
)

type ConversationController struct {
	conversations repository.ConversationRepository
}

func NewConversationController(conversations repository.ConversationRepository) *ConversationController {
	return &ConversationController{conversations: conversations}
}

func (c *ConversationController) GetSummary(ctx *gin.Context) {
	summary, err := c.conversations.GetSummary(ctx.Request.Context(), ctx.Param("conversationID"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"conversation": converter.SummaryToApi(summary)})
}
