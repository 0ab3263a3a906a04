package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/marketcall/internal/api/http/converter"
	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/immxrtalbeast/marketcall/internal/repository"
	"github.com/immxrtalbeast/marketcall/internal/service"
	"github.com/immxrtalbeast/marketcall/lib/logger/sl"
)

const writeWait = 5 * time.Second

type CallController struct {
	calls    service.CallInteractor
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewCallController(calls service.CallInteractor, log *slog.Logger) *CallController {
	return &CallController{
		calls: calls,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *CallController) StartCall(ctx *gin.Context) {
	type participant struct {
		ID   string `json:"id" binding:"required"`
		Name string `json:"name"`
	}
	type request struct {
		ConversationID string      `json:"conversation_id"`
		Self           participant `json:"self" binding:"required"`
		Peer           participant `json:"peer" binding:"required"`
		Kind           string      `json:"kind" binding:"required"`
	}

	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	snap, err := c.calls.StartCall(ctx.Request.Context(), service.CallParams{
		ConversationID: req.ConversationID,
		Self:           domain.Participant{ID: req.Self.ID, Name: req.Self.Name},
		Peer:           domain.Participant{ID: req.Peer.ID, Name: req.Peer.Name},
		Kind:           domain.CallKind(req.Kind),
	})
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"call": converter.CallToApi(snap)})
}

func (c *CallController) GetCall(ctx *gin.Context) {
	snap, err := c.calls.GetCall(ctx.Request.Context(), ctx.Param("conversationID"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"call": converter.CallToApi(snap)})
}

func (c *CallController) Hangup(ctx *gin.Context) {
	if err := c.calls.Hangup(ctx.Request.Context(), ctx.Param("conversationID")); err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *CallController) SetMuted(ctx *gin.Context) {
	type request struct {
		Muted *bool `json:"muted" binding:"required"`
	}
	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := c.calls.SetMuted(ctx.Request.Context(), ctx.Param("conversationID"), *req.Muted); err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *CallController) SetCameraOff(ctx *gin.Context) {
	type request struct {
		Off *bool `json:"off" binding:"required"`
	}
	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := c.calls.SetCameraOff(ctx.Request.Context(), ctx.Param("conversationID"), *req.Off); err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.Status(http.StatusNoContent)
}

// WatchCall streams call state frames over a websocket until the call ends
// or the client goes away.
func (c *CallController) WatchCall(ctx *gin.Context) {
	const op = "http.call.WatchCall"
	conversationID := ctx.Param("conversationID")
	log := c.log.With(slog.String("op", op), slog.String("conversation_id", conversationID))

	events, cancel, err := c.calls.Watch(ctx.Request.Context(), conversationID)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	defer cancel()

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", sl.Err(err))
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(converter.CallEventToApi(snap)); err != nil {
				log.Debug("watcher write failed", sl.Err(err))
				return
			}
			if snap.State.Terminal() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, snap.EndReason),
					time.Now().Add(writeWait))
				return
			}
		case <-gone:
			return
		}
	}
}

// Decline rejects an offer waiting for the participant named in the body.
func (c *CallController) Decline(ctx *gin.Context) {
	type request struct {
		ParticipantID string `json:"participant_id" binding:"required"`
	}
	var req request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := c.calls.Decline(ctx.Request.Context(), ctx.Param("conversationID"), req.ParticipantID); err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.Status(http.StatusNoContent)
}

// WatchIncoming streams the offers waiting for the participant_id query parameter.
func (c *CallController) WatchIncoming(ctx *gin.Context) {
	const op = "http.call.WatchIncoming"
	participantID := ctx.Query("participant_id")
	log := c.log.With(slog.String("op", op), slog.String("participant_id", participantID))

	events, cancel, err := c.calls.Incoming(ctx.Request.Context(), participantID)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	defer cancel()

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", sl.Err(err))
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case calls, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(converter.IncomingEventToApi(calls)); err != nil {
				log.Debug("incoming write failed", sl.Err(err))
				return
			}
		case <-gone:
			return
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrCallNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, repository.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCallActive):
		return http.StatusConflict
	case service.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
