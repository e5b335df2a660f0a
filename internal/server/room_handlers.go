package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/portside-labs/minichat/backend/internal/messages"
	"github.com/portside-labs/minichat/backend/internal/rooms"
)

type roomListResponse struct {
	Rooms []rooms.RoomView `json:"rooms"`
}

func (h *httpHandler) handleRoomList(c *gin.Context) {
	username := c.GetString(usernameContextKey)
	views, err := h.rooms.ListForUser(c.Request.Context(), username)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, roomListResponse{Rooms: views})
}

type createRoomRequest struct {
	RoomID string `json:"room_id" binding:"required"`
}

func (h *httpHandler) handleRoomCreate(c *gin.Context) {
	var request createRoomRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.rooms.CreateChannel(c.Request.Context(), request.RoomID); err != nil {
		h.respondError(c, err)
		return
	}

	// A channel appears for everyone, so everyone's room list changed.
	h.subscriptions.NotifyAll(nil)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "room_id": request.RoomID})
}

type createDMRequest struct {
	Username string `json:"username" binding:"required"`
}

func (h *httpHandler) handleDMCreate(c *gin.Context) {
	var request createDMRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	requester := c.GetString(usernameContextKey)
	view, err := h.rooms.CreateOrGetDM(c.Request.Context(), requester, request.Username)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// Only the two members see this room; notify just their lists.
	for _, member := range view.Members {
		h.subscriptions.Notify(member, nil)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "room": view})
}

func (h *httpHandler) handleRoomDelete(c *gin.Context) {
	roomID := c.Param("room_id")
	actor := c.GetString(usernameContextKey)

	if err := h.rooms.DeleteRoom(c.Request.Context(), roomID, actor); err != nil {
		h.respondError(c, err)
		return
	}

	h.subscriptions.NotifyAll(nil)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "room_id": roomID})
}

type roomMessagesResponse struct {
	Status   string                 `json:"status"`
	Messages []rooms.MessagePayload `json:"messages"`
}

// authorizeRoom applies the lazy-create-then-check sequence shared by the
// pull and push message paths.
func (h *httpHandler) authorizeRoom(c *gin.Context, roomID, username string) bool {
	ctx := c.Request.Context()
	if !rooms.IsDirectRoomID(roomID) {
		if err := h.rooms.Registry().EnsureExists(ctx, roomID); err != nil {
			h.respondError(c, err)
			return false
		}
	}
	if err := h.rooms.Authorize(ctx, roomID, username); err != nil {
		h.respondError(c, err)
		return false
	}
	return true
}

func (h *httpHandler) handleRoomMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	username := c.GetString(usernameContextKey)
	if !h.authorizeRoom(c, roomID, username) {
		return
	}

	since, err := parseInt64Query(c, "since", 0)
	if err != nil {
		h.respondError(c, err)
		return
	}
	records, err := h.messages.ReadSince(c.Request.Context(), roomID, since)
	if err != nil {
		h.respondError(c, err)
		return
	}

	payloads := make([]rooms.MessagePayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, rooms.NewMessagePayload(record))
	}
	c.JSON(http.StatusOK, roomMessagesResponse{Status: "ok", Messages: payloads})
}

type sendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *httpHandler) handleRoomMessagePost(c *gin.Context) {
	roomID := c.Param("room_id")
	username := c.GetString(usernameContextKey)
	if !h.authorizeRoom(c, roomID, username) {
		return
	}

	var request sendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.messages.Append(c.Request.Context(), roomID, username, request.Message)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// The REST path and the websocket session share the append-then-
	// broadcast sequence, so subscribers on either path see this write
	// live.
	h.broadcaster.Broadcast(roomID, rooms.NewMessageEvent(record))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": rooms.NewMessagePayload(record)})
}

type searchMessagePayload struct {
	ID        int64  `json:"id"`
	RoomID    string `json:"room_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type searchMessagesResponse struct {
	Status   string                 `json:"status"`
	Messages []searchMessagePayload `json:"messages"`
	Total    int64                  `json:"total"`
}

func (h *httpHandler) handleMessageSearch(c *gin.Context) {
	limit, err := parseIntQuery(c, "limit", 0)
	if err != nil {
		h.respondError(c, err)
		return
	}
	offset, err := parseIntQuery(c, "offset", 0)
	if err != nil {
		h.respondError(c, err)
		return
	}
	query := messages.SearchQuery{
		Text:     c.Query("query"),
		RoomID:   c.Query("room_id"),
		Username: c.Query("username"),
		Limit:    limit,
		Offset:   offset,
	}

	records, total, err := h.messages.Search(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, err)
		return
	}

	payloads := make([]searchMessagePayload, 0, len(records))
	for _, record := range records {
		payload := rooms.NewMessagePayload(record)
		payloads = append(payloads, searchMessagePayload{
			ID:        payload.ID,
			RoomID:    record.RoomID,
			Username:  payload.Username,
			Message:   payload.Message,
			Timestamp: payload.Timestamp,
		})
	}
	c.JSON(http.StatusOK, searchMessagesResponse{Status: "ok", Messages: payloads, Total: total})
}
