package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/portside-labs/minichat/backend/internal/admin"
	"github.com/portside-labs/minichat/backend/internal/users"
)

type userPayload struct {
	Username   string `json:"username"`
	Role       string `json:"role"`
	Approved   bool   `json:"approved"`
	ApprovedAt string `json:"approved_at,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

func (h *httpHandler) handleUserList(c *gin.Context) {
	records, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	payloads := make([]userPayload, 0, len(records))
	for _, record := range records {
		payload := userPayload{
			Username:   record.Username,
			Role:       string(record.Role),
			Approved:   record.Approved,
			ApprovedBy: record.ApprovedBy,
		}
		if record.ApprovedAt != nil {
			payload.ApprovedAt = record.ApprovedAt.UTC().Format(time.RFC3339)
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, gin.H{"users": payloads})
}

type pendingUserPayload struct {
	Username     string `json:"username"`
	ApprovalCode string `json:"approval_code"`
	RegisteredAt string `json:"registered_at"`
}

func (h *httpHandler) handlePendingUsers(c *gin.Context) {
	records, err := h.users.PendingUsers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	payloads := make([]pendingUserPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, pendingUserPayload{
			Username:     record.Username,
			ApprovalCode: record.ApprovalCode,
			RegisteredAt: record.RegisteredAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"pending": payloads})
}

type approvalRequest struct {
	ApprovalCode string `json:"approval_code" binding:"required"`
}

func (h *httpHandler) handleApproveUser(c *gin.Context) {
	var request approvalRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	approver := c.GetString(usernameContextKey)
	if err := h.users.Approve(c.Request.Context(), request.ApprovalCode, approver); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleRejectUser(c *gin.Context) {
	var request approvalRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.users.Reject(c.Request.Context(), request.ApprovalCode); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleRevokeUser(c *gin.Context) {
	if err := h.users.RevokeAccess(c.Request.Context(), c.Param("username")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type setRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *httpHandler) handleSetRole(c *gin.Context) {
	var request setRoleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.users.SetRole(c.Request.Context(), c.Param("username"), users.Role(request.Role)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleServerStatus(c *gin.Context) {
	status, err := h.admin.SystemStatus(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type setRegistrationModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (h *httpHandler) handleSetRegistrationMode(c *gin.Context) {
	var request setRegistrationModeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.admin.SetRegistrationMode(c.Request.Context(), admin.RegistrationMode(request.Mode)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": request.Mode})
}

type invitePayload struct {
	Token     string `json:"token"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
	UsedBy    string `json:"used_by,omitempty"`
	UsedAt    string `json:"used_at,omitempty"`
}

func (h *httpHandler) handleListInvites(c *gin.Context) {
	records, err := h.admin.ListInvites(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	payloads := make([]invitePayload, 0, len(records))
	for _, record := range records {
		payload := invitePayload{
			Token:     record.Token,
			CreatedBy: record.CreatedBy,
			CreatedAt: record.CreatedAt.UTC().Format(time.RFC3339),
		}
		if record.UsedBy != nil {
			payload.UsedBy = *record.UsedBy
		}
		if record.UsedAt != nil {
			payload.UsedAt = record.UsedAt.UTC().Format(time.RFC3339)
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, gin.H{"invites": payloads})
}

func (h *httpHandler) handleCreateInvite(c *gin.Context) {
	record, err := h.admin.CreateInvite(c.Request.Context(), c.GetString(usernameContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "token": record.Token})
}

func (h *httpHandler) handleDeleteInvite(c *gin.Context) {
	if err := h.admin.DeleteInvite(c.Request.Context(), c.Param("token")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type preferencesResponse struct {
	Username   string  `json:"username"`
	Color      string  `json:"color"`
	ThemeColor *string `json:"theme_color"`
}

// handleGetPreferences serves a user's own preferences; admins may read
// anyone's.
func (h *httpHandler) handleGetPreferences(c *gin.Context) {
	target := c.Param("username")
	if !h.allowPreferenceAccess(c, target) {
		return
	}

	record, err := h.users.Preferences(c.Request.Context(), target)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preferencesResponse{
		Username:   record.Username,
		Color:      record.Color,
		ThemeColor: record.ThemeColor,
	})
}

type updatePreferencesRequest struct {
	Color      *string `json:"color"`
	ThemeColor *string `json:"theme_color"`
}

func (h *httpHandler) handleUpdatePreferences(c *gin.Context) {
	target := c.Param("username")
	if !h.allowPreferenceAccess(c, target) {
		return
	}

	var request updatePreferencesRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.users.UpdatePreferences(c.Request.Context(), target, request.Color, request.ThemeColor); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) allowPreferenceAccess(c *gin.Context, target string) bool {
	username := c.GetString(usernameContextKey)
	if target == username {
		return true
	}
	isAdmin, err := h.users.IsAdmin(c.Request.Context(), username)
	if err != nil {
		h.respondError(c, err)
		return false
	}
	if !isAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

func (h *httpHandler) handleAllColors(c *gin.Context) {
	colors, err := h.users.AllColors(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, colors)
}
