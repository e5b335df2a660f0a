package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/portside-labs/minichat/backend/internal/auth"
	"go.uber.org/zap"
)

type registerBeginPayload struct {
	Challenge string `json:"challenge"`
}

func (h *httpHandler) handleRegisterBegin(c *gin.Context) {
	challenge, err := h.auth.BeginRegistration(c.Request.Context(), c.Query("invite"))
	if err != nil {
		h.respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, registerBeginPayload{Challenge: challenge})
}

type registerCompleteRequest struct {
	Username     string `json:"username" binding:"required"`
	CredentialID string `json:"credential_id" binding:"required"`
	PublicKey    string `json:"public_key" binding:"required"`
	Challenge    string `json:"challenge" binding:"required"`
	InviteToken  string `json:"invite_token"`
}

type registerCompleteResponse struct {
	Status       string `json:"status"`
	ApprovalCode string `json:"approval_code,omitempty"`
}

func (h *httpHandler) handleRegisterComplete(c *gin.Context) {
	var request registerCompleteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.auth.CompleteRegistration(c.Request.Context(), auth.CompleteRegistrationRequest{
		Username:     request.Username,
		CredentialID: request.CredentialID,
		PublicKey:    request.PublicKey,
		Challenge:    request.Challenge,
		InviteToken:  request.InviteToken,
	})
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, registerCompleteResponse{
		Status:       string(outcome.Status),
		ApprovalCode: outcome.ApprovalCode,
	})
}

func (h *httpHandler) handleLoginBegin(c *gin.Context) {
	challenge, err := h.auth.BeginLogin(c.Request.Context())
	if err != nil {
		h.logger.Error("login begin failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, registerBeginPayload{Challenge: challenge})
}

type loginCompleteRequest struct {
	CredentialID string `json:"credential_id" binding:"required"`
	Challenge    string `json:"challenge" binding:"required"`
}

type loginCompleteResponse struct {
	Status       string `json:"status"`
	SessionToken string `json:"session_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Username     string `json:"username"`
	Role         string `json:"role"`
}

func (h *httpHandler) handleLoginComplete(c *gin.Context) {
	var request loginCompleteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session, err := h.auth.CompleteLogin(c.Request.Context(), request.CredentialID, request.Challenge)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginCompleteResponse{
		Status:       "ok",
		SessionToken: session.Token,
		ExpiresIn:    session.ExpiresIn,
		Username:     session.Username,
		Role:         session.Role,
	})
}

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
}

func (h *httpHandler) handleSession(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if !strings.HasPrefix(header, "Bearer ") || token == "" {
		c.JSON(http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	username, err := h.auth.ResolveIdentity(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	record, err := h.users.Lookup(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	c.JSON(http.StatusOK, sessionResponse{
		Authenticated: true,
		Username:      record.Username,
		Role:          string(record.Role),
	})
}

func (h *httpHandler) respondAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrRegistrationClosed), errors.Is(err, auth.ErrInviteRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": "registration_unavailable"})
	case errors.Is(err, auth.ErrInvalidChallenge):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_challenge"})
	case errors.Is(err, auth.ErrUsernameTaken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "username_taken"})
	case errors.Is(err, auth.ErrUnknownCredential):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_credential"})
	default:
		h.logger.Error("auth request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
