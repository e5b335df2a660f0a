package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/portside-labs/minichat/backend/internal/admin"
	"github.com/portside-labs/minichat/backend/internal/auth"
	"github.com/portside-labs/minichat/backend/internal/messages"
	"github.com/portside-labs/minichat/backend/internal/rooms"
	"github.com/portside-labs/minichat/backend/internal/users"
	"go.uber.org/zap"
)

const usernameContextKey = "minichat_username"

var (
	errMissingAuthService   = errors.New("auth service dependency required")
	errMissingRoomService   = errors.New("room service dependency required")
	errMissingMessageStore  = errors.New("message store dependency required")
	errMissingUserService   = errors.New("user service dependency required")
	errMissingAdminService  = errors.New("admin service dependency required")
	errMissingBroadcaster   = errors.New("broadcaster dependency required")
	errMissingSubscriptions = errors.New("list subscriptions dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Dependencies collects the collaborators behind the HTTP and websocket
// surface.
type Dependencies struct {
	Auth          *auth.Service
	Rooms         *rooms.Service
	Messages      *messages.Store
	Users         *users.Service
	Admin         *admin.Service
	Broadcaster   *rooms.Broadcaster
	Subscriptions *rooms.ListSubscriptions
	Logger        *zap.Logger
}

// NewHTTPHandler wires the full API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Auth == nil {
		return nil, errMissingAuthService
	}
	if deps.Rooms == nil {
		return nil, errMissingRoomService
	}
	if deps.Messages == nil {
		return nil, errMissingMessageStore
	}
	if deps.Users == nil {
		return nil, errMissingUserService
	}
	if deps.Admin == nil {
		return nil, errMissingAdminService
	}
	if deps.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}
	if deps.Subscriptions == nil {
		return nil, errMissingSubscriptions
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		auth:          deps.Auth,
		rooms:         deps.Rooms,
		messages:      deps.Messages,
		users:         deps.Users,
		admin:         deps.Admin,
		broadcaster:   deps.Broadcaster,
		subscriptions: deps.Subscriptions,
		sessions: rooms.NewSessionHandler(rooms.SessionHandlerConfig{
			Rooms:       deps.Rooms,
			Identity:    deps.Auth,
			Log:         deps.Messages,
			Broadcaster: deps.Broadcaster,
			Logger:      logger,
		}),
		logger: logger,
	}

	api := router.Group("/api")

	api.GET("/auth/register/begin", handler.handleRegisterBegin)
	api.POST("/auth/register/complete", handler.handleRegisterComplete)
	api.GET("/auth/login/begin", handler.handleLoginBegin)
	api.POST("/auth/login/complete", handler.handleLoginComplete)
	api.GET("/auth/session", handler.handleSession)

	// Websocket upgrades authenticate through a token query parameter; the
	// browser handshake cannot carry arbitrary headers.
	api.GET("/rooms/ws", handler.handleRoomListSocket)
	api.GET("/rooms/:room_id/ws", handler.handleRoomSocket)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	{
		protected.GET("/rooms", handler.handleRoomList)
		protected.POST("/rooms", handler.handleRoomCreate)
		protected.POST("/rooms/dm", handler.handleDMCreate)
		protected.GET("/rooms/:room_id/messages", handler.handleRoomMessages)
		protected.POST("/rooms/:room_id/messages", handler.handleRoomMessagePost)
		protected.GET("/messages", handler.handleMessageSearch)
		protected.GET("/users/preferences/colors", handler.handleAllColors)
		protected.GET("/users/:username/preferences", handler.handleGetPreferences)
		protected.PUT("/users/:username/preferences", handler.handleUpdatePreferences)
	}

	adminOnly := api.Group("/")
	adminOnly.Use(handler.authorizeRequest, handler.requireAdmin)
	{
		adminOnly.DELETE("/rooms/:room_id", handler.handleRoomDelete)
		adminOnly.GET("/users", handler.handleUserList)
		adminOnly.GET("/users/pending", handler.handlePendingUsers)
		adminOnly.POST("/users/pending/approve", handler.handleApproveUser)
		adminOnly.POST("/users/pending/reject", handler.handleRejectUser)
		adminOnly.DELETE("/users/:username", handler.handleRevokeUser)
		adminOnly.PUT("/users/:username/role", handler.handleSetRole)
		adminOnly.GET("/server", handler.handleServerStatus)
		adminOnly.PUT("/server/registration", handler.handleSetRegistrationMode)
		adminOnly.GET("/server/invites", handler.handleListInvites)
		adminOnly.POST("/server/invites", handler.handleCreateInvite)
		adminOnly.DELETE("/server/invites/:token", handler.handleDeleteInvite)
	}

	return router, nil
}

type httpHandler struct {
	auth          *auth.Service
	rooms         *rooms.Service
	messages      *messages.Store
	users         *users.Service
	admin         *admin.Service
	broadcaster   *rooms.Broadcaster
	subscriptions *rooms.ListSubscriptions
	sessions      *rooms.SessionHandler
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	username, err := h.auth.ResolveIdentity(c.Request.Context(), token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(usernameContextKey, username)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	username := c.GetString(usernameContextKey)
	isAdmin, err := h.users.IsAdmin(c.Request.Context(), username)
	if err != nil {
		h.logger.Error("admin lookup failed", zap.String("username", username), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "admin_lookup_failed"})
		return
	}
	if !isAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}
	c.Next()
}

// respondError maps the room/user error taxonomy onto HTTP statuses.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rooms.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, rooms.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, rooms.ErrNotFound), errors.Is(err, users.ErrNotFound), errors.Is(err, admin.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, rooms.ErrAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_exists"})
	case errors.Is(err, rooms.ErrInvalidRequest), errors.Is(err, users.ErrInvalidRole), errors.Is(err, admin.ErrInvalidMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, users.ErrLastAdmin):
		c.JSON(http.StatusBadRequest, gin.H{"error": "last_admin"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func parseInt64Query(c *gin.Context, name string, fallback int64) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", rooms.ErrInvalidRequest, name)
	}
	return value, nil
}

func parseIntQuery(c *gin.Context, name string, fallback int) (int, error) {
	value, err := parseInt64Query(c, name, int64(fallback))
	return int(value), err
}
