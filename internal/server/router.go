package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/auth"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/chat"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/identity"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/tenancy"
)

const (
	sessionContextKey = "chat_session"
	gymContextKey     = "chat_gym_id"
	gymHeader         = "X-Gym-ID"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingResolver         = errors.New("chat resolver dependency required")
	errMissingTokenService     = errors.New("chat token service dependency required")
	errMissingDatabase         = errors.New("database dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

type Dependencies struct {
	Sessions *auth.SessionValidator
	Resolver *chat.Resolver
	Tokens   *chat.TokenService
	Database *gorm.DB
	Logger   *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenService
	}
	if deps.Database == nil {
		return nil, errMissingDatabase
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", gymHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions: deps.Sessions,
		resolver: deps.Resolver,
		tokens:   deps.Tokens,
		db:       deps.Database,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/api/v1/chat")
	api.Use(handler.authorizeRequest)
	api.Use(handler.resolveGym)
	api.POST("/rooms/direct", handler.handleDirectRoom)
	api.POST("/rooms", handler.handleCreateRoom)
	api.GET("/rooms", handler.handleListRooms)
	api.POST("/rooms/:roomID/members", handler.handleAddMember)
	api.DELETE("/rooms/:roomID/members/:userID", handler.handleRemoveMember)
	api.POST("/events/:eventID/close", handler.handleCloseEvent)
	api.GET("/token", handler.handleIssueToken)

	return router, nil
}

type httpHandler struct {
	sessions *auth.SessionValidator
	resolver *chat.Resolver
	tokens   *chat.TokenService
	db       *gorm.DB
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	session, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if !errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	c.Set(sessionContextKey, session)
	c.Next()
}

func (h *httpHandler) resolveGym(c *gin.Context) {
	gymID, err := strconv.ParseInt(strings.TrimSpace(c.GetHeader(gymHeader)), 10, 64)
	if err != nil || gymID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_gym"})
		return
	}
	c.Set(gymContextKey, gymID)
	c.Next()
}

func sessionFrom(c *gin.Context) auth.Session {
	value, _ := c.Get(sessionContextKey)
	session, _ := value.(auth.Session)
	return session
}

func gymFrom(c *gin.Context) int64 {
	return c.GetInt64(gymContextKey)
}

type roomPayload struct {
	ID          uint      `json:"id"`
	ChannelID   string    `json:"channel_id"`
	ChannelType string    `json:"channel_type"`
	Name        string    `json:"name,omitempty"`
	IsDirect    bool      `json:"is_direct"`
	EventID     *int64    `json:"event_id,omitempty"`
	GymID       int64     `json:"gym_id"`
	CreatedBy   int64     `json:"created_by"`
	Status      string    `json:"status"`
	MemberIDs   []int64   `json:"member_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toRoomPayload(room chat.Room, memberIDs []int64) roomPayload {
	return roomPayload{
		ID:          room.ID,
		ChannelID:   room.ChannelID,
		ChannelType: room.ChannelType,
		Name:        room.Name,
		IsDirect:    room.IsDirect,
		EventID:     room.EventID,
		GymID:       room.GymID,
		CreatedBy:   room.CreatedBy,
		Status:      room.Status,
		MemberIDs:   memberIDs,
		CreatedAt:   room.CreatedAt,
	}
}

type directRoomPayload struct {
	UserID int64 `json:"user_id"`
}

func (h *httpHandler) handleDirectRoom(c *gin.Context) {
	var request directRoomPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.UserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session := sessionFrom(c)
	room, err := h.resolver.GetOrCreateDirectRoom(c.Request.Context(), session.UserID, request.UserID, gymFrom(c))
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRoomPayload(room, nil))
}

type createRoomPayload struct {
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"member_ids"`
	EventID   *int64  `json:"event_id"`
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	var request createRoomPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session := sessionFrom(c)
	room, err := h.resolver.GetOrCreateRoom(c.Request.Context(), chat.RoomRequest{
		CreatorID:     session.UserID,
		MemberIDs:     request.MemberIDs,
		Name:          request.Name,
		EventID:       request.EventID,
		RequestingGym: gymFrom(c),
	})
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRoomPayload(room, nil))
}

func (h *httpHandler) handleListRooms(c *gin.Context) {
	session := sessionFrom(c)
	summaries, err := h.resolver.ListVisibleRooms(c.Request.Context(), session.UserID, gymFrom(c))
	if err != nil {
		h.writeChatError(c, err)
		return
	}

	rooms := make([]roomPayload, 0, len(summaries))
	for _, summary := range summaries {
		rooms = append(rooms, toRoomPayload(summary.Room, summary.MemberIDs))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

type addMemberPayload struct {
	UserID int64 `json:"user_id"`
}

func (h *httpHandler) handleAddMember(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	var request addMemberPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.UserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.resolver.AddMember(c.Request.Context(), roomID, request.UserID); err != nil {
		h.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleRemoveMember(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.resolver.RemoveMember(c.Request.Context(), roomID, userID); err != nil {
		h.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type closeEventPayload struct {
	Notice string `json:"notice"`
}

func (h *httpHandler) handleCloseEvent(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Param("eventID"), 10, 64)
	if err != nil || eventID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	var request closeEventPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	if err := h.resolver.ArchiveEventRoom(c.Request.Context(), eventID, request.Notice); err != nil {
		h.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "archived"})
}

type tokenResponsePayload struct {
	Token      string    `json:"token"`
	ExternalID string    `json:"external_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	Stale      bool      `json:"stale"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	session := sessionFrom(c)
	token, err := h.tokens.IssueToken(c.Request.Context(), session.UserID, gymFrom(c))
	if err != nil {
		h.writeChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{
		Token:      token.Value,
		ExternalID: token.ExternalID,
		ExpiresAt:  token.ExpiresAt,
		Stale:      token.Stale,
	})
}

func roomIDParam(c *gin.Context) (uint, bool) {
	value, err := strconv.ParseUint(c.Param("roomID"), 10, 64)
	if err != nil || value == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return 0, false
	}
	return uint(value), true
}

// writeChatError translates the service error taxonomy into HTTP answers.
// Provider outages surface as 502 so callers can tell them apart from bad
// requests.
func (h *httpHandler) writeChatError(c *gin.Context, err error) {
	var creationErr *chat.ChannelCreationError
	var queryErr *chat.ChannelQueryError

	switch {
	case errors.Is(err, chat.ErrInvalidParticipants),
		errors.Is(err, chat.ErrInvalidEventID),
		errors.Is(err, identity.ErrMalformedIdentifier),
		errors.Is(err, tenancy.ErrInvalidUserID),
		errors.Is(err, tenancy.ErrInvalidGymID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, chat.ErrNoSharedTenant):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_shared_gym"})
	case errors.Is(err, chat.ErrRoomNotFound), errors.Is(err, tenancy.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, chat.ErrNotAMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_a_member"})
	case errors.Is(err, chat.ErrDirectRoomImmutable):
		c.JSON(http.StatusConflict, gin.H{"error": "direct_room_immutable"})
	case errors.Is(err, chat.ErrRoomArchived):
		c.JSON(http.StatusConflict, gin.H{"error": "room_archived"})
	case errors.Is(err, chat.ErrTokenIssuance):
		h.logger.Error("token issuance failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token_unavailable"})
	case errors.As(err, &creationErr), errors.As(err, &queryErr):
		h.logger.Error("provider operation failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_unavailable"})
	default:
		h.logger.Error("chat request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
