package backend

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Waito3007/SHNGear-sub002/internal/auth"
	"github.com/Waito3007/SHNGear-sub002/internal/config"
	"github.com/Waito3007/SHNGear-sub002/internal/constants"
	"github.com/Waito3007/SHNGear-sub002/internal/message"
	"github.com/Waito3007/SHNGear-sub002/internal/rest"
	"github.com/Waito3007/SHNGear-sub002/internal/util"
)

// Router exposes the chat backend over HTTP: the REST surface under the
// path prefix, the websocket endpoint, health probes and metrics.
type Router struct {
	service   *Service
	hub       *Hub
	validator *auth.JWTValidator
	logger    zerolog.Logger
	cfg       config.ServerConfig
	upgrader  websocket.Upgrader
}

// NewRouter creates the HTTP layer over service and hub.
func NewRouter(service *Service, hub *Hub, cfg config.ServerConfig, logger zerolog.Logger) *Router {
	r := &Router{
		service:   service,
		hub:       hub,
		validator: auth.NewJWTValidator(cfg.JWTSecret),
		logger:    logger.With().Str("component", "router").Logger(),
		cfg:       cfg,
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

// Handler builds the gin engine with all routes mounted.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(r.cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = r.cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsCfg))

	engine.GET("/healthz", r.health)
	engine.GET("/readyz", r.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	prefix := r.cfg.PathPrefix
	if prefix == "" {
		prefix = constants.DefaultPathPrefix
	}
	chat := engine.Group(prefix)
	{
		chat.POST("/session", r.createSession)
		chat.POST("/message", r.postMessage)
		chat.POST("/:sessionId/escalate", r.escalate)
		// History is open to the visitor resuming a session; knowing the
		// session id is the capability.
		chat.GET("/session/:sessionId/messages", r.sessionMessages)
		chat.GET("/ws", r.websocketHandler)

		admin := chat.Group("", r.requireAgent())
		{
			admin.GET("/active-sessions", r.activeSessions)
		}
	}

	return engine
}

func (r *Router) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (r *Router) createSession(c *gin.Context) {
	var req rest.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.GuestName) > constants.MaxGuestNameLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guest name too long"})
		return
	}
	if len(req.GuestEmail) > constants.MaxGuestEmailLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guest email too long"})
		return
	}

	// A known session id means the visitor is resuming; hand back the
	// existing session with its transcript instead of minting a new one.
	if req.SessionID != "" {
		if sess, ok := r.service.Session(req.SessionID); ok {
			history, _ := r.service.SessionMessages(sess.ID)
			if len(history) > constants.DefaultHistoryLimit {
				history = history[len(history)-constants.DefaultHistoryLimit:]
			}
			c.JSON(http.StatusOK, rest.CreateSessionResponse{
				SessionID:  sess.ID,
				GuestName:  sess.GuestName,
				GuestEmail: sess.GuestEmail,
				CreatedAt:  sess.CreatedAt,
				Messages:   history,
			})
			return
		}
	}

	sess := r.service.CreateSession(req.GuestName, req.GuestEmail)
	c.JSON(http.StatusCreated, rest.CreateSessionResponse{
		SessionID:  sess.ID,
		GuestName:  sess.GuestName,
		GuestEmail: sess.GuestEmail,
		CreatedAt:  sess.CreatedAt,
		Messages:   []message.Message{},
	})
}

func (r *Router) postMessage(c *gin.Context) {
	var req rest.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	// Admin-authored messages require an agent token; anything else posts
	// as the visitor.
	sender := req.Sender
	if sender == "" {
		sender = message.SenderUser
	}
	if sender == message.SenderAdmin && r.agentClaims(c) == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "agent token required"})
		return
	}

	stored, err := r.service.PostMessage(message.Message{
		TempID:    req.TempID,
		SessionID: req.SessionID,
		Sender:    sender,
		Content:   req.Content,
	}, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if sender == message.SenderUser {
		r.service.store.SetGuest(req.SessionID, req.GuestName, req.GuestEmail)
	}
	c.JSON(http.StatusCreated, stored)
}

func (r *Router) escalate(c *gin.Context) {
	sessionID := c.Param("sessionId")
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Reason) > constants.MaxReasonLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason too long"})
		return
	}

	if err := r.service.Escalate(sessionID, req.Reason); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "escalated"})
}

func (r *Router) activeSessions(c *gin.Context) {
	sessions := r.service.ActiveSessions()
	summaries := make([]rest.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, rest.SessionSummary{
			SessionID:    s.ID,
			GuestName:    s.GuestName,
			GuestEmail:   s.GuestEmail,
			LastMessage:  s.LastMessage,
			LastActivity: s.LastActivity,
			Escalated:    s.Escalated,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": summaries})
}

func (r *Router) sessionMessages(c *gin.Context) {
	sessionID := c.Param("sessionId")
	history, ok := r.service.SessionMessages(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	if len(history) > constants.DefaultHistoryLimit {
		history = history[len(history)-constants.DefaultHistoryLimit:]
	}
	c.JSON(http.StatusOK, gin.H{"messages": history})
}

// websocketHandler upgrades the connection and runs the client until it
// drops. A bearer token is optional; when present and valid its claims
// unlock agent capabilities on the connection.
func (r *Router) websocketHandler(c *gin.Context) {
	claims := r.bearerClaims(c)

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.LogError(r.logger, "router", "upgrade websocket", err)
		return
	}

	client := NewClient(r.hub, r.service, conn, uuid.NewString(), claims)
	client.Run()
}

// requireAgent gates admin endpoints behind a valid agent bearer token.
func (r *Router) requireAgent() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.agentClaims(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent token required"})
			return
		}
		c.Next()
	}
}

func (r *Router) agentClaims(c *gin.Context) *auth.Claims {
	claims := r.bearerClaims(c)
	if claims == nil {
		return nil
	}
	if !claims.HasRole(constants.RoleAdmin) && !claims.HasRole(constants.RoleChatAgent) {
		return nil
	}
	return claims
}

func (r *Router) bearerClaims(c *gin.Context) *auth.Claims {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return nil
	}

	claims, err := r.validator.ValidateToken(token)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Rejected bearer token")
		return nil
	}
	return claims
}

func (r *Router) checkOrigin(req *http.Request) bool {
	if len(r.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range r.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
