package hub

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dicehall/dicehall/internal/v1/auth"
	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/metrics"
	"github.com/dicehall/dicehall/internal/v1/transport"
)

// tokenExtractionResult holds the result of token extraction.
type tokenExtractionResult struct {
	Token                  string
	FromHeader             bool
	HasAccessTokenProtocol bool
}

// extractToken pulls the JWT from the Sec-WebSocket-Protocol header or the
// token query param. Browsers cannot set arbitrary headers on WebSocket
// upgrades, so the subprotocol smuggle is the primary path.
func (h *Hub) extractToken(c *gin.Context) (*tokenExtractionResult, error) {
	result := &tokenExtractionResult{}

	headerVal := c.GetHeader("Sec-WebSocket-Protocol")
	if headerVal != "" {
		for _, p := range strings.Split(headerVal, ",") {
			p = strings.TrimSpace(p)
			if p == "access_token" {
				result.HasAccessTokenProtocol = true
				continue
			}
			if p != "" && result.Token == "" {
				result.Token = p
				result.FromHeader = true
			}
		}
	}
	if result.Token == "" {
		result.Token = c.Query("token")
	}
	if result.Token == "" {
		return nil, fmt.Errorf("token not provided")
	}
	return result, nil
}

// validateOrigin checks if the request origin is in the allowed list.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients carry no origin.
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}
	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	logging.Warn(r.Context(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowed_origins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// upgrade performs the WebSocket handshake, echoing the subprotocol when the
// token arrived that way.
func (h *Hub) upgrade(c *gin.Context, tok *tokenExtractionResult) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	responseHeader := http.Header{}
	if tok.FromHeader {
		if tok.HasAccessTokenProtocol {
			responseHeader.Set("Sec-WebSocket-Protocol", "access_token")
		} else {
			responseHeader.Set("Sec-WebSocket-Protocol", tok.Token)
		}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, responseHeader)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return ws, nil
}

// authenticate verifies the request's token and maps failures to HTTP status.
// Writes the error response itself and returns nil on failure.
func (h *Hub) authenticate(c *gin.Context) *auth.Claims {
	tok, err := h.extractToken(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
		return nil
	}
	claims, err := h.verifier.VerifyToken(tok.Token)
	if err != nil {
		switch auth.CodeOf(err) {
		case auth.CodeJWKSError:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "key verification unavailable"})
		case auth.CodeExpired:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
		default:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		}
		return nil
	}
	c.Set("tokenResult", tok)
	return claims
}

func (h *Hub) allowConnect(c *gin.Context) bool {
	if h.devMode || h.connLimit == nil {
		return true
	}
	if h.connLimit.Allow(c.Request.Context(), c.ClientIP()) {
		return true
	}
	metrics.RateLimitExceeded.WithLabelValues("ws_connect").Inc()
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
	return false
}

// ServeRoom authenticates, upgrades, and binds the socket to its room actor.
// GET /room/:code?role=player|spectator&username=...
func (h *Hub) ServeRoom(c *gin.Context) {
	if !h.allowConnect(c) {
		return
	}

	code := strings.ToUpper(c.Param("code"))
	if !codePattern.MatchString(code) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid room code"})
		return
	}
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "websocket upgrade required"})
		return
	}

	claims := h.authenticate(c)
	if claims == nil {
		return
	}
	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	role := transport.RolePlayer
	if c.Query("role") == transport.RoleSpectator {
		role = transport.RoleSpectator
	}

	r := h.GetOrCreateRoom(code)
	if role == transport.RoleSpectator && !r.AllowsSpectators() {
		c.JSON(http.StatusForbidden, gin.H{"error": "spectators are disabled for this room"})
		return
	}

	ws, err := h.upgrade(c, c.MustGet("tokenResult").(*tokenExtractionResult))
	if err != nil {
		return
	}

	att := h.buildAttachment(c, claims, role)
	conn := transport.NewConn(ws, transport.RoomTags(att.UserID, code, role), att)

	r.OnConnect(conn)
	conn.Run(
		func(data []byte) { r.HandleMessage(conn, data) },
		func() {
			r.OnClose(conn)
			if r.Registry().Len() == 0 {
				h.scheduleEviction(code)
			}
		},
	)
}

// ServeLobby authenticates, upgrades, and binds the socket to the lobby.
// GET /lobby?username=...
func (h *Hub) ServeLobby(c *gin.Context) {
	if !h.allowConnect(c) {
		return
	}
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "websocket upgrade required"})
		return
	}
	claims := h.authenticate(c)
	if claims == nil {
		return
	}
	if err := validateOrigin(c.Request, h.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	ws, err := h.upgrade(c, c.MustGet("tokenResult").(*tokenExtractionResult))
	if err != nil {
		return
	}

	att := h.buildAttachment(c, claims, "")
	conn := transport.NewConn(ws, []string{transport.UserTag(att.UserID)}, att)

	h.lobby.OnConnect(conn)
	conn.Run(
		func(data []byte) { h.lobby.HandleMessage(conn, data) },
		func() { h.lobby.OnClose(conn) },
	)
}

func (h *Hub) buildAttachment(c *gin.Context, claims *auth.Claims, role string) transport.Attachment {
	displayName := c.Query("username")
	if displayName == "" {
		displayName = claims.Name()
	}
	avatarSeed := claims.AvatarSeed
	if avatarSeed == "" {
		avatarSeed = claims.Subject
	}

	userID := claims.Subject
	if h.devMode && c.Query("username") != "" {
		// Dev mode uses the username as identity so one browser can simulate
		// several users.
		userID = c.Query("username")
	}

	return transport.Attachment{
		UserID:      userID,
		DisplayName: displayName,
		AvatarSeed:  avatarSeed,
		ConnectedAt: time.Now().UnixMilli(),
		Role:        role,
	}
}
