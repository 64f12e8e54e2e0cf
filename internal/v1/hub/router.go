package hub

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dicehall/dicehall/internal/v1/health"
	"github.com/dicehall/dicehall/internal/v1/middleware"
	"github.com/dicehall/dicehall/internal/v1/room"
)

// Router assembles the HTTP surface: the two WebSocket endpoints, probes,
// metrics, and the dev-only debug group.
func (h *Hub) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Correlation())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = h.allowedOrigins
	router.Use(cors.New(corsConfig))

	router.GET("/room/:code", h.ServeRoom)
	router.GET("/room/:code/info", h.serveRoomInfo)
	router.GET("/lobby", h.ServeLobby)

	router.GET("/info", h.serveInfo)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(h.store)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	if h.devMode {
		debug := router.Group("/_debug")
		debug.GET("/rooms", h.debugListRooms)
		debug.GET("/rooms/:code", h.debugInspectRoom)
		debug.DELETE("/rooms/:code", h.debugDeleteRoom)
	}

	return router
}

func (h *Hub) serveInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":      "dicehall",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"liveRooms": h.RoomCount(),
	})
}

// serveRoomInfo returns the public view of a room, live or dormant, without
// an upgrade. Used by join pages to preview a room before connecting.
func (h *Hub) serveRoomInfo(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	if !codePattern.MatchString(code) {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid room code"})
		return
	}

	var st room.State
	found, err := h.store.Actor("room:"+code).GetJSON(c.Request.Context(), "room", &st)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":            code,
		"status":          st.Status,
		"playerCount":     len(st.PlayerOrder) + len(st.AIPlayers),
		"maxPlayers":      st.Settings.MaxPlayers,
		"isPublic":        st.Settings.IsPublic,
		"allowSpectators": st.Settings.AllowSpectators,
		"identity":        st.Identity,
	})
}

// debugListRooms lists the actors currently in memory.
func (h *Hub) debugListRooms(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms := make([]gin.H, 0, len(h.rooms))
	for code, r := range h.rooms {
		rooms = append(rooms, gin.H{
			"code":        code,
			"connections": r.Registry().Len(),
			"idle":        r.Idle(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// debugInspectRoom dumps a room's persisted keys, live or dormant.
func (h *Hub) debugInspectRoom(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	if !codePattern.MatchString(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room code"})
		return
	}

	kv := h.store.Actor("room:" + code)
	keys, err := kv.Keys(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	storage := gin.H{}
	for _, key := range keys {
		var raw json.RawMessage
		if found, err := kv.GetJSON(c.Request.Context(), key, &raw); err == nil && found {
			storage[key] = raw
		}
	}

	_, live := h.liveRoom(code)
	c.JSON(http.StatusOK, gin.H{
		"code":    code,
		"live":    live,
		"storage": storage,
	})
}

// debugDeleteRoom force-closes a room and wipes its storage.
func (h *Hub) debugDeleteRoom(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	if !codePattern.MatchString(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room code"})
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[code]
	if ok {
		delete(h.rooms, code)
	}
	if timer, hasTimer := h.evictions[code]; hasTimer {
		timer.Stop()
		delete(h.evictions, code)
	}
	h.mu.Unlock()

	if ok {
		r.Close()
	}
	if err := h.store.Actor("room:" + code).Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.lobby.RemoveRoom(code)

	c.JSON(http.StatusOK, gin.H{"deleted": code, "wasLive": ok})
}
