package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the dice game server.
//
// Naming convention: namespace_subsystem_name
// - namespace: dicehall (application-level grouping)
// - subsystem: websocket, room, lobby, alarm, ai (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, seated players)
// - Counter: Cumulative events (commands processed, alarm fires, errors)
// - Histogram: Latency distributions (command processing time)

var (
	// ActiveWebSocketConnections tracks the current number of open sockets
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dicehall",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live room actors
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dicehall",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomPlayers tracks the seated-player count per room
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dicehall",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of seated players in each room",
	}, []string{"room_code"})

	// Commands tracks the total number of WebSocket commands processed
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicehall",
		Subsystem: "websocket",
		Name:      "commands_total",
		Help:      "Total WebSocket commands processed",
	}, []string{"command", "status"})

	// CommandDuration tracks time spent processing commands
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dicehall",
		Subsystem: "websocket",
		Name:      "command_processing_seconds",
		Help:      "Time spent processing WebSocket commands",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	// AlarmFires counts alarm handler invocations by type
	AlarmFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicehall",
		Subsystem: "alarm",
		Name:      "fires_total",
		Help:      "Total alarm fires by alarm type",
	}, []string{"type"})

	// AIRecoveries counts AI watchdog recoveries (retries and forced moves)
	AIRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicehall",
		Subsystem: "ai",
		Name:      "recoveries_total",
		Help:      "AI turn watchdog recoveries by outcome",
	}, []string{"outcome"})

	// LobbyOnlineUsers tracks unique online users in the lobby
	LobbyOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dicehall",
		Subsystem: "lobby",
		Name:      "online_users",
		Help:      "Unique users currently connected to the lobby",
	})

	// RateLimitExceeded counts rejected requests by limit type
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicehall",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Requests rejected by rate limiting",
	}, []string{"scope"})

	// CircuitBreakerState reflects the storage circuit breaker (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dicehall",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Storage circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
