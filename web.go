package gloaming

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/murkandloam/the-gloaming-sub000/internal/bridge"
	"github.com/murkandloam/the-gloaming-sub000/internal/logging"
)

type loadRequest struct {
	TrackID string `json:"trackId" binding:"required"`
	Path    string `json:"path" binding:"required"`
}

type seekRequest struct {
	Position float64 `json:"position"`
}

type volumeRequest struct {
	Level float64 `json:"level"`
}

type lookaheadRequest struct {
	Seconds float64 `json:"seconds"`
}

// NewRouter builds the host HTTP surface over the playback bridge: the
// command endpoints, the status/snapshot endpoint, the websocket event
// stream, and Prometheus metrics.
func NewRouter(b *bridge.Bridge) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/playback/status", handleStatus(b))
	r.GET("/ws", handleEventsWebsocket(b))

	pb := r.Group("/api/playback")
	pb.POST("/load", func(c *gin.Context) {
		var req loadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		replyCommand(c, b.Controller.Load(req.TrackID, req.Path))
	})
	pb.POST("/preload", func(c *gin.Context) {
		var req loadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		replyCommand(c, b.Controller.Preload(req.TrackID, req.Path))
	})
	pb.POST("/play", func(c *gin.Context) { replyCommand(c, b.Controller.Play()) })
	pb.POST("/pause", func(c *gin.Context) { replyCommand(c, b.Controller.Pause()) })
	pb.POST("/stop", func(c *gin.Context) { replyCommand(c, b.Controller.Stop()) })
	pb.POST("/next", func(c *gin.Context) { replyCommand(c, b.Controller.SkipToPreloaded()) })
	pb.POST("/seek", func(c *gin.Context) {
		var req seekRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		replyCommand(c, b.Controller.Seek(req.Position))
	})
	pb.POST("/volume", func(c *gin.Context) {
		var req volumeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		replyCommand(c, b.Controller.SetVolume(req.Level))
	})
	pb.POST("/lookahead", func(c *gin.Context) {
		var req lookaheadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		replyCommand(c, b.Controller.SetSpectrumLookahead(req.Seconds))
	})

	return r
}

// replyCommand maps a fire-and-forget command result to an HTTP status.
// 202 means the command reached the engine; outcomes arrive as events.
func replyCommand(c *gin.Context, err error) {
	switch err {
	case nil:
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
	case bridge.ErrEngineNotReady, bridge.ErrEngineNotRunning:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func handleStatus(b *bridge.Bridge) gin.HandlerFunc {
	return func(c *gin.Context) {
		exitCode, exitTime := b.Supervisor.LastExitInfo()
		resp := gin.H{
			"engineRunning": b.Supervisor.IsRunning(),
			"engineReady":   b.Supervisor.IsReady(),
			"playback":      b.Broadcaster.Snapshot(),
		}
		if !exitTime.IsZero() {
			resp["lastExitCode"] = exitCode
			resp["lastExitTime"] = exitTime
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleEventsWebsocket upgrades the connection and subscribes it to the
// playback event stream. The read loop only watches for close; clients
// issue commands over the REST endpoints, not the socket.
func handleEventsWebsocket(b *bridge.Bridge) gin.HandlerFunc {
	return func(c *gin.Context) {
		wsLogger := logging.GetSubsystemLogger("websocket")

		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			wsLogger.Warn().Err(err).Msg("websocket accept failed")
			return
		}

		connectionID := uuid.New().String()
		scopedLogger := wsLogger.With().Str("connectionID", connectionID).Logger()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		b.Broadcaster.Subscribe(connectionID, conn, ctx, &scopedLogger)
		defer b.Broadcaster.Unsubscribe(connectionID)

		for {
			if _, _, err := conn.Read(ctx); err != nil {
				scopedLogger.Debug().Err(err).Msg("websocket closed")
				_ = conn.CloseNow()
				return
			}
		}
	}
}
