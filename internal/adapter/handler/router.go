package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/echonote/echonote/internal/infrastructure/connection"
	"github.com/echonote/echonote/pkg/config"
)

// Router holds all handlers
type Router struct {
	cfg            *config.Config
	sessionHandler *Session
	streamHandler  *Stream
	registry       *connection.Registry
	auth           echo.MiddlewareFunc
}

// NewRouter creates a new router with all handlers
func NewRouter(cfg *config.Config, sessionHandler *Session, streamHandler *Stream, registry *connection.Registry, auth echo.MiddlewareFunc) *Router {
	return &Router{
		cfg:            cfg,
		sessionHandler: sessionHandler,
		streamHandler:  streamHandler,
		registry:       registry,
		auth:           auth,
	}
}

// Setup configures all application routes
func (rt *Router) Setup(e *echo.Echo) {
	// Health check endpoint
	e.GET("/health", rt.healthCheck)
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	var protected []echo.MiddlewareFunc
	if rt.auth != nil {
		protected = append(protected, rt.auth)
	}

	// Live audio socket
	e.GET("/ws/:client_id", rt.orNotImplemented(rt.streamHandler != nil, func(c echo.Context) error {
		return rt.streamHandler.Handle(c)
	}), protected...)

	// API v1 group
	v1 := e.Group("/v1", protected...)
	rt.setupSessionRoutes(v1)
}

// setupSessionRoutes configures session history routes
func (rt *Router) setupSessionRoutes(g *echo.Group) {
	sessions := g.Group("/sessions")

	if rt.sessionHandler != nil {
		sessions.GET("/recent", rt.sessionHandler.ListRecent)
		sessions.GET("/:id", rt.sessionHandler.GetSession)
		sessions.GET("/:id/transcript", rt.sessionHandler.GetTranscript)
		sessions.GET("/:id/audios", rt.sessionHandler.ListAudio)
		sessions.GET("/:id/audio/stream", rt.sessionHandler.StreamAudio)
	} else {
		// Placeholder routes when handler is not initialized
		sessions.GET("/recent", rt.notImplemented)
		sessions.GET("/:id", rt.notImplemented)
		sessions.GET("/:id/transcript", rt.notImplemented)
		sessions.GET("/:id/audios", rt.notImplemented)
		sessions.GET("/:id/audio/stream", rt.notImplemented)
	}
}

func (rt *Router) orNotImplemented(ready bool, h echo.HandlerFunc) echo.HandlerFunc {
	if !ready {
		return rt.notImplemented
	}
	return h
}

// notImplemented returns 501 Not Implemented response
func (rt *Router) notImplemented(c echo.Context) error {
	return c.JSON(http.StatusNotImplemented, map[string]interface{}{
		"error":   "This endpoint is not yet implemented",
		"path":    c.Request().URL.Path,
		"method":  c.Request().Method,
		"message": "Please initialize the required handler in main.go",
	})
}

// healthCheck returns health status
func (rt *Router) healthCheck(c echo.Context) error {
	env := ""
	if rt.cfg != nil {
		env = rt.cfg.Server.Environment
	}
	connections := 0
	if rt.registry != nil {
		connections = rt.registry.Len()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"environment": env,
		"connections": connections,
	})
}
