// Package server exposes a chat session over HTTP and a websocket.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-go-golems/persona/pkg/events"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

// Server routes every request through a session.Loop, which owns the
// Manager. Transcript events are read from the router for /ws clients.
type Server struct {
	loop     *session.Loop
	router   *events.EventRouter
	upgrader websocket.Upgrader

	pingInterval time.Duration
	writeTimeout time.Duration
}

func New(loop *session.Loop, router *events.EventRouter) *Server {
	return &Server{
		loop:   loop,
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		pingInterval: 30 * time.Second,
		writeTimeout: 10 * time.Second,
	}
}

// Echo builds the echo instance with all routes registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	}))

	s.RegisterRoutes(e)
	return e
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api")
	api.GET("/transcript", s.GetTranscript)
	api.GET("/status", s.GetStatus)
	api.POST("/messages", s.PostMessage)

	api.GET("/characters", s.ListCharacters)
	api.POST("/characters", s.CreateCharacter)
	api.POST("/characters/:id/bind", s.BindCharacter)

	api.GET("/chats", s.ListChats)
	api.POST("/chats", s.SaveChat)
	api.POST("/chats/:id/restore", s.RestoreChat)

	api.PUT("/system-prompt", s.UpdateSystemPrompt)
	api.PUT("/opening-message", s.UpdateOpeningMessage)

	e.GET("/ws", s.HandleWebSocket)
}

// Serve listens on address until ctx ends.
func (s *Server) Serve(ctx context.Context, address string) error {
	e := s.Echo()

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("address", address).Msg("Serving persona API")
		errc <- e.Start(address)
	}()

	select {
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Could not shut down HTTP server cleanly")
		}
		return nil
	}
}
