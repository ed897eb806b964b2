package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/choraleia/plugbot/pkg/config"
	"github.com/choraleia/plugbot/pkg/event"
	"github.com/choraleia/plugbot/pkg/handler"
	"github.com/choraleia/plugbot/pkg/models"
	"github.com/choraleia/plugbot/pkg/service"
	"github.com/choraleia/plugbot/pkg/utils"
	"github.com/gin-gonic/gin"
)

// Services bundles what the HTTP layer needs.
type Services struct {
	Plugins  *service.PluginService
	Chatbots *service.ChatbotService
	Chat     *service.ChatService
	Emitter  *event.Emitter
}

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	services  *Services
	logger    *slog.Logger
	port      int
	stopped   chan struct{}
}

func NewServer(cfg *config.AppConfig, services *Services) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow common localhost origins only.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			if !isLocalOrigin(origin) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		services:  services,
		logger:    utils.GetLogger(),
		stopped:   make(chan struct{}),
	}

	server.SetupRoutes()

	return server
}

func isLocalOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) SetupRoutes() {
	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api", handler.AuthMiddleware([]byte(s.cfg.Auth.JWTSecret)))

	// Runtime info for clients to discover base URLs
	apiGroup.GET("/runtime", func(c *gin.Context) {
		host := net.JoinHostPort(s.cfg.Host(), strconv.Itoa(s.port))
		c.JSON(http.StatusOK, models.RuntimeInfo{
			HTTPBaseURL:  "http://" + host,
			EventsURL:    "ws://" + host + "/api/events/ws",
			Port:         s.port,
			AuthRequired: s.cfg.Auth.JWTSecret != "",
		})
	})

	handler.NewPluginHandler(s.services.Plugins, s.logger).RegisterRoutes(apiGroup)
	handler.NewChatbotHandler(s.services.Chatbots, s.services.Chat, s.logger).RegisterRoutes(apiGroup)
	handler.NewConversationHandler(s.services.Chat, s.logger).RegisterRoutes(apiGroup)

	// Event push
	// /api/events/ws
	apiGroup.GET("/events/ws", event.NewWSHandler(s.services.Emitter).Handle)
}

// Start listens on the configured address and serves until ctx is done.
// It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host(), strconv.Itoa(s.cfg.Port()))
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = s.cfg.Port()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Listen for context cancellation for graceful shutdown
	go func() {
		defer close(s.stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Server shutdown incomplete", "error", err)
		}
	}()

	// Non-blocking: if startup fails immediately return error; otherwise return nil to let main continue
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	s.logger.Info("Server listening", "addr", ln.Addr().String())
	return nil
}

// Wait blocks until the server started by Start has finished draining
// in-flight requests after its context was cancelled.
func (s *Server) Wait() {
	<-s.stopped
}
