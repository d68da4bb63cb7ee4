package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/config"
	"github.com/snacka/presence/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func clientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func setupRouter(ctx context.Context, cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PresenceSessions", store))
	r.Use(clientTokenMiddleware())

	api := r.Group("/api")
	api.GET("/ws/gateway", func(c *gin.Context) {
		handleGateway(ctx, cfg, hub, c)
	})

	return r
}

func handleGateway(ctx context.Context, cfg *config.Config, hub *Hub, c *gin.Context) {
	user := domain.UserID(c.Query("user"))
	if user == "" {
		user = domain.UserID(c.GetString("client_token"))
	}
	log.Info().Str("module", "gateway").Str("user", string(user)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(cfg.ReadLimit)

	cl := &wsClient{
		user: user,
		conn: ws,
		send: make(chan []byte, 32),
	}
	hub.attach(cl)
	defer hub.detach(cl)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go writePump(connCtx, cl)

	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "gateway").Str("user", string(user)).Msg("read loop done")
			return
		}
		hub.handleMessage(cl, data)
	}
}

func writePump(ctx context.Context, cl *wsClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-cl.send:
			if !ok {
				return
			}
			if err := cl.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "gateway").Msg("writePump write error")
				return
			}
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	hub := NewHub()
	hub.Seed("dev", "general", "gaming", "music")

	r := setupRouter(ctx, cfg, hub)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("dev gateway started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
