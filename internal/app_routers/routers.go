package approuters

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Worldstreet-team/worldstreet-academy-sub003/internal/configuration"
)

// StartServer runs the API server and the stream server, then blocks until a
// shutdown signal or a server error. The stream server is separate because
// long-lived SSE and WebSocket responses cannot live under the API server's
// write timeout.
func StartServer(container *configuration.Container) {
	logger := container.Logger

	appServer := createAppServer(container)
	streamServer := createStreamServer(container)

	serverErrors := make(chan error, 2)

	go func() {
		logger.Info("application server starting", zap.String("addr", appServer.Addr))
		if err := appServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("app server error: %w", err)
		}
	}()

	go func() {
		logger.Info("stream server starting", zap.String("addr", streamServer.Addr))
		if err := streamServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("stream server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server failed", zap.Error(err))
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Closing the container first tears down the event channel, which closes
	// every subscription and lets open streams drain and return.
	if err := container.Close(); err != nil {
		logger.Warn("container close failed", zap.Error(err))
	}

	if err := streamServer.Shutdown(ctx); err != nil {
		logger.Warn("stream server shutdown error", zap.Error(err))
	}
	if err := appServer.Shutdown(ctx); err != nil {
		logger.Warn("app server shutdown error", zap.Error(err))
	}

	logger.Info("graceful shutdown complete")
}

func corsConfig(origins []string) cors.Config {
	return cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
}

func createAppServer(container *configuration.Container) *http.Server {
	router := gin.Default()
	router.Use(cors.New(corsConfig(container.Config.Server.AllowedOrigins)))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "realtime core up"})
	})

	RealtimeRouters(router, container)
	MonitorRouters(router, container)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", container.Config.Server.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func createStreamServer(container *configuration.Container) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(container.Config.Server.AllowedOrigins)))

	StreamRouters(router, container)

	// No WriteTimeout: SSE and WebSocket responses stay open indefinitely.
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", container.Config.Server.StreamPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
