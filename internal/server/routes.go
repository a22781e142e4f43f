// Package server wires HTTP handlers into a gin engine for the FlyShare
// relay via routing helpers.
package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const maxMultipartMemory = 32 << 20

// Routes builds the gin engine with every relay endpoint.
func (s *Server) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.MaxMultipartMemory = maxMultipartMemory

	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	engine.Use(s.corsMiddleware())

	engine.GET("/", s.HealthHandler)
	engine.GET("/health", s.StatusHandler)
	engine.GET("/network", s.NetworkHandler)
	engine.GET("/ws", s.WebSocketHandler)
	engine.GET("/test", s.TestPageHandler)

	engine.POST("/upload", s.UploadHandler)
	engine.GET("/network-files/:networkId", s.NetworkFilesHandler)
	engine.GET("/files/:storageName", s.DownloadHandler)

	return engine
}

// requestLogger logs every request except WebSocket upgrades, which are
// logged by the hub instead.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/ws" {
			return
		}
		log.Printf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

// corsMiddleware lets the configured web origins call the HTTP endpoints.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.origins.allows(c.Request) {
			c.Header("Access-Control-Allow-Origin", c.GetHeader("Origin"))
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
