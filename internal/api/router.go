package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func NewRouter(h *Handler, gatherer prometheus.Gatherer, logger *logrus.Entry, basePath string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	api := r.Group(basePath)
	{
		// Samples
		api.POST("/samples", h.CreateSample)
		api.GET("/samples/:id", h.GetSample)
		api.DELETE("/samples/:id", h.DeleteSample)
		api.POST("/samples/:id/test-send", h.TestSend)

		// Logs
		api.GET("/logs", h.ListLogs)
		api.GET("/logs/:id", h.GetLog)
		api.GET("/ws/logs", h.WatchLogs)

		// Test credentials
		api.POST("/test-credentials/:id/activate", h.ActivateTestCredentials)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return r
}
