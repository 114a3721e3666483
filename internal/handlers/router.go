package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/fingerprint-match/internal/logging"
)

// NewRouter builds the service router with recovery, request logging and
// permissive CORS in front of the routes.
func NewRouter(svc MatchService, maxUpload int64, logger *zap.Logger) *gin.Engine {
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}

	router := gin.New()
	router.MaxMultipartMemory = maxUpload
	router.Use(gin.Recovery(), RequestLogger(logger), cors.Default())
	RegisterRoutes(router, svc, maxUpload)
	return router
}

// RequestLogger logs one line per request with its status and latency.
// Requests that recorded errors are logged at warn with the failing operation.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			fields = append(fields, zap.Error(err))
			if op := logging.OperationOf(err); op != "" {
				fields = append(fields, zap.String("operation", op))
			}
			logger.Warn("request failed", fields...)
			return
		}
		logger.Info("request served", fields...)
	}
}
