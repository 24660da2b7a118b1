package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noah-isme/sma-classwall/pkg/config"
	"github.com/noah-isme/sma-classwall/pkg/middleware/requestid"
)

// ViewerKey is the gin context key under which authentication middleware stores the viewer id.
const ViewerKey = "viewer_id"

const eventStreamType = "text/event-stream"

// New builds the service logger: JSON in production, development defaults elsewhere.
func New(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Env == config.EnvProduction {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Log.Format {
	case "console":
		zapCfg.Encoding = "console"
	default:
		zapCfg.Encoding = "json"
	}

	if cfg.Log.Level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
	}

	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapCfg.Build(zap.Fields(zap.String("service", "classwall")))
}

// GinMiddleware logs one line per request once it completes, tagged with the request and viewer ids.
func GinMiddleware(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		reqID := requestid.Value(c)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		}
		if reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		if viewer := c.GetString(ViewerKey); viewer != "" {
			fields = append(fields, zap.String("viewer_id", viewer))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if strings.HasPrefix(c.Writer.Header().Get("Content-Type"), eventStreamType) {
			fields = append(fields, zap.Bool("stream", true))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			l.Error("http_request", fields...)
		case status == http.StatusAccepted:
			// mutation kept locally after the backend rejected it
			l.Warn("http_request", append(fields, zap.Bool("sync_warning", true))...)
		default:
			l.Info("http_request", fields...)
		}
	}
}
