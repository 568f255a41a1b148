package httpapi

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	logx "leadbot/pkg/logx"
)

func recovery(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in http handler",
					logx.Any("panic", r),
					logx.String("path", c.Request.URL.Path),
					logx.Stack(string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"status": statusError, "message": "erro interno"})
			}
		}()
		c.Next()
	}
}

// requestLog logs one line per request. Probes and scrapes go to DEBUG.
func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)),
			logx.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logx.Strings("errors", c.Errors.Errors()))
			log.Warn("http request failed", fields...)
			return
		}
		if path == "/healthz" || path == "/metrics" || strings.HasPrefix(path, pprofPrefix) {
			log.Debug("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	}
}

// cors allows any origin; the send endpoints are called from browser
// storefronts.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// webhookAuth checks the shared secret the gateway sends in X-Webhook-Token
// or as a bearer token.
func webhookAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := c.GetHeader("X-Webhook-Token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": statusError, "message": "Não autorizado."})
			return
		}
		c.Next()
	}
}
