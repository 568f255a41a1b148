package httpapi

import (
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/gin-gonic/gin"
)

const pprofPrefix = "/debug/pprof"

type PprofConfig struct {
	Enabled       bool
	Token         string
	AllowInsecure bool
}

func mountPprof(r *gin.Engine, addr string, cfg PprofConfig) error {
	tok := strings.TrimSpace(cfg.Token)
	if tok == "" && !cfg.AllowInsecure && !isLoopbackAddr(addr) {
		return errors.New("pprof on a non-loopback addr requires a token or allow_insecure")
	}
	g := r.Group(pprofPrefix, pprofAuth(tok))
	g.GET("/", gin.WrapF(hpprof.Index))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.POST("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	// heap, goroutine, allocs, block, mutex, threadcreate
	g.GET("/:profile", func(c *gin.Context) {
		hpprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
	})
	return nil
}

// pprofAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func pprofAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.Query("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if got != token {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
