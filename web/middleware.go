package web

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	requestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
)

// RequestIDMiddleware tags each request with an id, reusing a sane
// incoming X-Request-ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
			c.Request.Header.Set(RequestIDHeader, id)
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		b := id[i]
		if b <= ' ' || b >= 0x7f {
			return false
		}
	}
	return true
}

// ApacheLogFormat writes an apache combined style access line per request
// to logger.
func ApacheLogFormat(logger *zap.Logger) gin.HandlerFunc {
	out, err := zap.NewStdLogAt(logger, zapcore.InfoLevel)
	if err != nil {
		out = zap.NewStdLog(logger)
	}
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output: out.Writer(),
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf(`%s - - [%s] "%s %s %s" %d %d "%s" "%s" %s %s`+"\n",
				param.ClientIP,
				param.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.BodySize,
				param.Request.Referer(),
				param.Request.UserAgent(),
				param.Latency,
				param.Request.Header.Get(RequestIDHeader),
			)
		},
	})
}

// forwardedHeaders are only believed when set by a trusted proxy.
var forwardedHeaders = []string{"X-Forwarded-Proto", "X-Forwarded-For", "X-Forwarded-Host", "X-Real-IP"}

// ReverseProxyMiddleware handles X-Forwarded headers when running behind a
// reverse proxy. Requests whose peer is not in trusted (IPs or CIDRs, as
// given to gin's SetTrustedProxies) have those headers removed.
func ReverseProxyMiddleware(trusted []string) gin.HandlerFunc {
	prefixes := parseTrustedProxies(trusted)
	return func(c *gin.Context) {
		if !trustedPeer(prefixes, c.RemoteIP()) {
			for _, h := range forwardedHeaders {
				c.Request.Header.Del(h)
			}
			c.Next()
			return
		}
		if proto := c.GetHeader("X-Forwarded-Proto"); proto == "https" {
			c.Request.URL.Scheme = "https"
		}
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			// first entry is the original client
			clientIP := strings.TrimSpace(strings.Split(xff, ",")[0])
			c.Request.RemoteAddr = clientIP + ":0"
		}
		if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
			c.Request.RemoteAddr = realIP + ":0"
		}
		if host := c.GetHeader("X-Forwarded-Host"); host != "" {
			c.Request.Host = host
		}
		c.Next()
	}
}

func parseTrustedProxies(trusted []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(trusted))
	for _, t := range trusted {
		t = strings.TrimSpace(t)
		if p, err := netip.ParsePrefix(t); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(t); err == nil {
			a = a.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return prefixes
}

func trustedPeer(prefixes []netip.Prefix, ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// BotDetectionMiddleware refuses requests whose user agent contains one of
// the blocked substrings.
func BotDetectionMiddleware(blocked []string, logger *zap.Logger) gin.HandlerFunc {
	patterns := make([]string, 0, len(blocked))
	for _, b := range blocked {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			patterns = append(patterns, b)
		}
	}
	return func(c *gin.Context) {
		ua := strings.ToLower(c.GetHeader("User-Agent"))
		for _, pattern := range patterns {
			if strings.Contains(ua, pattern) {
				logger.Info("bot blocked",
					zap.String("user_agent", c.GetHeader("User-Agent")),
					zap.String("client_ip", c.ClientIP()),
					zap.String("pattern", pattern))
				c.String(http.StatusForbidden, "403")
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// recovery logs the panic and answers 500.
func (a *App) recovery(c *gin.Context, err any) {
	a.logger.Error("handler panicked",
		zap.Any("panic", err),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.StackSkip("stack", 3))
	c.String(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	c.Abort()
}
