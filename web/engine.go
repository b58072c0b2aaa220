package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/go-while/go-bolts/internal/config"
	"github.com/go-while/go-bolts/internal/csrf"
	"github.com/go-while/go-bolts/router"
)

// Engine returns the gin engine serving the app. It is built once.
func (a *App) Engine() *gin.Engine {
	a.engineOnce.Do(func() {
		a.engine = a.buildEngine()
	})
	return a.engine
}

func (a *App) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	web := a.cfg.Web

	engine := gin.New()
	// trailing slashes are handled by the router
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false
	if err := engine.SetTrustedProxies(web.TrustedProxies); err != nil {
		a.logger.Warn("invalid trusted proxies", zap.Strings("proxies", web.TrustedProxies), zap.Error(err))
	}

	engine.Use(RequestIDMiddleware())
	engine.Use(ApacheLogFormat(a.logger.Named("access")))
	engine.Use(gin.CustomRecovery(a.recovery))
	if web.BehindProxy {
		engine.Use(ReverseProxyMiddleware(web.TrustedProxies))
	}

	secureConfig := secure.Config{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}
	if web.SSL {
		secureConfig.SSLRedirect = true
		secureConfig.STSSeconds = 31536000
		secureConfig.STSIncludeSubdomains = true
		if web.BehindProxy {
			secureConfig.SSLProxyHeaders = map[string]string{"X-Forwarded-Proto": "https"}
		}
	}
	engine.Use(secure.New(secureConfig))

	if len(web.BlockedAgents) > 0 {
		engine.Use(BotDetectionMiddleware(web.BlockedAgents, a.logger))
	}

	if web.StaticDir != "" {
		if fi, err := os.Stat(web.StaticDir); err == nil && fi.IsDir() {
			engine.Static("/static", web.StaticDir)
		}
	}
	engine.GET("/healthz", a.healthz)
	engine.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	engine.NoRoute(a.dispatch)
	return engine
}

func (a *App) healthz(c *gin.Context) {
	status := gin.H{"status": "ok", "version": config.AppVersion, "env": a.cfg.Env}
	if a.db != nil {
		if err := a.db.Ping(c.Request.Context()); err != nil {
			a.logger.Error("health check failed", zap.Error(err))
			status["status"] = "unavailable"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
	}
	c.JSON(http.StatusOK, status)
}

// dispatch routes the request through the app router.
func (a *App) dispatch(gc *gin.Context) {
	req := gc.Request
	verb, err := router.ParseVerb(req.Method)
	if err != nil {
		a.plainError(gc, http.StatusNotImplemented)
		return
	}

	m, err := a.router.Find(verb, req.URL.EscapedPath(), req.Host)
	if err != nil {
		var notAllowed *router.MethodNotAllowedError
		switch {
		case errors.As(err, &notAllowed):
			gc.Header("Allow", notAllowed.AllowHeader())
			a.plainError(gc, http.StatusMethodNotAllowed)
		case errors.Is(err, router.ErrNotFound):
			a.plainError(gc, http.StatusNotFound)
		default:
			a.plainError(gc, http.StatusBadRequest)
		}
		return
	}

	ctx := req.Context()
	sess, err := a.sessions.Start(ctx, req)
	if err != nil {
		a.logger.Error("failed to start session", zap.Error(err))
		a.plainError(gc, http.StatusInternalServerError)
		return
	}

	c := &Context{
		Request: req,
		Writer:  gc.Writer,
		URL:     m.Params,
		Get:     router.NewVerbParams(req.URL.Query()),
		Route:   m.Route,
		Session: sess,
		app:     a,
		gin:     gc,
	}
	if hasBody(verb) {
		post, err := parseBody(gc.Writer, req, a.cfg.Web.MaxBodyBytes)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				a.plainError(gc, http.StatusRequestEntityTooLarge)
				return
			}
			c.Logger().Debug("bad request body", zap.Error(err))
			a.plainError(gc, http.StatusBadRequest)
			return
		}
		c.Post = post
	}

	if a.csrf.Required(req.Method, req.URL.Path) {
		token := c.Post.Get(csrf.FieldName)
		if token == "" {
			token = req.Header.Get(csrf.HeaderName)
		}
		if err := csrf.Verify(sess, token); err != nil {
			c.Logger().Warn("CSRF check failed", zap.String("path", req.URL.Path), zap.String("client_ip", gc.ClientIP()))
			a.plainError(gc, http.StatusForbidden)
			return
		}
	}

	a.write(c, m.Route.Target(c))
}

// body turns r into status, content type and payload.
func (a *App) body(c *Context, r Render) (int, string, []byte, error) {
	switch r.kind {
	case kindPlain:
		return r.status, "text/plain; charset=utf-8", []byte(r.text), nil
	case kindHTML:
		return r.status, "text/html; charset=utf-8", []byte(r.text), nil
	case kindJSON:
		b, err := json.Marshal(r.value)
		if err != nil {
			return 0, "", nil, err
		}
		return r.status, "application/json; charset=utf-8", b, nil
	case kindTemplate:
		var buf bytes.Buffer
		if err := a.views.Render(&buf, r.template, c.templateData(r.value)); err != nil {
			return 0, "", nil, err
		}
		return r.status, "text/html; charset=utf-8", buf.Bytes(), nil
	}
	return r.status, "", nil, nil
}

func (a *App) write(c *Context, r Render) {
	gc := c.gin
	status, contentType, body, err := a.body(c, r)
	if err != nil {
		c.Logger().Error("failed to render response", zap.Error(err))
		a.plainError(gc, http.StatusInternalServerError)
		return
	}
	if err := a.sessions.Commit(c.Context(), gc.Writer, c.Request, c.Session); err != nil {
		c.Logger().Error("failed to save session", zap.Error(err))
		a.plainError(gc, http.StatusInternalServerError)
		return
	}

	h := gc.Writer.Header()
	for k, v := range r.header {
		h[k] = v
	}
	for _, ck := range r.cookies {
		http.SetCookie(gc.Writer, ck)
	}
	if r.kind == kindRedirect {
		h.Set("Location", r.location)
	}

	if status == http.StatusOK && len(body) > 0 && (c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead) {
		etag := h.Get("ETag")
		if etag == "" {
			etag = `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
			h.Set("ETag", etag)
		}
		if etagMatches(c.Request.Header.Get("If-None-Match"), etag) {
			gc.Status(http.StatusNotModified)
			gc.Writer.WriteHeaderNow()
			return
		}
	}

	if body == nil {
		gc.Status(status)
		gc.Writer.WriteHeaderNow()
		return
	}
	gc.Data(status, contentType, body)
}

// etagMatches implements the weak comparison of If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func (a *App) plainError(gc *gin.Context, status int) {
	gc.String(status, "%d %s", status, strings.ToLower(http.StatusText(status)))
	gc.Abort()
}
