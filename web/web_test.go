package web

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-while/go-bolts/internal/auth"
	"github.com/go-while/go-bolts/internal/config"
	"github.com/go-while/go-bolts/internal/database"
	"github.com/go-while/go-bolts/router"
)

func newTestApp(t *testing.T, mutate func(*config.Config), opts ...Option) *App {
	t.Helper()
	cfg := config.NewDefaultConfig(config.EnvTest)
	cfg.Web.ViewsDir = t.TempDir()
	cfg.Web.StaticDir = ""
	if mutate != nil {
		mutate(cfg)
	}
	app, err := New(cfg, nil, opts...)
	require.NoError(t, err)
	return app
}

func noCSRF(cfg *config.Config) { cfg.CSRF.Enabled = false }

func do(app *App, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.Engine().ServeHTTP(rec, req)
	return rec
}

func get(app *App, target string) *httptest.ResponseRecorder {
	return do(app, httptest.NewRequest(http.MethodGet, target, nil))
}

func postForm(app *App, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return do(app, req)
}

func TestTypedRouting(t *testing.T) {
	app := newTestApp(t, noCSRF)
	require.NoError(t, app.GET("/users/:id", func(c *Context) Render {
		id, _ := c.URL.Int("id")
		return Plain(fmt.Sprintf("user %d", id))
	}))
	require.NoError(t, app.GET("/users/#name", func(c *Context) Render {
		return Plain("name " + c.Param("name"))
	}))
	require.NoError(t, app.Path("/price/;amount").Route(FromTarget(func(u router.URLParams, get, _ router.VerbParams) Render {
		f, _ := u.Float("amount")
		return Plain(fmt.Sprintf("%.2f %s", f, get.Get("cur")))
	})))

	rec := get(app, "/users/42")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user 42", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

	assert.Equal(t, "name alice", get(app, "/users/alice/").Body.String())
	assert.Equal(t, "name hello world", get(app, "/users/hello%20world").Body.String())
	assert.Equal(t, "1.50 EUR", get(app, "/price/1.5?cur=EUR").Body.String())

	rec = get(app, "/nothing/here")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "404 not found", rec.Body.String())

	rec = postForm(app, "/users/42", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET", rec.Header().Get("Allow"))

	rec = do(app, httptest.NewRequest("BREW", "/users/42", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHeadUsesGetRoute(t *testing.T) {
	app := newTestApp(t, nil)
	require.NoError(t, app.GET("/", func(c *Context) Render { return Plain("home") }))

	rec := do(app, httptest.NewRequest(http.MethodHead, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("ETag"))
}

func TestDomainRouting(t *testing.T) {
	app := newTestApp(t, nil)
	require.NoError(t, app.HandleDomain("api.example.com", router.Get, "/", func(c *Context) Render { return Plain("api") }))
	require.NoError(t, app.HandleDomain("*.example.com", router.Get, "/", func(c *Context) Render { return Plain("tenant") }))
	require.NoError(t, app.GET("/", func(c *Context) Render { return Plain("default") }))

	for host, want := range map[string]string{
		"api.example.com":      "api",
		"API.Example.com:8080": "api",
		"shop.example.com":     "tenant",
		"localhost":            "default",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Host = host
		assert.Equal(t, want, do(app, req).Body.String(), host)
	}
}

func TestRenders(t *testing.T) {
	app := newTestApp(t, nil)
	require.NoError(t, app.GET("/json", func(c *Context) Render {
		return JSON(map[string]int{"n": 1}).WithHeader("X-Extra", "yes")
	}))
	require.NoError(t, app.GET("/redirect", func(c *Context) Render { return Redirect("/elsewhere") }))
	require.NoError(t, app.GET("/empty", func(c *Context) Render { return Empty(http.StatusNoContent) }))
	require.NoError(t, app.GET("/teapot", func(c *Context) Render {
		return HTML("<b>short</b>").WithStatus(http.StatusTeapot).WithCookie(&http.Cookie{Name: "k", Value: "v"})
	}))
	require.NoError(t, app.GET("/bad-json", func(c *Context) Render { return JSON(make(chan int)) }))

	rec := get(app, "/json")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"n":1}`, rec.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "yes", rec.Header().Get("X-Extra"))

	rec = get(app, "/redirect")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/elsewhere", rec.Header().Get("Location"))

	rec = get(app, "/empty")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = get(app, "/teapot")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("ETag"), "only 200 responses are tagged")
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, "k", rec.Result().Cookies()[0].Name)

	assert.Equal(t, http.StatusInternalServerError, get(app, "/bad-json").Code)
}

func TestRenderModifiersDoNotShareState(t *testing.T) {
	base := Plain("x").WithHeader("A", "1")
	other := base.WithHeader("B", "2")
	assert.Empty(t, base.header.Get("B"))
	assert.Equal(t, "1", other.header.Get("A"))
	assert.Equal(t, http.StatusOK, base.Status())
	assert.Equal(t, "/to", Redirect("/to").Location())
}

func TestETag(t *testing.T) {
	app := newTestApp(t, nil)
	require.NoError(t, app.GET("/page", func(c *Context) Render { return Plain("cached body") }))

	first := get(app, "/page")
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, etag, get(app, "/page").Header().Get("ETag"), "stable for the same body")

	req := httptest.NewRequest(http.MethodGet, "/page", nil)
	req.Header.Set("If-None-Match", `"other", `+etag)
	rec := do(app, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/page", nil)
	req.Header.Set("If-None-Match", `"other"`)
	assert.Equal(t, http.StatusOK, do(app, req).Code)
}

func TestCSRF(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.CSRF.ExemptPrefixes = []string{"/hooks/"}
	})
	require.NoError(t, app.GET("/form", func(c *Context) Render { return Plain(c.CSRFToken()) }))
	require.NoError(t, app.POST("/form", func(c *Context) Render { return Plain("saved " + c.Post.Get("title")) }))
	require.NoError(t, app.POST("/hooks/in", func(c *Context) Render { return Plain("hook") }))

	rec := postForm(app, "/form", url.Values{"title": {"x"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = get(app, "/form")
	require.Equal(t, http.StatusOK, rec.Code)
	token := rec.Body.String()
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, config.DefaultSessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	rec = postForm(app, "/form", url.Values{"title": {"x"}, "_csrf": {"wrong"}}, cookies[0])
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postForm(app, "/form", url.Values{"title": {"x"}, "_csrf": {token}}, cookies[0])
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "saved x", rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/form", strings.NewReader(`{"title":"json"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", token)
	req.AddCookie(cookies[0])
	rec = do(app, req)
	assert.Equal(t, "saved json", rec.Body.String())

	assert.Equal(t, "hook", postForm(app, "/hooks/in", nil).Body.String())
}

func TestBodyParams(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.CSRF.Enabled = false
		cfg.Web.MaxBodyBytes = 64
	})
	require.NoError(t, app.POST("/echo", func(c *Context) Render {
		var parts []string
		for _, k := range c.Post.Keys() {
			parts = append(parts, k+"="+strings.Join(c.Post.All(k), "|"))
		}
		return Plain(strings.Join(parts, ";"))
	}))

	post := func(contentType, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		return do(app, req)
	}

	rec := post("application/x-www-form-urlencoded; charset=iso-8859-1", "name=Ren%E9")
	assert.Equal(t, "name=René", rec.Body.String())

	rec = post("application/json", `{"a":1,"tags":["x","y"],"obj":{"k":true},"nil":null}`)
	assert.Equal(t, `a=1;nil=;obj={"k":true};tags=x|y`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, post("application/json", `{"a":`).Code)
	assert.Equal(t, http.StatusBadRequest, post("application/json", `[1,2]`).Code)
	assert.Equal(t, http.StatusBadRequest, post("application/x-www-form-urlencoded; charset=klingon", "a=b").Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge,
		post("application/x-www-form-urlencoded", "a="+strings.Repeat("x", 100)).Code)
	assert.Equal(t, "", post("text/plain", "whatever").Body.String())
}

func TestPanicIsRecovered(t *testing.T) {
	app := newTestApp(t, nil)
	require.NoError(t, app.GET("/boom", func(c *Context) Render { panic("boom") }))

	rec := get(app, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, http.StatusOK, get(app, "/ping").Code, "server keeps serving")
}

func TestTemplateRender(t *testing.T) {
	app := newTestApp(t, nil)
	views := app.Config().Web.ViewsDir
	require.NoError(t, os.WriteFile(filepath.Join(views, "layout.html"),
		[]byte(`<title>{{.AppName}}</title>{{range .Flashes}}[{{.Kind}}:{{.Message}}]{{end}}{{template "content" .}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(views, "hello.html"),
		[]byte(`{{define "content"}}Hello {{.Data.Name}}{{if .CSRFToken}} csrf{{end}}{{end}}`), 0o644))

	require.NoError(t, app.GET("/flash", func(c *Context) Render {
		c.Flash("notice", "saved")
		return Redirect("/hello")
	}))
	require.NoError(t, app.GET("/hello", func(c *Context) Render {
		return Template("hello", map[string]string{"Name": "<world>"})
	}))
	require.NoError(t, app.GET("/missing", func(c *Context) Render { return Template("nope", nil) }))

	rec := get(app, "/flash")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	req.AddCookie(cookie)
	rec = do(app, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<title>bolts</title>[notice:saved]Hello &lt;world&gt; csrf", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/hello", nil)
	req.AddCookie(cookie)
	assert.NotContains(t, do(app, req).Body.String(), "[notice:saved]", "flashes are shown once")

	assert.Equal(t, http.StatusInternalServerError, get(app, "/missing").Code)
}

func TestLoginLogout(t *testing.T) {
	cfg := config.NewDefaultConfig(config.EnvTest)
	db, err := database.Open(cfg.Database, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Migrate(context.Background())
	require.NoError(t, err)

	app := newTestApp(t, noCSRF, WithDatabase(db))
	_, err = app.Auth().Create(context.Background(), auth.NewUser{Username: "alice", Password: "secret123"})
	require.NoError(t, err)

	require.NoError(t, app.POST("/login", func(c *Context) Render {
		if _, err := c.Login(c.Post.Get("username"), c.Post.Get("password")); err != nil {
			return Plain(err.Error()).WithStatus(http.StatusUnauthorized)
		}
		return Redirect("/me")
	}))
	require.NoError(t, app.GET("/me", func(c *Context) Render {
		if u := c.User(); u != nil {
			return Plain(u.Username)
		}
		return Plain("anonymous")
	}))
	require.NoError(t, app.POST("/logout", func(c *Context) Render {
		c.Logout()
		return Redirect("/")
	}))

	rec := postForm(app, "/login", url.Values{"username": {"alice"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies(), "failed logins create no session")

	rec = postForm(app, "/login", url.Values{"username": {"alice"}, "password": {"secret123"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)
	assert.Equal(t, "alice", do(app, req).Body.String())

	rec = postForm(app, "/logout", nil, cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cleared := rec.Result().Cookies()[0]
	assert.Equal(t, -1, cleared.MaxAge)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookie)
	assert.Equal(t, "anonymous", do(app, req).Body.String(), "old session id is gone")
}

func TestLoginWithoutDatabase(t *testing.T) {
	app := newTestApp(t, noCSRF)
	require.NoError(t, app.POST("/login", func(c *Context) Render {
		_, err := c.Login("a", "b")
		return Plain(fmt.Sprint(err == ErrNoDatabase))
	}))
	assert.Equal(t, "true", postForm(app, "/login", nil).Body.String())
}

func TestMiddleware(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.Web.BlockedAgents = []string{"EvilBot"}
		cfg.Web.BehindProxy = true
	})
	require.NoError(t, app.GET("/ip", func(c *Context) Render {
		return Plain(c.Request.Host + " " + c.RequestID())
	}))

	rec := get(app, "/ping")
	assert.Equal(t, "pong", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	req.Header.Set(RequestIDHeader, "abc-123")
	req.Header.Set("X-Forwarded-Host", "public.example.com")
	rec = do(app, req)
	assert.Equal(t, "public.example.com abc-123", rec.Body.String())
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; evilbot/2.1)")
	rec = do(app, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "403", rec.Body.String())

	rec = get(app, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestForwardedHostNeedsTrustedProxy(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.Web.BehindProxy = true
		cfg.Web.TrustedProxies = []string{"10.0.0.0/8"}
	})
	require.NoError(t, app.HandleDomain("admin.example.com", router.Get, "/", func(c *Context) Render {
		return Plain("admin")
	}))
	require.NoError(t, app.GET("/", func(c *Context) Render { return Plain("public " + c.Request.Host) }))

	forwarded := func(peer string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Host = "www.example.com"
		req.RemoteAddr = peer
		req.Header.Set("X-Forwarded-Host", "admin.example.com")
		return req
	}
	assert.Equal(t, "public www.example.com", do(app, forwarded("203.0.113.9:5000")).Body.String())
	assert.Equal(t, "admin", do(app, forwarded("10.0.0.2:5000")).Body.String())
}

func TestTrustedPeer(t *testing.T) {
	prefixes := parseTrustedProxies([]string{"127.0.0.1", "::1", "192.168.0.0/16", "bogus"})
	require.Len(t, prefixes, 3)
	assert.True(t, trustedPeer(prefixes, "127.0.0.1"))
	assert.True(t, trustedPeer(prefixes, "::ffff:192.168.4.4"))
	assert.True(t, trustedPeer(prefixes, "::1"))
	assert.False(t, trustedPeer(prefixes, "127.0.0.2"))
	assert.False(t, trustedPeer(prefixes, "not-an-ip"))
}

func TestServeListener(t *testing.T) {
	app := newTestApp(t, nil)
	require.NoError(t, app.GET("/", func(c *Context) Render { return Plain("served") }))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "served", string(body))

	cancel()
	assert.NoError(t, <-done)
}

func TestServeRequiresCertificates(t *testing.T) {
	app := newTestApp(t, nil)
	app.cfg.Web.SSL = true
	err := app.Serve(context.Background())
	assert.EqualError(t, err, "SSL enabled but cert_file or key_file not specified in config")
}
