package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/go-while/go-bolts/internal/csrf"
	"github.com/go-while/go-bolts/internal/database"
	"github.com/go-while/go-bolts/internal/models"
	"github.com/go-while/go-bolts/router"
	"github.com/go-while/go-bolts/session"
)

// Context is what a Handler sees of the request.
type Context struct {
	Request *http.Request
	Writer  http.ResponseWriter

	URL   router.URLParams  // typed path variables
	Get   router.VerbParams // query string
	Post  router.VerbParams // decoded body
	Route *router.Route[Handler]

	Session *session.Session

	app        *App
	gin        *gin.Context
	user       *models.User
	userLoaded bool
}

// Context returns the request context.
func (c *Context) Context() context.Context {
	return c.Request.Context()
}

// Logger returns the app logger tagged with the request id.
func (c *Context) Logger() *zap.Logger {
	return c.app.logger.With(zap.String("request_id", c.RequestID()))
}

func (c *Context) RequestID() string {
	return c.gin.GetString(requestIDKey)
}

// Param returns the path variable name as a string.
func (c *Context) Param(name string) string {
	return c.URL.Value(name)
}

// CSRFToken returns the token forms must send back, creating it on first use.
func (c *Context) CSRFToken() string {
	tok, err := csrf.Token(c.Session)
	if err != nil {
		c.Logger().Error("failed to create CSRF token", zap.Error(err))
		return ""
	}
	return tok
}

// Flash queues a message for the next rendered page.
func (c *Context) Flash(kind, msg string) {
	c.Session.AddFlash(kind, msg)
}

// User returns the logged in user or nil.
func (c *Context) User() *models.User {
	if c.userLoaded {
		return c.user
	}
	c.userLoaded = true
	if c.Session.UserID == 0 || c.app.auth == nil {
		return nil
	}
	u, err := c.app.auth.Get(c.Context(), c.Session.UserID)
	switch {
	case errors.Is(err, database.ErrUserNotFound):
		c.Session.SetUser(0)
	case err != nil:
		c.Logger().Error("failed to load session user", zap.Int64("user_id", c.Session.UserID), zap.Error(err))
	default:
		c.user = u
	}
	return c.user
}

// Login checks the credentials and binds the session to the user. The
// session id and the CSRF token are renewed.
func (c *Context) Login(username, password string) (*models.User, error) {
	if c.app.auth == nil {
		return nil, ErrNoDatabase
	}
	u, err := c.app.auth.Authenticate(c.Context(), username, password)
	if err != nil {
		return nil, err
	}
	if err := c.Session.Rotate(); err != nil {
		return nil, err
	}
	c.Session.SetUser(u.ID)
	c.Session.Delete(csrf.SessionKey)
	c.user, c.userLoaded = u, true
	c.Logger().Info("user logged in", zap.String("username", u.Username))
	return u, nil
}

// Logout ends the session.
func (c *Context) Logout() {
	if u := c.User(); u != nil {
		c.Logger().Info("user logged out", zap.String("username", u.Username))
	}
	c.Session.Destroy()
	c.user, c.userLoaded = nil, true
}
