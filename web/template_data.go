package web

import (
	"time"

	"github.com/go-while/go-bolts/internal/config"
	"github.com/go-while/go-bolts/internal/models"
	"github.com/go-while/go-bolts/session"
)

// TemplateData is handed to every view. Handler data is in Data.
type TemplateData struct {
	Data        any
	CSRFToken   string
	Flashes     []session.Flash
	User        *models.User
	RequestID   string
	Env         string
	AppName     string
	AppVersion  string
	CurrentTime string
}

func (c *Context) templateData(data any) TemplateData {
	td := TemplateData{
		Data:        data,
		Flashes:     c.Session.Flashes(),
		User:        c.User(),
		RequestID:   c.RequestID(),
		Env:         c.app.cfg.Env,
		AppName:     c.app.cfg.App.Name,
		AppVersion:  config.AppVersion,
		CurrentTime: time.Now().Format("2006-01-02 15:04:05"),
	}
	if c.app.csrf.Enabled() {
		td.CSRFToken = c.CSRFToken()
	}
	return td
}
