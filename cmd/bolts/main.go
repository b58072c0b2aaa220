// Command bolts serves a go-bolts application whose routes are declared in
// config/routes.yaml, and manages its database, users and tasks.
package main

import (
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/go-while/go-bolts/cli"
	"github.com/go-while/go-bolts/internal/config"
	"github.com/go-while/go-bolts/internal/routesfile"
	"github.com/go-while/go-bolts/web"
)

var appVersion = "-unset-"

func main() {
	config.AppVersion = appVersion
	if err := cli.Execute(declaredRoutes); err != nil {
		os.Exit(1)
	}
}

// declaredRoutes registers the routes of the configured routes file. A
// missing file leaves the app without routes.
func declaredRoutes(app *web.App) error {
	path := app.Config().App.RoutesFile
	f, err := routesfile.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		app.Logger().Warn("routes file not found, serving without routes", zap.String("path", path))
		return nil
	}
	if err != nil {
		return err
	}
	return f.Register(app)
}
