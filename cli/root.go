// Package cli is the bolts command line: serving the app, migrations,
// users and tasks.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/go-while/go-bolts/internal/config"
	"github.com/go-while/go-bolts/internal/database"
	"github.com/go-while/go-bolts/internal/logging"
	"github.com/go-while/go-bolts/tasks"
	"github.com/go-while/go-bolts/web"
)

// Setup registers the application's routes on app.
type Setup func(app *web.App) error

const (
	TaskSessionsCleanup = "sessions:cleanup"
	TaskDBMigrate       = "db:migrate"
)

// runtime is the state shared by all commands of one invocation.
type runtime struct {
	setup Setup

	env       string
	configDir string
	verbose   bool

	cfg    *config.Config
	logger *zap.Logger
}

// Execute runs the bolts command line with setup providing the routes.
func Execute(setup Setup) error {
	return NewRootCommand(setup).Execute()
}

// NewRootCommand builds the bolts command tree.
func NewRootCommand(setup Setup) *cobra.Command {
	rt := &runtime{setup: setup}
	root := &cobra.Command{
		Use:           "bolts",
		Short:         "bolts - web framework toolbox",
		Long:          "bolts serves a go-bolts application and manages its database, users and tasks.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return rt.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&rt.env, "env", "e", "", "environment: development, test or production (default $"+config.EnvVar+" or development)")
	root.PersistentFlags().StringVarP(&rt.configDir, "config-dir", "c", "config", "directory holding app.yaml and <env>.yaml")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		rt.serverCommand(),
		rt.routesCommand(),
		rt.dbCommand(),
		rt.userCommand(),
		rt.taskCommand(),
		versionCommand(),
	)
	return root
}

func (rt *runtime) init() error {
	if err := config.LoadDotEnv(filepath.Join(filepath.Dir(rt.configDir), ".env")); err != nil {
		return err
	}
	cfg, err := config.Load(rt.configDir, rt.env)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log, rt.verbose)
	if err != nil {
		return err
	}
	rt.cfg, rt.logger = cfg, logger
	logger.Debug("configuration loaded", zap.String("env", cfg.Env), zap.String("config_dir", rt.configDir))
	return nil
}

func (rt *runtime) openDatabase() (*database.Database, error) {
	return database.Open(rt.cfg.Database, rt.logger.Named("database"))
}

// buildApp creates the app, registers the built-in tasks and runs setup.
// db may be nil.
func (rt *runtime) buildApp(db *database.Database) (*web.App, error) {
	opts := []web.Option{web.WithTasks(tasks.NewRegistry())}
	if db != nil {
		opts = append(opts, web.WithDatabase(db))
	}
	app, err := web.New(rt.cfg, rt.logger, opts...)
	if err != nil {
		return nil, err
	}
	if err := registerBuiltinTasks(app); err != nil {
		return nil, err
	}
	if rt.setup != nil {
		if err := rt.setup(app); err != nil {
			return nil, fmt.Errorf("application setup failed: %w", err)
		}
	}
	return app, nil
}

func registerBuiltinTasks(app *web.App) error {
	logger := app.Logger()
	err := app.Tasks().Register(TaskSessionsCleanup, "delete expired sessions", func(ctx context.Context) error {
		n, err := app.Sessions().Cleanup(ctx)
		if err != nil {
			return err
		}
		logger.Info("session cleanup completed", zap.Int64("deleted", n))
		return nil
	})
	if err != nil {
		return err
	}
	return app.Tasks().Register(TaskDBMigrate, "apply pending database migrations", func(ctx context.Context) error {
		db := app.Database()
		if db == nil {
			return web.ErrNoDatabase
		}
		applied, err := db.Migrate(ctx)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", zap.Strings("migrations", applied))
		return nil
	})
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bolts %s\n", config.AppVersion)
		},
	}
}
