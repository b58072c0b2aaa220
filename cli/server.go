package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	prof "github.com/go-while/go-cpu-mem-profiler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/go-while/go-bolts/tasks"
)

func (rt *runtime) serverCommand() *cobra.Command {
	var addr, pprofAddr string
	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"s"},
		Short:   "Serve the application",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				rt.cfg.Web.ListenAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return rt.serve(ctx, pprofAddr)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides web.listen_addr)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "serve pprof and record memory profiles on this address, e.g. :51111")
	return cmd
}

// serve runs migrations, then the HTTP server, the job scheduler and (in
// development) the template watcher until ctx is done.
func (rt *runtime) serve(ctx context.Context, pprofAddr string) error {
	logger := rt.logger
	if pprofAddr != "" {
		p := prof.NewProf()
		go p.PprofWeb(pprofAddr)
		p.StartMemProfile(5*time.Minute, 30*time.Second)
		logger.Info("profiler enabled", zap.String("addr", pprofAddr))
	}

	db, err := rt.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()
	applied, err := db.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("migrations", applied))
	}

	app, err := rt.buildApp(db)
	if err != nil {
		return err
	}
	logger.Info("starting bolts",
		zap.String("env", rt.cfg.Env),
		zap.String("addr", rt.cfg.Web.ListenAddr),
		zap.Int("routes", len(app.Routes())))

	scheduler := tasks.NewScheduler(logger.Named("scheduler"))
	err = scheduler.Every(TaskSessionsCleanup, rt.cfg.Session.CleanupInterval, func(ctx context.Context) error {
		return app.Tasks().Run(ctx, TaskSessionsCleanup)
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Serve(gctx)
	})
	if err := scheduler.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		scheduler.Wait()
		return nil
	})
	if rt.cfg.Web.ReloadTemplates {
		if fi, err := os.Stat(app.Templates().Dir()); err == nil && fi.IsDir() {
			g.Go(func() error {
				return app.Templates().Watch(gctx)
			})
		}
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("bolts stopped")
	return err
}
