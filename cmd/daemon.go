package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashford-obs/opsd/internal/action"
	"github.com/ashford-obs/opsd/internal/config"
	"github.com/ashford-obs/opsd/internal/enclosure"
	"github.com/ashford-obs/opsd/internal/environment"
	"github.com/ashford-obs/opsd/internal/gateway"
	"github.com/ashford-obs/opsd/internal/log"
	"github.com/ashford-obs/opsd/internal/metrics"
	"github.com/ashford-obs/opsd/internal/ops"
	"github.com/ashford-obs/opsd/internal/ops/api"
	"github.com/ashford-obs/opsd/internal/schedule"
	"github.com/ashford-obs/opsd/internal/telescope"
	"github.com/ashford-obs/opsd/internal/tracing"
)

var daemonConfigPath string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the operations supervisor daemon",
	Long: `Run the supervisor daemon. The daemon polls the environment aggregator,
reconciles the dome against the scheduled window, executes the action
queue and serves the HTTP API named in the configuration file.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVarP(&daemonConfigPath, "config", "c",
		"/etc/opsd/opsd.json", "configuration file")
}

func runDaemon(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(daemonConfigPath)
	if err != nil {
		return err
	}

	cleanup, err := log.Init(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer cleanup()

	tracer, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return err
	}

	dome, err := gateway.NewDome(cfg.Dome)
	if err != nil {
		return err
	}

	var mount gateway.Mount
	if cfg.Mount.Address != "" {
		mount = gateway.NewHTTPMount(cfg.Mount.Address)
	}

	// Declared ahead of the monitor so its verdict callback can wake both
	// control loops once they exist.
	var (
		ctrl  *enclosure.Controller
		sched *telescope.Scheduler
	)

	monitor := environment.NewMonitor(environment.Config{
		Gateway:               gateway.NewHTTPEnvironment(cfg.Environment.Address),
		Groups:                cfg.Environment.Groups,
		PollInterval:          cfg.Environment.PollInterval(),
		InternalHumidityGroup: cfg.Environment.InternalHumidityGroup,
		ExternalHumidityGroup: cfg.Environment.ExternalHumidityGroup,
		OnVerdict: func(environment.Verdict) {
			ctrl.Wake()
			sched.Wake()
		},
	})

	ctrl = enclosure.NewController(enclosure.Config{
		Dome:        dome,
		Environment: monitor,
		LoopDelay:   cfg.LoopDelay(),
	})

	catalog := action.NewCatalog()
	resources := action.Resources{Location: cfg.Site.Location(), Mount: mount}
	sched = telescope.NewScheduler(telescope.Config{
		Dome:        ctrl,
		Environment: monitor,
		Catalog:     catalog,
		Resources:   resources,
		LoopDelay:   cfg.LoopDelay(),
	})

	m := metrics.New()
	sup, err := ops.NewSupervisor(ops.Config{
		Enclosure:   ctrl,
		Scheduler:   sched,
		Environment: monitor,
		Schedule: schedule.Config{
			Location:       cfg.Site.Location(),
			Catalog:        catalog,
			Resources:      resources,
			RequireTonight: cfg.RequireTonightEnabled(),
		},
		ControlMachines:  cfg.ControlMachines,
		PipelineMachines: cfg.PipelineMachines,
		Metrics:          m,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go monitor.Run(ctx)
	go ctrl.Run(ctx)
	go sched.Run(ctx)

	watchConfig(ctx, daemonConfigPath)

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.NewHandler(sup, m, tracer.Tracer()).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	log.Info(log.CatOps, "opsd started", "addr", cfg.ListenAddress, "version", version)

	select {
	case <-ctx.Done():
		log.Info(log.CatOps, "shutdown requested")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatOps, "stopping api server", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatOps, "flushing traces", err)
	}
	return nil
}

// watchConfig warns when the config file is edited while the daemon runs.
// Settings are applied only at startup; a mid-night reload could flip
// safety semantics under a moving dome.
func watchConfig(ctx context.Context, path string) {
	w, err := config.NewWatcher(path, 0)
	if err != nil {
		log.ErrorErr(log.CatConfig, "config watcher unavailable", err)
		return
	}
	changes, err := w.Start()
	if err != nil {
		log.ErrorErr(log.CatConfig, "config watcher unavailable", err)
		_ = w.Stop()
		return
	}

	go func() {
		defer func() { _ = w.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				log.Warn(log.CatConfig, "configuration changed on disk; restart opsd to apply", "path", path)
			}
		}
	}()
}
