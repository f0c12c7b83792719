package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/benchrec/internal/adapters/container"
	"github.com/okian/benchrec/internal/adapters/http/api"
	app "github.com/okian/benchrec/internal/app"
	"github.com/okian/benchrec/internal/config"
	"github.com/okian/benchrec/pkg/logger"
	"github.com/okian/benchrec/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "benchrec",
		Short:         "Benchmark recorder",
		Long:          "Records competitor controllers in the simulator and maintains the benchmark's result set.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.InitWithOptions(logger.WithOutput(cmd.ErrOrStderr())); err != nil {
				return err
			}
			if opts.logLevel != "" {
				return logger.SetLevelString(opts.logLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "configuration file (default $BENCH_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level")

	root.AddCommand(newRecordCmd(opts))
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newFormatCmd())
	root.AddCommand(newStandingsCmd(opts))
	return root
}

// loadConfig loads the configuration and applies its logging settings.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	ctx := cmd.Context()
	path := opts.configFile
	if path == "" {
		path = os.Getenv("BENCH_CONFIG")
	}
	cfg, err := config.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}

	if cfg.LogJSON {
		if err := logger.InitWithOptions(logger.WithOutput(cmd.ErrOrStderr()), logger.WithJSON(true)); err != nil {
			return nil, err
		}
	}
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(level); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", level), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var individual string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record every competitor, or one with --individual",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if individual != "" {
				cfg.IndividualEvaluation = individual
			}
			return runRecord(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&individual, "individual", "", "re-evaluate a single competitor given as id:owner/repo")
	return cmd
}

func runRecord(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	log := logger.Get().Named("record")

	engine, err := container.NewClient()
	if err != nil {
		return err
	}
	defer engine.Close()

	out := cmd.OutOrStdout()
	runner := app.NewRunner(cfg, app.DockerProcesses(engine, cfg, out), app.WithEcho(out))
	svc := app.New(cfg, runner)

	stopServer := startOperatorServer(ctx, cfg.MetricsAddr, svc)
	defer stopServer()

	records, err := svc.Record(ctx)
	if cfg.MetricsTextfile != "" {
		if werr := metrics.WriteTextfile(cfg.MetricsTextfile); werr != nil {
			log.Warn(ctx, "metrics textfile not written", logger.Error(werr))
		}
	}
	if err != nil {
		return err
	}
	for _, rec := range records {
		log.Info(ctx, "result", logger.String("line", rec.Line()))
	}
	return nil
}

// startOperatorServer serves /metrics and /status while the batch runs.
func startOperatorServer(ctx context.Context, addr string, svc *app.Service) func() {
	if addr == "" {
		return func() {}
	}
	log := logger.Get().Named("http")

	mux := http.NewServeMux()
	api.NewServer(svc).Register(ctx, mux)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
	}
}
