package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aqpeval/internal/config"
	"aqpeval/internal/runner"
	"aqpeval/internal/util"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type flags struct {
	workers   int
	outputDir string
	verbose   bool
	logFile   string
}

func main() {
	var f flags
	root := &cobra.Command{
		Use:           "aqpeval <query-config>",
		Short:         "Evaluate sample-based approximate aggregation against the exact answer",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], f)
		},
	}
	root.Flags().IntVar(&f.workers, "workers", 0, "parallel Monte Carlo rounds (overrides the config)")
	root.Flags().StringVar(&f.outputDir, "output-dir", "", "directory for run artifacts (overrides the config)")
	root.Flags().BoolVar(&f.verbose, "verbose", false, "enable debug logging")
	root.Flags().StringVar(&f.logFile, "log-file", "", "also append logs to this file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "aqpeval: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, path string, f flags) error {
	cfg, err := config.Load(path)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if cmd.Flags().Changed("workers") && f.workers > 0 {
		cfg.Workers = f.workers
	}
	if f.outputDir != "" {
		cfg.OutputDir = f.outputDir
	}
	if f.verbose {
		cfg.Logging.Verbose = true
	}
	if f.logFile != "" {
		cfg.Logging.LogFile = f.logFile
	}

	out, closer, err := util.OpenLogFile(cfg.Logging.LogFile)
	if err != nil {
		return errors.Wrap(err, "failed to open log file")
	}
	log := util.NewLogger(out, cfg.Logging.Verbose).
		WithPrecision(cfg.Logging.FloatPrecision).
		WithColor(cfg.Logging.LogFile == "")
	if closer != nil {
		defer log.Close(closer, "log file")
	}

	log.Infof("starting aqpeval with %d worker(s)", cfg.Workers)
	if data, err := yaml.Marshal(&cfg); err == nil {
		log.Debugf("config:\n%s", string(data))
	}

	r, err := runner.New(cfg, log)
	if err != nil {
		return errors.Wrap(err, "failed to start")
	}
	defer r.Close()
	if _, err := r.Run(cmd.Context()); err != nil {
		return errors.Wrap(err, "run failed")
	}
	return nil
}
