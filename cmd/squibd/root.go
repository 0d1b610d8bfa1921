package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mcrewson/squibd/internal/agentd"
	"github.com/mcrewson/squibd/internal/config"
	"github.com/mcrewson/squibd/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configFile string
	options    []string
	dump       bool
	nodaemon   bool
	quiet      bool
	verbose    bool
	trace      bool
)

// exitCodeError carries the process exit code spec.md assigns to each
// class of startup failure: 2 for configuration errors, 3 for anything
// that fails once the agent is otherwise ready to run.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "squibd",
		Short:         "squibd collects metrics from collector processes and reports them to configured sinks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSquibd,
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "", "configuration file path")
	cmd.Flags().StringArrayVar(&options, "option", nil, "override a config key (key=value or section::key=value)")
	cmd.Flags().BoolVar(&dump, "dump", false, "print the merged configuration and exit")
	cmd.Flags().BoolVar(&nodaemon, "nodaemon", false, "run in the foreground instead of daemonizing")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "log at warning level and above")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	cmd.Flags().BoolVar(&trace, "trace", false, "log at trace level")
	return cmd
}

// run executes the CLI and returns the process exit code, the way
// main() can os.Exit without itself knowing about exitCodeError.
func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return 0
	}

	var ec *exitCodeError
	if errors.As(err, &ec) {
		fmt.Fprintln(os.Stderr, "squibd:", ec.err)
		return ec.code
	}
	fmt.Fprintln(os.Stderr, "squibd:", err)
	return 1
}

func runSquibd(*cobra.Command, []string) error {
	opts := append([]string(nil), options...)
	if nodaemon {
		opts = append(opts, "nodaemon=true")
	}
	switch {
	case trace:
		opts = append(opts, "loglevel=trace")
	case verbose:
		opts = append(opts, "loglevel=debug")
	case quiet:
		opts = append(opts, "loglevel=warning")
	}

	cfg, err := config.Load(configFile, opts)
	if err != nil {
		return &exitCodeError{2, err}
	}

	if dump {
		return printConfig(cfg)
	}

	if !cfg.Common.NoDaemon {
		if err := daemonize(cfg.Common.PidFile); err != nil {
			return &exitCodeError{3, fmt.Errorf("daemonize: %w", err)}
		}
	} else if cfg.Common.PidFile != "" {
		if err := writePidFile(cfg.Common.PidFile); err != nil {
			return &exitCodeError{3, fmt.Errorf("writing pid file: %w", err)}
		}
	}

	log, err := logging.New(logging.Config{
		Level:        cfg.Common.LogLevel,
		LogFile:      cfg.Common.LogFile,
		Console:      cfg.Common.Console || cfg.Common.NoDaemon,
		ConsoleLevel: cfg.Common.ConsoleLogLevel,
	})
	if err != nil {
		return &exitCodeError{2, err}
	}
	defer log.Close()

	agent, err := agentd.New(cfg, log)
	if err != nil {
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			return &exitCodeError{2, err}
		}
		return &exitCodeError{3, err}
	}

	if err := agent.Run(); err != nil {
		return &exitCodeError{3, err}
	}
	return nil
}

func printConfig(cfg *config.Config) error {
	encoded, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return &exitCodeError{1, err}
	}
	fmt.Println(string(encoded))
	return nil
}
