package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kestrel/config"
	"github.com/joshuapare/kestrel/internal/logger"
	"github.com/joshuapare/kestrel/kernel"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	noColor    bool
	configPath string
	memoryMiB  uint64
	refresh    string
	logLevel   string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "kestrelctl",
	Short: "Boot and inspect the kestrel kernel core",
	Long: `kestrelctl boots the kestrel kernel core on a simulated single-core
machine, drives it with timer interrupts and reports what the frame allocator,
page tables, region allocator and scheduler are doing.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			// lipgloss reads NO_COLOR when it first renders.
			os.Setenv("NO_COLOR", "1")
		}
		return setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "JSON configuration file")
	rootCmd.PersistentFlags().Uint64Var(&memoryMiB, "memory", 0, "Simulated RAM in MiB (overrides config)")
	rootCmd.PersistentFlags().StringVar(&refresh, "refresh", "", "Kernel mapping refresh policy: always or on-change")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file ('-' for stderr)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config and applies the flag overrides.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return config.Config{}, err
		}
	}
	if memoryMiB != 0 {
		cfg.MemoryBytes = memoryMiB << 20
	}
	if refresh != "" {
		cfg.Refresh = refresh
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate()
}

// setupLogging enables the kernel logger when --log-file is given.
func setupLogging() error {
	if logFile == "" {
		return logger.Init(logger.Options{})
	}
	level := logLevel
	if level == "" && configPath != "" {
		if cfg, err := config.Load(configPath); err == nil {
			level = cfg.LogLevel
		}
	}

	var w io.Writer = os.Stderr
	if logFile != "-" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
	}
	return logger.Init(logger.Options{
		Enabled: true,
		Writer:  w,
		Level:   logger.ParseLevel(level),
		JSON:    jsonOut,
	})
}

// bootKernel boots with the loaded configuration and the demo workload.
func bootKernel(echo io.Writer) (*kernel.Kernel, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts := kernel.Demo()
	opts.Echo = echo
	printVerbose("Booting with %s of RAM, refresh=%s\n", formatBytes(cfg.MemoryBytes), cfg.Refresh)
	k, err := kernel.Boot(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	return k, nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
