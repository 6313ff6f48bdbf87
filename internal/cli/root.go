// Package cli implements the herald command-line interface.
//
// This package uses global variables to manage CLI state, which is the standard
// pattern for Cobra-based CLI applications. The globals are initialized in
// PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/mrz1836/herald/internal/config"
	"github.com/mrz1836/herald/internal/output"
	"github.com/mrz1836/herald/internal/service/transaction"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

var (
	// Global flags
	homeDir      string
	outputFormat string
	verbose      bool
	metricsAddr  string

	// Global state initialized in PersistentPreRunE
	cfg       *config.Config
	logger    *config.Logger
	formatter *output.Formatter

	commandsListed sync.Once
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "herald",
	Short: "Sign and submit transactions across extrinsic and contract chains",
	Long: `Herald validates, signs and submits transactions on Substrate-style
(extrinsic) and EVM-style (contract) networks, then follows them to inclusion.

Accounts sign with a password-protected local key, an air-gapped QR signer or
a hardware device.

Example:
  herald keys import main --scheme ed25519 --ss58-prefix 42
  herald tx send --chain westend --from 5F... --to 5G... --amount 1.5
  herald tx list --chain westend`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := initGlobals(); err != nil {
			return err
		}
		SetCmdContext(cmd, NewCommandContext(cfg, logger, formatter))
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
}

// Execute runs the root command.
func Execute() error {
	commandsListed.Do(func() { listCommands(rootCmd) })

	err := rootCmd.Execute()
	if err != nil {
		format := output.FormatText
		if formatter != nil {
			format = formatter.Format()
		}
		var verr *transaction.ValidationError
		if errors.As(err, &verr) {
			_ = output.FormatErrors(os.Stderr, verr.Errors, verr.Warnings, format)
		} else {
			_ = output.FormatError(os.Stderr, err, format)
		}
		return err
	}
	return nil
}

// listCommands appends to the help of every command group the runnable
// commands beneath it, e.g. "tx send" under herald and "send" under tx.
func listCommands(group *cobra.Command) {
	var leaves []*cobra.Command
	var collect func(*cobra.Command)
	collect = func(c *cobra.Command) {
		for _, sub := range c.Commands() {
			if !sub.IsAvailableCommand() {
				continue
			}
			if sub.Runnable() {
				leaves = append(leaves, sub)
			}
			collect(sub)
		}
	}
	collect(group)
	if len(leaves) == 0 {
		return
	}

	prefix := group.CommandPath() + " "
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(group.Long, "\n"))
	sb.WriteString("\n\nCommands:\n")
	for _, leaf := range leaves {
		fmt.Fprintf(&sb, "  %-22s %s\n", strings.TrimPrefix(leaf.CommandPath(), prefix), leaf.Short)
	}
	group.Long = sb.String()

	for _, sub := range group.Commands() {
		if sub.HasAvailableSubCommands() {
			listCommands(sub)
		}
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return heralderr.ExitCode(err)
}

// initGlobals loads the configuration and initializes the logger and formatter.
func initGlobals() error {
	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}
	home = config.ExpandHome(home)

	var err error
	cfg, err = config.Load(config.Path(home))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Defaults()
		cfg.Home = home
	case err != nil:
		return err
	}

	config.ApplyEnvironment(cfg)

	// Flags win over the environment
	if homeDir != "" {
		cfg.Home = homeDir
	}
	if verbose {
		cfg.Output.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if outputFormat != "" && outputFormat != string(output.FormatAuto) {
		cfg.Output.DefaultFormat = outputFormat
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	if err = cfg.Validate(); err != nil {
		return err
	}

	logger, err = config.NewLogger(config.ParseLogLevel(cfg.GetLoggingLevel()), cfg.GetLoggingFile())
	if err != nil {
		logger = config.NullLogger()
	}

	formatter = output.NewFormatter(output.ParseFormat(cfg.GetOutputFormat()), os.Stdout)
	return nil
}

// cleanup releases resources.
func cleanup() {
	if logger != nil {
		_ = logger.Close()
	}
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "herald data directory (default: ~/.herald)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "auto", "output format: text, json, auto")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
}
