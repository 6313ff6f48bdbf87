package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/herald/internal/config"
	"github.com/mrz1836/herald/internal/output"
	"github.com/mrz1836/herald/internal/service/transaction"
)

type cmdContextKey struct{}

// CommandContext holds dependencies for CLI commands.
type CommandContext struct {
	Cfg *config.Config
	Log *config.Logger
	Fmt *output.Formatter

	// Networks overrides the networks built from Cfg.
	Networks transaction.NetworkProvider
}

// NewCommandContext creates a context with the given dependencies.
func NewCommandContext(cfg *config.Config, logger *config.Logger, formatter *output.Formatter) *CommandContext {
	return &CommandContext{
		Cfg: cfg,
		Log: logger,
		Fmt: formatter,
	}
}

// WithNetworks sets the network provider.
func (c *CommandContext) WithNetworks(n transaction.NetworkProvider) *CommandContext {
	c.Networks = n
	return c
}

// SetCmdContext attaches cc to cmd.
func SetCmdContext(cmd *cobra.Command, cc *CommandContext) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	cmd.SetContext(context.WithValue(base, cmdContextKey{}, cc))
}

// GetCmdContext returns the context attached to cmd, falling back to the
// globals initialized by the root command.
func GetCmdContext(cmd *cobra.Command) *CommandContext {
	if ctx := cmd.Context(); ctx != nil {
		if cc, ok := ctx.Value(cmdContextKey{}).(*CommandContext); ok {
			return cc
		}
	}
	return NewCommandContext(cfg, logger, formatter)
}

// requestContext bounds one network or database request made for cmd.
// A non-positive limit leaves only the command's own cancellation.
func requestContext(cmd *cobra.Command, limit time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, limit)
}
