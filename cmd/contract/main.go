// Command contract builds, checks, and packages WASM smart contracts for
// pallet-contracts style execution environments.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MaciejBaj/cargo-contract/config"
)

// Set at link time.
var (
	version = "dev"
	commit  = "none"
)

type cli struct {
	rootCmd *cobra.Command
	log     *zap.Logger
	cfg     config.Config

	configPath string
	quiet      bool
	verbose    bool
}

func newCLI() *cli {
	c := &cli{}

	c.rootCmd = &cobra.Command{
		Use:           "contract",
		Short:         "Build tool for WASM smart contracts",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
	}
	c.rootCmd.SetVersionTemplate(fmt.Sprintf(
		"{{.Name}} version {{.Version}} (commit: %s)\n", commit))

	pf := c.rootCmd.PersistentFlags()
	pf.StringVar(&c.configPath, "config", config.DefaultFileName, "configuration file")
	pf.BoolVar(&c.quiet, "quiet", false, "suppress all non-error output")
	pf.BoolVar(&c.verbose, "verbose", false, "enable debug output")
	c.rootCmd.MarkFlagsMutuallyExclusive("quiet", "verbose")

	c.rootCmd.AddCommand(
		c.newBuildCmd(),
		c.newCheckCmd(),
		c.newMetadataCmd(),
		c.newDeployCmd(),
		c.newVersionCmd(),
	)
	return c
}

// setup loads configuration and builds the logger; it runs before every
// command.
func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := zapcore.InfoLevel
	switch {
	case c.quiet:
		level = zapcore.ErrorLevel
	case c.verbose:
		level = zapcore.DebugLevel
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	log, err := zc.Build()
	if err != nil {
		return err
	}
	c.log = log
	return nil
}

func (c *cli) execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	defer func() {
		if c.log != nil {
			_ = c.log.Sync()
		}
	}()
	return c.rootCmd.Execute()
}

func (c *cli) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tool version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "contract version %s (commit: %s)\n", version, commit)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI().execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
