package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/spf13/cobra"

	"github.com/mealet/gvm/cmd"
)

// newLogger builds the structured logger threaded into both subcommands.
// --debug swaps production config (JSON, info level) for a verbose
// development config (console encoding, debug level) rather than changing
// any semantic behavior.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func main() {
	var debug bool

	root := &cobra.Command{
		Use:           "gvm",
		Short:         "gvm assembles and runs programs for the gvm register machine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable verbose development logging")

	root.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		log, err := newLogger(debug)
		if err != nil {
			return err
		}
		cmd.SetLogger(log)
		return nil
	}

	root.AddCommand(cmd.NewCompileCommand())
	root.AddCommand(cmd.NewRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
