// Package cmd holds the gvm CLI's subcommands: compile (asm/ pipeline) and
// run (vm/ loader and executor). Each is a *cobra.Command built by its own
// constructor so main.go only has to register them on the root command.
package cmd

import "go.uber.org/zap"

// log is populated once by the root command's PersistentPreRunE before any
// subcommand's RunE executes. It is never read before SetLogger runs, so a
// nil check here would only hide a wiring bug in main.go.
var log *zap.Logger

// SetLogger installs the logger built from the root --debug flag. Called
// once per process invocation.
func SetLogger(l *zap.Logger) {
	log = l
}
