package cmd

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mealet/gvm/vm"
)

// Defaults used whenever neither a -m/-s flag nor a nonzero header value is
// available, matching the metadata-header fallback in the CLI contract.
const (
	defaultMemSize   = 1024
	defaultStackSize = 256

	// headerLen is mem_size:8 + stack_size:8 + the 0xFF sentinel byte that
	// separates the metadata header from the data section.
	headerLen = 17
)

// NewRunCommand builds the `run` subcommand: loads a .mvm image, optionally
// overriding its header-declared memsize/stacksize, and executes it to
// completion.
func NewRunCommand() *cobra.Command {
	var memSize, stackSize uint64

	c := &cobra.Command{
		Use:   "run <PROGRAM>",
		Short: "execute a .mvm program image",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var memOverride, stackOverride *uint64
			if c.Flags().Changed("memsize") {
				memOverride = &memSize
			}
			if c.Flags().Changed("stacksize") {
				stackOverride = &stackSize
			}
			return runProgram(args[0], memOverride, stackOverride)
		},
	}
	c.Flags().Uint64VarP(&memSize, "memsize", "m", defaultMemSize, "override the image's memory size in bytes")
	c.Flags().Uint64VarP(&stackSize, "stacksize", "s", defaultStackSize, "override the image's stack size in bytes")
	return c
}

func runProgram(path string, memOverride, stackOverride *uint64) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	if len(raw) < headerLen {
		return errors.Errorf("%s: program image is too short to contain a metadata header", path)
	}

	headerMemSize := binary.BigEndian.Uint64(raw[0:8])
	headerStackSize := binary.BigEndian.Uint64(raw[8:16])
	body := raw[headerLen:]

	memSize := resolveSize(memOverride, headerMemSize, defaultMemSize)
	stackSize := resolveSize(stackOverride, headerStackSize, defaultStackSize)

	machine, err := vm.New(memSize, stackSize, vm.WithIO(os.Stdin, os.Stdout), vm.WithLogger(log))
	if err != nil {
		return errors.Wrap(err, "constructing vm")
	}

	if err := machine.InsertProgram(body); err != nil {
		return errors.Wrap(err, "loading program")
	}

	runErr := machine.RunWithGCDisabled()
	log.Debug("run finished", zap.Uint8("exit_code", machine.ExitCode()), zap.Error(runErr))
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
	os.Exit(int(machine.ExitCode()))
	return nil
}

// resolveSize prefers an explicit -m/-s override, then falls back to the
// header's declared value, then the CLI-wide default when the header value
// itself is zero (an image with no metadata written, e.g. a hand-assembled
// test fixture).
func resolveSize(override *uint64, header, def uint64) uint64 {
	if override != nil {
		return *override
	}
	if header != 0 {
		return header
	}
	return def
}
