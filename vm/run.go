package vm

import (
	"os"
	"runtime/debug"
	"strconv"
)

// RunWithGCDisabled runs the VM with the garbage collector disabled for the
// duration of the call. All machine memory is allocated up front at
// construction time; the only allocations during Run are the occasional
// call-stack frame, so disabling GC keeps the tight fetch/decode/execute
// loop free of collection pauses. GOGC is restored to its previous value
// (or 100, Go's default, if unset) before returning.
func (v *VM) RunWithGCDisabled() error {
	key, ok := os.LookupEnv("GOGC")
	if !ok {
		key = "100"
	}
	gcPercent, err := strconv.Atoi(key)
	if err != nil {
		gcPercent = 100
	}

	debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	return v.Run()
}
