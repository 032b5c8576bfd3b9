package vm

import (
	"io"

	"github.com/pkg/errors"
)

const (
	VectorAccumulatorIncrement = 0
	VectorSyscall              = 80

	SyscallExit  = 0
	SyscallRead  = 1
	SyscallWrite = 2
	SyscallAlloc = 3
	SyscallFree  = 4
)

// initInterrupts installs the two mandatory handlers. Any other vector is
// left nil and raises UnknownInterrupt if dispatched.
func (v *VM) initInterrupts() {
	v.handlers[VectorAccumulatorIncrement] = handleAccumulatorIncrement
	v.handlers[VectorSyscall] = handleSyscall
}

// dispatchInterrupt reads the vector byte at addr, pushes a return frame
// exactly as Call does, and invokes the handler. The handler's own return
// pops that frame to resume the interrupted stream.
func (v *VM) dispatchInterrupt(addr uint64) error {
	vector, err := v.mem.GetU8(addr)
	if err != nil {
		return err
	}

	handler := v.handlers[vector]
	if handler == nil {
		return errors.WithStack(&UnknownInterrupt{Vector: vector})
	}

	if err := v.pushState(v.registers[RInstructionPtr], v.registers[RFramePtr]); err != nil {
		return err
	}
	return handler(v)
}

// handleAccumulatorIncrement is interrupt vector 0: wrapping-increment the
// accumulator then resume.
func handleAccumulatorIncrement(v *VM) error {
	v.registers[RAccumulator]++
	return v.popState()
}

// handleSyscall is interrupt vector 80: dispatch on R9 (call).
func handleSyscall(v *VM) error {
	number := v.registers[RCall]

	switch number {
	case SyscallExit:
		v.exitCode = uint8(v.registers[0])
		v.running = false

	case SyscallRead:
		dst := v.registers[0]
		count := v.registers[1]
		region, err := v.mem.Bytes(dst, count)
		if err != nil {
			return err
		}
		n, err := io.ReadFull(v.stdin, region)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return errors.Wrap(err, "sys_read")
		}
		if n < len(region) {
			region[n] = 0
		} else if len(region) > 0 {
			region[len(region)-1] = 0
		}

	case SyscallWrite:
		fd := v.registers[0]
		src := v.registers[1]
		count := v.registers[2]
		region, err := v.mem.Bytes(src, count)
		if err != nil {
			return err
		}
		n, err := v.writeFD(fd, region)
		if err != nil {
			return errors.Wrap(err, "sys_write")
		}
		v.registers[RAccumulator] = uint64(int64(n))

	case SyscallAlloc, SyscallFree:
		return errors.WithStack(&UnknownSystemCall{Number: number})

	default:
		return errors.WithStack(&UnknownSystemCall{Number: number})
	}

	return v.popState()
}

// writeFD writes to the syscall-visible stdout stream regardless of the
// requested file descriptor number; this VM exposes exactly one writable
// stream to the host.
func (v *VM) writeFD(fd uint64, data []byte) (int, error) {
	if v.stdout == nil {
		return len(data), nil
	}
	return v.stdout.Write(data)
}
