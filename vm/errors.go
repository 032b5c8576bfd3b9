package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel runtime errors. Compared by identity with errors.Is; any wrapping
// applied on top (instruction offset, opcode byte) goes through errors.Wrap
// so errors.Cause still recovers one of these.
var (
	ErrOutOfBounds        = errors.New("out of bounds")
	ErrWriteEntryRejected = errors.New("write entry rejected: first byte must be halt")
	ErrNoTextSection      = errors.New("no text section found")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrCallStackOverflow  = errors.New("call stack overflow")
	ErrEmptyCallStackPop  = errors.New("empty call stack pop")
	ErrEmptyStackPop      = errors.New("empty stack pop")
	ErrStackOutOfFrame    = errors.New("stack access out of frame")
)

// SegmentationFault is raised by the memory buffer whenever an access would
// read or write past its bounds.
type SegmentationFault struct {
	Addr uint64
}

func (e *SegmentationFault) Error() string {
	return fmt.Sprintf("segmentation fault at address %d", e.Addr)
}

// InvalidOpcode is raised by the fetch/decode loop for an unrecognized
// opcode byte.
type InvalidOpcode struct {
	Byte byte
}

func (e *InvalidOpcode) Error() string {
	return fmt.Sprintf("invalid opcode 0x%02x", e.Byte)
}

// UnknownInterrupt is raised when Interrupt dispatches to a vector with no
// registered handler.
type UnknownInterrupt struct {
	Vector byte
}

func (e *UnknownInterrupt) Error() string {
	return fmt.Sprintf("unknown interrupt vector %d", e.Vector)
}

// UnknownSystemCall is raised by the vector-80 handler for an R9 value with
// no dispatch case.
type UnknownSystemCall struct {
	Number uint64
}

func (e *UnknownSystemCall) Error() string {
	return fmt.Sprintf("unknown system call %d", e.Number)
}
