package vm

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MaxCallDepth bounds the call-state stack; Call beyond this depth raises
// CallStackOverflow rather than growing without limit.
const MaxCallDepth = 1024

// callFrame is the minimum state a Call/Interrupt must restore on return:
// the instruction pointer to resume at and the frame pointer that was
// active before the call.
type callFrame struct {
	ip uint64
	fp uint64
}

// InterruptHandler is invoked synchronously by the Interrupt opcode. It
// must end by calling popState to drop the return frame dispatchInterrupt
// pushed, which resumes the interrupted stream.
type InterruptHandler func(v *VM) error

// VM holds all machine state: memory, the 15-register file, the call
// stack and the interrupt vector table. It has no dependency on the
// assembler package; the two communicate only through the binary image.
type VM struct {
	mem       *Memory
	registers [NumRegisters]uint64

	stackBase uint64
	textFlag  bool

	callStack []callFrame
	handlers  [256]InterruptHandler

	running  bool
	exitCode uint8

	stdin  *bufio.Reader
	stdout io.Writer

	log *zap.Logger
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithIO redirects the syscall-visible standard streams; defaults to
// os.Stdin/os.Stdout when not supplied.
func WithIO(stdin io.Reader, stdout io.Writer) Option {
	return func(v *VM) {
		v.stdin = bufio.NewReader(stdin)
		v.stdout = stdout
	}
}

// WithLogger attaches a structured logger for lifecycle events (load,
// halt, fatal error). A nil logger is replaced with zap.NewNop().
func WithLogger(log *zap.Logger) Option {
	return func(v *VM) {
		v.log = log
	}
}

// New constructs a VM with a memsize-byte memory buffer whose top
// stacksize bytes are reserved for the operand stack. stack_ptr and
// frame_ptr both start at stackBase, and the sentinel byte 0xFF is
// written there. Pop detects underflow by comparing against stackBase, not
// by reading the sentinel.
func New(memsize, stacksize uint64, opts ...Option) (*VM, error) {
	if stacksize >= memsize {
		return nil, errors.Wrapf(ErrOutOfBounds, "stack size %d must be smaller than memory size %d", stacksize, memsize)
	}

	v := &VM{
		mem:       NewMemory(memsize),
		stackBase: memsize - stacksize,
		exitCode:  1,
		stdin:     bufio.NewReader(os.Stdin),
		stdout:    os.Stdout,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.log == nil {
		v.log = zap.NewNop()
	}

	// A fresh image holds Halt at address 0; insert_program checks this is
	// still true to reject writing over an already-loaded VM.
	if err := v.mem.SetU8(0, byte(OpHalt)); err != nil {
		return nil, errors.Wrap(err, "writing initial halt")
	}

	v.registers[RStackPtr] = v.stackBase
	v.registers[RFramePtr] = v.stackBase
	if err := v.mem.SetU8(v.stackBase, 0xFF); err != nil {
		return nil, errors.Wrap(err, "writing stack sentinel")
	}

	v.initInterrupts()
	return v, nil
}

// InsertProgram writes bytes at address 0, appending a trailing Halt if the
// caller omitted one, and sets mem_ptr/instruction_ptr for execution to
// begin. It fails with WriteEntryRejected if memory at address 0 is not
// currently Halt — the marker New() leaves there — which rejects loading a
// second program into an already-loaded VM.
func (v *VM) InsertProgram(program []byte) error {
	first, err := v.mem.GetU8(0)
	if err != nil {
		return err
	}
	if Opcode(first) != OpHalt {
		return errors.WithStack(ErrWriteEntryRejected)
	}

	if uint64(len(program)) >= v.stackBase {
		return errors.Wrapf(ErrOutOfBounds, "program of %d bytes leaves no room for the stack", len(program))
	}

	if len(program) == 0 {
		return nil
	}

	for i, b := range program {
		if err := v.mem.SetU8(uint64(i), b); err != nil {
			return err
		}
	}

	memPtr := uint64(len(program))
	if program[len(program)-1] != byte(OpHalt) {
		if err := v.mem.SetU8(memPtr, byte(OpHalt)); err != nil {
			return err
		}
		memPtr++
	}

	v.registers[RMemPtr] = memPtr
	v.registers[RInstructionPtr] = 0
	v.log.Debug("program loaded", zap.Uint64("mem_ptr", memPtr))
	return nil
}

// GetRegister reads a register by its 0..14 wire index.
func (v *VM) GetRegister(idx byte) (uint64, error) {
	if int(idx) >= NumRegisters {
		return 0, errors.Errorf("register index %d out of range", idx)
	}
	return v.registers[idx], nil
}

// SetRegister writes a register by its 0..14 wire index.
func (v *VM) SetRegister(idx byte, value uint64) error {
	if int(idx) >= NumRegisters {
		return errors.Errorf("register index %d out of range", idx)
	}
	v.registers[idx] = value
	return nil
}

// ExitCode reports the value set by sys_exit, meaningful once Run returns
// nil.
func (v *VM) ExitCode() uint8 {
	return v.exitCode
}

// Run loops fetch/decode/execute until Halt or a sys_exit clears the
// running flag or an instruction surfaces a fatal error.
func (v *VM) Run() error {
	v.running = true
	for v.running {
		if err := v.step(); err != nil {
			v.running = false
			v.log.Error("fatal runtime error", zap.Error(err))
			return err
		}
	}
	return nil
}

// --- fetch primitives ---

// peekByte returns the byte at instruction_ptr without advancing it.
func (v *VM) peekByte() (byte, error) {
	return v.mem.GetU8(v.registers[RInstructionPtr])
}

// stepBack retracts instruction_ptr by n bytes, used to re-align onto a
// TextSection marker once DataSection has scanned past it.
func (v *VM) stepBack(n uint64) {
	v.registers[RInstructionPtr] -= n
}

func (v *VM) fetchU8() (uint8, error) {
	val, err := v.mem.GetU8(v.registers[RInstructionPtr])
	if err != nil {
		return 0, err
	}
	v.registers[RInstructionPtr]++
	return val, nil
}

func (v *VM) fetchU16() (uint16, error) {
	val, err := v.mem.GetU16(v.registers[RInstructionPtr])
	if err != nil {
		return 0, err
	}
	v.registers[RInstructionPtr] += 2
	return val, nil
}

func (v *VM) fetchU64() (uint64, error) {
	val, err := v.mem.GetU64(v.registers[RInstructionPtr])
	if err != nil {
		return 0, err
	}
	v.registers[RInstructionPtr] += 8
	return val, nil
}

// fetchWidth fetches and zero-extends a width-tagged operand (1, 2, 4 or 8
// bytes) from instruction_ptr, advancing it by width.
func (v *VM) fetchWidth(width int) (uint64, error) {
	val, err := v.mem.GetWidth(v.registers[RInstructionPtr], width)
	if err != nil {
		return 0, err
	}
	v.registers[RInstructionPtr] += uint64(width)
	return val, nil
}

// --- call-state stack ---

func (v *VM) pushState(ip, fp uint64) error {
	if len(v.callStack) >= MaxCallDepth {
		return errors.WithStack(ErrCallStackOverflow)
	}
	v.callStack = append(v.callStack, callFrame{ip: ip, fp: fp})
	return nil
}

func (v *VM) popState() error {
	if len(v.callStack) == 0 {
		return errors.WithStack(ErrEmptyCallStackPop)
	}
	frame := v.callStack[len(v.callStack)-1]
	v.callStack = v.callStack[:len(v.callStack)-1]
	v.registers[RInstructionPtr] = frame.ip
	v.registers[RFramePtr] = frame.fp
	return nil
}

// --- operand stack ---

// pushStack writes the low `width` bytes of value at stack_ptr and advances
// it forward by width.
func (v *VM) pushStack(width int, value uint64) error {
	sp := v.registers[RStackPtr]
	if sp+uint64(width)-1 >= v.mem.Len() {
		return errors.WithStack(ErrOutOfBounds)
	}
	if err := v.mem.SetWidth(sp, width, value); err != nil {
		return err
	}
	v.registers[RStackPtr] = sp + uint64(width)
	return nil
}

// popStack retracts stack_ptr by width and reads the value that was there.
// Retracting past stackBase is the empty-stack condition.
func (v *VM) popStack(width int) (uint64, error) {
	sp := v.registers[RStackPtr]
	if sp-uint64(width) < v.stackBase {
		return 0, errors.WithStack(ErrEmptyStackPop)
	}
	newSP := sp - uint64(width)
	val, err := v.mem.GetWidth(newSP, width)
	if err != nil {
		return 0, err
	}
	v.registers[RStackPtr] = newSP
	return val, nil
}

// frameAddr resolves a frame-relative offset: offset is measured forward
// from frame_ptr, unlike peekAddr which is measured backward from
// stack_ptr — the two families have opposite sign conventions.
func (v *VM) frameAddr(offset uint16, width int) (uint64, error) {
	fp := v.registers[RFramePtr]
	addr := fp + uint64(offset) - uint64(width)
	if addr < v.stackBase || addr >= v.mem.Len() {
		return 0, errors.WithStack(ErrStackOutOfFrame)
	}
	return addr, nil
}

// peekAddr resolves a stack-top-relative offset, measured backward from
// stack_ptr.
func (v *VM) peekAddr(offset uint16, width int) (uint64, error) {
	sp := v.registers[RStackPtr]
	if uint64(offset)+uint64(width) > sp {
		return 0, errors.WithStack(ErrStackOutOfFrame)
	}
	return sp - uint64(offset) - uint64(width), nil
}
