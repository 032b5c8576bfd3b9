package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStackSentinel(t *testing.T) {
	v, err := New(256, 128)
	require.NoError(t, err)

	sp, err := v.GetRegister(RStackPtr)
	require.NoError(t, err)
	fp, err := v.GetRegister(RFramePtr)
	require.NoError(t, err)

	require.Equal(t, uint64(256-128), sp)
	require.Equal(t, sp, fp)

	sentinel, err := v.mem.GetU8(sp)
	require.NoError(t, err)
	require.Equal(t, byte(0xFF), sentinel)
}

func TestNewRejectsOversizedStack(t *testing.T) {
	_, err := New(128, 128)
	require.Error(t, err)
}

func TestInsertProgramRejectsSecondLoad(t *testing.T) {
	v, err := New(256, 128)
	require.NoError(t, err)

	require.NoError(t, v.InsertProgram([]byte{byte(OpMov8), 0, 0}))

	// address 0 now holds Mov8, not Halt, so a second load is rejected.
	err = v.InsertProgram([]byte{byte(OpHalt)})
	require.ErrorIs(t, err, ErrWriteEntryRejected)
}

func TestInsertProgramAppendsTrailingHalt(t *testing.T) {
	v, err := New(256, 128)
	require.NoError(t, err)

	require.NoError(t, v.InsertProgram([]byte{byte(OpMov8), 0, 0}))

	memPtr, err := v.GetRegister(RMemPtr)
	require.NoError(t, err)
	require.Equal(t, uint64(4), memPtr)

	last, err := v.mem.GetU8(3)
	require.NoError(t, err)
	require.Equal(t, byte(OpHalt), last)
}

func TestInsertProgramOutOfBounds(t *testing.T) {
	v, err := New(16, 8)
	require.NoError(t, err)

	err = v.InsertProgram(make([]byte, 16))
	require.ErrorIs(t, err, ErrOutOfBounds)
}

// interrupt_0_test (original_source/src/vm/interrupts.rs) ported: a
// Data/Text-section program whose only instruction is `int 1`, where
// address 1 is zero, so vector 0 fires and increments the accumulator.
func TestInterruptVectorZeroIncrementsAccumulator(t *testing.T) {
	v, err := New(256, 128)
	require.NoError(t, err)

	program := []byte{
		byte(OpDataSection),
		0, 0, 0, 0, 0, 0, 0, 0,
		0xFF, byte(OpTextSection),

		byte(OpInterrupt), 0, 0, 0, 0, 0, 0, 0, 1,

		byte(OpHalt),
	}

	require.NoError(t, v.InsertProgram(program))
	require.NoError(t, v.Run())

	acc, err := v.GetRegister(RAccumulator)
	require.NoError(t, err)
	require.Equal(t, uint64(1), acc)
}

func TestUnknownInterruptVector(t *testing.T) {
	v, err := New(256, 128)
	require.NoError(t, err)

	program := []byte{
		byte(OpDataSection),
		0, 0, 0, 0, 0, 0, 0, 5,
		0xFF, byte(OpTextSection),

		byte(OpInterrupt), 0, 0, 0, 0, 0, 0, 0, 8, // address 8 holds vector 5

		byte(OpHalt),
	}

	require.NoError(t, v.InsertProgram(program))
	err = v.Run()

	var unknown *UnknownInterrupt
	require.ErrorAs(t, err, &unknown)
	require.EqualValues(t, 5, unknown.Vector)
}

func TestSysExitSetsExitCode(t *testing.T) {
	v, err := New(256, 128)
	require.NoError(t, err)

	program := []byte{
		byte(OpDataSection),
		0, 0, 0, 0, 0, 0, 0, 0,
		0xFF, byte(OpTextSection),

		byte(OpMov8), 0, 0, 0, 0, 0, 0, 0, 0, // never executed: the handler is driven directly below
		byte(OpHalt),
	}
	require.NoError(t, v.InsertProgram(program))
	require.NoError(t, v.SetRegister(RCall, SyscallExit))
	require.NoError(t, v.SetRegister(0, 7))

	// Drive the syscall handler directly: this isolates sys_exit semantics
	// from vector dispatch, which is covered by the interrupt tests above.
	// handleSyscall always ends with a pop-state, so seed one frame as
	// dispatchInterrupt would have.
	require.NoError(t, v.pushState(0, 0))
	v.running = true
	require.NoError(t, handleSyscall(v))
	require.False(t, v.running)
	require.Equal(t, uint8(7), v.ExitCode())
}

func TestSysWriteWritesToStdout(t *testing.T) {
	var out bytes.Buffer
	v, err := New(256, 128, WithIO(bytes.NewReader(nil), &out))
	require.NoError(t, err)

	payload := []byte("hi")
	for i, b := range payload {
		require.NoError(t, v.mem.SetU8(uint64(10+i), b))
	}

	require.NoError(t, v.SetRegister(RCall, SyscallWrite))
	require.NoError(t, v.SetRegister(0, 1))  // fd
	require.NoError(t, v.SetRegister(1, 10)) // src addr
	require.NoError(t, v.SetRegister(2, uint64(len(payload))))

	require.NoError(t, v.pushState(0, 0))
	require.NoError(t, handleSyscall(v))
	require.Equal(t, "hi", out.String())

	acc, err := v.GetRegister(RAccumulator)
	require.NoError(t, err)
	require.Equal(t, uint64(2), acc)
}

func TestSysReadTerminatesBuffer(t *testing.T) {
	v, err := New(256, 128, WithIO(bytes.NewReader([]byte("ab")), nil))
	require.NoError(t, err)

	require.NoError(t, v.SetRegister(RCall, SyscallRead))
	require.NoError(t, v.SetRegister(0, 20)) // dest addr
	require.NoError(t, v.SetRegister(1, 4))  // count

	require.NoError(t, v.pushState(0, 0))
	require.NoError(t, handleSyscall(v))

	region, err := v.mem.Bytes(20, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{'a', 'b', 0, 0}, region)
}

func TestUnknownSyscall(t *testing.T) {
	v, err := New(256, 128)
	require.NoError(t, err)

	require.NoError(t, v.SetRegister(RCall, 99))
	err = handleSyscall(v)

	var unknown *UnknownSystemCall
	require.ErrorAs(t, err, &unknown)
	require.EqualValues(t, 99, unknown.Number)
}

func TestAllocAndFreeAreUnknownSyscalls(t *testing.T) {
	v, err := New(256, 128)
	require.NoError(t, err)

	for _, n := range []uint64{SyscallAlloc, SyscallFree} {
		require.NoError(t, v.SetRegister(RCall, n))
		err := handleSyscall(v)
		var unknown *UnknownSystemCall
		require.ErrorAs(t, err, &unknown)
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	v, err := New(256, 128)
	require.NoError(t, err)

	require.NoError(t, v.pushStack(8, 0xDEADBEEF))
	val, err := v.popStack(8)
	require.NoError(t, err)
	require.Equal(t, uint64(0xDEADBEEF), val)
}

func TestPopStackUnderflow(t *testing.T) {
	v, err := New(256, 128)
	require.NoError(t, err)

	_, err = v.popStack(8)
	require.ErrorIs(t, err, ErrEmptyStackPop)
}

func TestCallReturnRestoresFrame(t *testing.T) {
	v, err := New(256, 128)
	require.NoError(t, err)

	program := []byte{
		byte(OpCall), 0, 0, 0, 0, 0, 0, 0, 10,
		byte(OpHalt), // index 9, never reached directly
		byte(OpReturn),
	}
	require.NoError(t, v.InsertProgram(program))
	require.NoError(t, v.Run())
}
