package vm

import "encoding/binary"

// Memory is a flat, bounds-checked byte buffer. Every multi-byte access is
// big-endian: the metadata header, generated addresses and stored program
// values all agree on this, so there is exactly one byte order in the whole
// system.
type Memory struct {
	buf []byte
}

// NewMemory allocates a zeroed buffer of the given size.
func NewMemory(size uint64) *Memory {
	return &Memory{buf: make([]byte, size)}
}

// Len reports the buffer size in bytes.
func (m *Memory) Len() uint64 {
	return uint64(len(m.buf))
}

func (m *Memory) checkBounds(addr, width uint64) error {
	if addr+width > m.Len() {
		return &SegmentationFault{Addr: addr}
	}
	return nil
}

// Bytes returns the raw backing slice for a region, used by syscalls that
// move bytes between memory and the host (sys_read, sys_write).
func (m *Memory) Bytes(addr, length uint64) ([]byte, error) {
	if err := m.checkBounds(addr, length); err != nil {
		return nil, err
	}
	return m.buf[addr : addr+length], nil
}

func (m *Memory) GetU8(addr uint64) (uint8, error) {
	if err := m.checkBounds(addr, 1); err != nil {
		return 0, err
	}
	return m.buf[addr], nil
}

func (m *Memory) SetU8(addr uint64, value uint8) error {
	if err := m.checkBounds(addr, 1); err != nil {
		return err
	}
	m.buf[addr] = value
	return nil
}

func (m *Memory) GetU16(addr uint64) (uint16, error) {
	if err := m.checkBounds(addr, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(m.buf[addr : addr+2]), nil
}

func (m *Memory) SetU16(addr uint64, value uint16) error {
	if err := m.checkBounds(addr, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(m.buf[addr:addr+2], value)
	return nil
}

func (m *Memory) GetU32(addr uint64) (uint32, error) {
	if err := m.checkBounds(addr, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(m.buf[addr : addr+4]), nil
}

func (m *Memory) SetU32(addr uint64, value uint32) error {
	if err := m.checkBounds(addr, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(m.buf[addr:addr+4], value)
	return nil
}

func (m *Memory) GetU64(addr uint64) (uint64, error) {
	if err := m.checkBounds(addr, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(m.buf[addr : addr+8]), nil
}

func (m *Memory) SetU64(addr uint64, value uint64) error {
	if err := m.checkBounds(addr, 8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(m.buf[addr:addr+8], value)
	return nil
}

// GetWidth/SetWidth dispatch on a byte width (1, 2, 4 or 8), zero-extending
// to 64 bits on read. Used by the width-tagged opcode families so exec.go
// doesn't repeat the same switch per instruction.
func (m *Memory) GetWidth(addr uint64, width int) (uint64, error) {
	switch width {
	case 1:
		v, err := m.GetU8(addr)
		return uint64(v), err
	case 2:
		v, err := m.GetU16(addr)
		return uint64(v), err
	case 4:
		v, err := m.GetU32(addr)
		return uint64(v), err
	case 8:
		return m.GetU64(addr)
	default:
		panic("vm: unsupported width")
	}
}

func (m *Memory) SetWidth(addr uint64, width int, value uint64) error {
	switch width {
	case 1:
		return m.SetU8(addr, uint8(value))
	case 2:
		return m.SetU16(addr, uint16(value))
	case 4:
		return m.SetU32(addr, uint32(value))
	case 8:
		return m.SetU64(addr, value)
	default:
		panic("vm: unsupported width")
	}
}
