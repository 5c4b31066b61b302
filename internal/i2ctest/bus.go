// Package i2ctest provides an in-memory embd.I2CBus for driver tests.
package i2ctest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kidoman/embd"
)

var ErrNoAck = errors.New("i2ctest: no acknowledgment")

// Transfer records one register transaction seen by the bus.
type Transfer struct {
	Reg  byte
	Len  int
	Data []byte // written bytes, nil for reads
}

// Bus emulates a single device at Addr. Register reads and writes
// auto-increment through Regs.
type Bus struct {
	Addr byte

	mu     sync.Mutex
	regs   [256]byte
	reads  []Transfer
	writes []Transfer
	err    error
}

var _ embd.I2CBus = (*Bus)(nil)

func NewBus(addr byte) *Bus {
	return &Bus{Addr: addr}
}

// Set stores data in the register file starting at reg.
func (b *Bus) Set(reg byte, data ...byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range data {
		b.regs[reg+byte(i)] = v
	}
}

// Reg returns the current content of one register.
func (b *Bus) Reg(reg byte) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[reg]
}

// Fail makes every following transaction return err. Fail(nil) clears it.
func (b *Bus) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *Bus) Reads() []Transfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Transfer(nil), b.reads...)
}

func (b *Bus) Writes() []Transfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Transfer(nil), b.writes...)
}

// Reset forgets the recorded transactions, the register file is kept.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads = nil
	b.writes = nil
}

func (b *Bus) check(addr byte) error {
	if b.err != nil {
		return b.err
	}
	if addr != b.Addr {
		return fmt.Errorf("%w from address 0x%02x", ErrNoAck, addr)
	}
	return nil
}

func (b *Bus) ReadFromReg(addr, reg byte, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(addr); err != nil {
		return err
	}
	for i := range value {
		value[i] = b.regs[reg+byte(i)]
	}
	b.reads = append(b.reads, Transfer{Reg: reg, Len: len(value)})
	return nil
}

func (b *Bus) ReadByteFromReg(addr, reg byte) (byte, error) {
	var v [1]byte
	err := b.ReadFromReg(addr, reg, v[:])
	return v[0], err
}

func (b *Bus) ReadWordFromReg(addr, reg byte) (uint16, error) {
	var v [2]byte
	err := b.ReadFromReg(addr, reg, v[:])
	return uint16(v[0])<<8 | uint16(v[1]), err
}

func (b *Bus) WriteToReg(addr, reg byte, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(addr); err != nil {
		return err
	}
	for i, v := range value {
		b.regs[reg+byte(i)] = v
	}
	b.writes = append(b.writes, Transfer{Reg: reg, Len: len(value), Data: append([]byte(nil), value...)})
	return nil
}

func (b *Bus) WriteByteToReg(addr, reg, value byte) error {
	return b.WriteToReg(addr, reg, []byte{value})
}

func (b *Bus) WriteWordToReg(addr, reg byte, value uint16) error {
	return b.WriteToReg(addr, reg, []byte{byte(value >> 8), byte(value)})
}

func (b *Bus) ReadByte(addr byte) (byte, error) {
	return b.ReadByteFromReg(addr, 0)
}

func (b *Bus) ReadBytes(addr byte, num int) ([]byte, error) {
	v := make([]byte, num)
	err := b.ReadFromReg(addr, 0, v)
	return v, err
}

func (b *Bus) WriteByte(addr, value byte) error {
	return b.WriteToReg(addr, 0, []byte{value})
}

func (b *Bus) WriteBytes(addr byte, value []byte) error {
	if len(value) == 0 {
		return nil
	}
	return b.WriteToReg(addr, value[0], value[1:])
}

func (b *Bus) Close() error {
	return nil
}
