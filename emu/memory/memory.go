/*
 * S390  - Guest absolute storage
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package memory

import (
	"encoding/binary"
	"errors"
)

// Guest absolute storage, byte addressed, big endian.
type Memory struct {
	mem  []byte
	key  []uint8
	size uint64
}

const (
	MaxSize  = 1024 * 1024 // Largest storage size in K
	KeyShift = 12          // Storage key block is 4K

	KeyACC    uint8 = 0xf0 // Access control bits
	KeyFetch  uint8 = 0x08 // Fetch protection
	KeyRef    uint8 = 0x04 // Reference bit
	KeyChange uint8 = 0x02 // Change bit
)

var (
	ErrAddressing = errors.New("memory: addressing exception")
	ErrProtection = errors.New("memory: protection exception")
)

// Create new storage of k kilobytes.
func New(k int) *Memory {
	m := &Memory{}
	m.SetSize(k)
	return m
}

// Set size in K, contents are cleared.
func (m *Memory) SetSize(k int) {
	if k > MaxSize {
		k = MaxSize
	}
	if k < 0 {
		k = 0
	}
	m.size = uint64(k) * 1024
	m.mem = make([]byte, m.size)
	m.key = make([]uint8, (m.size+(1<<KeyShift)-1)>>KeyShift)
}

// Return size of memory in bytes.
func (m *Memory) Size() uint64 {
	return m.size
}

// Check if address range inside storage.
func (m *Memory) CheckAddr(addr uint64, length int) bool {
	if length < 0 {
		return false
	}
	end := addr + uint64(length)
	return end >= addr && end <= m.size
}

// Verify access key against the storage keys of the range.
func (m *Memory) checkKey(addr uint64, length int, key uint8, write bool) error {
	if !m.CheckAddr(addr, length) {
		return ErrAddressing
	}
	if key == 0 || length == 0 {
		return nil
	}
	key &= 0xf
	last := (addr + uint64(length) - 1) >> KeyShift
	for blk := addr >> KeyShift; blk <= last; blk++ {
		sk := m.key[blk]
		if (sk >> 4) == key {
			continue
		}
		if write || (sk&KeyFetch) != 0 {
			return ErrProtection
		}
	}
	return nil
}

// Mark blocks referenced and optionally changed.
func (m *Memory) touch(addr uint64, length int, write bool) {
	if length == 0 {
		return
	}
	bits := KeyRef
	if write {
		bits |= KeyChange
	}
	last := (addr + uint64(length) - 1) >> KeyShift
	for blk := addr >> KeyShift; blk <= last; blk++ {
		m.key[blk] |= bits
	}
}

// Copy storage into buf.
func (m *Memory) Read(addr uint64, buf []byte) error {
	return m.ReadKey(addr, buf, 0)
}

// Copy buf into storage.
func (m *Memory) Write(addr uint64, buf []byte) error {
	return m.WriteKey(addr, buf, 0)
}

// Read under an access key.
func (m *Memory) ReadKey(addr uint64, buf []byte, key uint8) error {
	if err := m.checkKey(addr, len(buf), key, false); err != nil {
		return err
	}
	copy(buf, m.mem[addr:addr+uint64(len(buf))])
	m.touch(addr, len(buf), false)
	return nil
}

// Write under an access key.
func (m *Memory) WriteKey(addr uint64, buf []byte, key uint8) error {
	if err := m.checkKey(addr, len(buf), key, true); err != nil {
		return err
	}
	copy(m.mem[addr:], buf)
	m.touch(addr, len(buf), true)
	return nil
}

// Check that a store would succeed without doing it.
func (m *Memory) CheckWrite(addr uint64, length int, key uint8) error {
	return m.checkKey(addr, length, key, true)
}

// Get a byte from memory.
func (m *Memory) GetByte(addr uint64) (value uint8, error bool) {
	if !m.CheckAddr(addr, 1) {
		return 0, true
	}
	m.key[addr>>KeyShift] |= KeyRef
	return m.mem[addr], false
}

// Put a byte to memory.
func (m *Memory) PutByte(addr uint64, data uint8) bool {
	if !m.CheckAddr(addr, 1) {
		return true
	}
	m.key[addr>>KeyShift] |= KeyRef | KeyChange
	m.mem[addr] = data
	return false
}

// Get a halfword from memory.
func (m *Memory) GetHalf(addr uint64) (value uint16, error bool) {
	if !m.CheckAddr(addr, 2) {
		return 0, true
	}
	m.touch(addr, 2, false)
	return binary.BigEndian.Uint16(m.mem[addr:]), false
}

// Put a halfword to memory.
func (m *Memory) PutHalf(addr uint64, data uint16) bool {
	if !m.CheckAddr(addr, 2) {
		return true
	}
	m.touch(addr, 2, true)
	binary.BigEndian.PutUint16(m.mem[addr:], data)
	return false
}

// Get a word from memory.
func (m *Memory) GetWord(addr uint64) (value uint32, error bool) {
	if !m.CheckAddr(addr, 4) {
		return 0, true
	}
	m.touch(addr, 4, false)
	return binary.BigEndian.Uint32(m.mem[addr:]), false
}

// Put a word to memory.
func (m *Memory) PutWord(addr uint64, data uint32) bool {
	if !m.CheckAddr(addr, 4) {
		return true
	}
	m.touch(addr, 4, true)
	binary.BigEndian.PutUint32(m.mem[addr:], data)
	return false
}

// Put a word to memory, under mask.
func (m *Memory) PutWordMask(addr uint64, data, mask uint32) bool {
	old, err := m.GetWord(addr)
	if err {
		return true
	}
	return m.PutWord(addr, (old & ^mask)|(data&mask))
}

// Get a doubleword from memory.
func (m *Memory) GetDouble(addr uint64) (value uint64, error bool) {
	if !m.CheckAddr(addr, 8) {
		return 0, true
	}
	m.touch(addr, 8, false)
	return binary.BigEndian.Uint64(m.mem[addr:]), false
}

// Put a doubleword to memory.
func (m *Memory) PutDouble(addr uint64, data uint64) bool {
	if !m.CheckAddr(addr, 8) {
		return true
	}
	m.touch(addr, 8, true)
	binary.BigEndian.PutUint64(m.mem[addr:], data)
	return false
}

func (m *Memory) GetKey(addr uint64) uint8 {
	if addr >= m.size {
		return 0
	}
	return m.key[addr>>KeyShift]
}

func (m *Memory) PutKey(addr uint64, key uint8) {
	if addr < m.size {
		m.key[addr>>KeyShift] = key & 0xfe
	}
}
