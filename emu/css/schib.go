/*
 * S390  - Guest visible channel subsystem control blocks
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

package css

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Path management control word.
type PMCW struct {
	IntParm uint32   // Interruption parameter
	Flags   uint16   // ISC, enable, limit mode, etc.
	DevNo   uint16   // Device number
	LPM     uint8    // Logical path mask
	PNOM    uint8    // Path not operational mask
	LPUM    uint8    // Last path used mask
	PIM     uint8    // Path installed mask
	MBI     uint16   // Measurement block index
	POM     uint8    // Path operational mask
	PAM     uint8    // Path available mask
	ChpID   [8]uint8 // Channel path ids
	Chars   uint32   // Characteristics
}

// Subchannel status word.
type SCSW struct {
	Flags uint16 // Key, format, deferred condition code etc.
	Ctrl  uint16 // Function, activity and status control
	CPA   uint32 // Channel program address
	DStat uint8  // Device status
	CStat uint8  // Subchannel status
	Count uint16 // Residual count
}

// Subchannel information block.
type Schib struct {
	PMCW PMCW
	SCSW SCSW
	MBA  uint64   // Measurement block address
	MDA  [4]uint8 // Model dependent area
}

// Operation request block.
type ORB struct {
	IntParm uint32
	Ctrl0   uint16
	LPM     uint8
	Ctrl1   uint8
	CPA     uint32
}

// Extended status word.
type ESW struct {
	Word0 uint32
	ERW   uint32 // Extended report word
	Word2 uint64
	Word4 uint32
}

// Interruption response block.
type IRB struct {
	SCSW SCSW
	ESW  ESW
	ECW  [8]uint32 // Extended control word
	EMW  [8]uint32 // Extended measurement word
}

// Format 1 channel command word, also used internally for format 0.
type CCW1 struct {
	Cmd   uint8
	Flags uint8
	Count uint16
	CDA   uint32
}

// Format 0 channel command word.
type CCW0 struct {
	Cmd   uint8
	CDA0  uint8
	CDA1  uint16
	Flags uint8
	Res   uint8
	Count uint16
}

// Command information word.
type CIW struct {
	Type  uint8
	Cmd   uint8
	Count uint16
}

// Sense ID data.
type SenseID struct {
	Reserved uint8
	CUType   uint16
	CUModel  uint8
	DevType  uint16
	DevModel uint8
	Unused   uint8
	CIW      [62]CIW
}

const (
	PMCWSize    = 28
	SCSWSize    = 12
	SchibSize   = 52
	ORBSize     = 12
	IRBSize     = 96
	IRBEMWSize  = 32 // Size of measurement words at end of IRB
	CCWSize     = 8
	SenseIDSize = 256
)

// Encode block as big endian bytes.
func marshal(v interface{}) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
		panic(fmt.Sprintf("css: marshal %T: %v", v, err))
	}
	return buf.Bytes()
}

// Decode block from big endian bytes.
func unmarshal(data []byte, size int, v interface{}) error {
	if len(data) < size {
		return fmt.Errorf("short control block %d < %d: %w", len(data), size, ErrInvalid)
	}
	return binary.Read(bytes.NewReader(data[:size]), binary.BigEndian, v)
}

func (s *Schib) Marshal() []byte {
	return marshal(s)
}

func (s *Schib) Unmarshal(data []byte) error {
	return unmarshal(data, SchibSize, s)
}

func (o *ORB) Marshal() []byte {
	return marshal(o)
}

func (o *ORB) Unmarshal(data []byte) error {
	return unmarshal(data, ORBSize, o)
}

func (i *IRB) Marshal() []byte {
	return marshal(i)
}

func (i *IRB) Unmarshal(data []byte) error {
	return unmarshal(data, IRBSize, i)
}

func (c *CCW1) Marshal() []byte {
	return marshal(c)
}

func (id *SenseID) Marshal() []byte {
	return marshal(id)
}

// Decode a CCW in either format, format 0 is converted to format 1.
func DecodeCCW(data []byte, fmt1 bool) CCW1 {
	if fmt1 {
		return CCW1{
			Cmd:   data[0],
			Flags: data[1],
			Count: binary.BigEndian.Uint16(data[2:]),
			CDA:   binary.BigEndian.Uint32(data[4:]),
		}
	}
	ccw := CCW1{
		Cmd:   data[0],
		Flags: data[4],
		Count: binary.BigEndian.Uint16(data[6:]),
		CDA:   uint32(data[1])<<16 | uint32(binary.BigEndian.Uint16(data[2:])),
	}
	// Format 0 TIC ignores flags and count
	if (ccw.Cmd & 0x0f) == 0x08 {
		ccw.Cmd = 0x08
		ccw.Flags = 0
		ccw.Count = 0
	}
	return ccw
}

// Check that ORB does not have reserved bits set.
func (o *ORB) Valid() bool {
	if (o.Ctrl0&ORBCtrl0Invalid) != 0 || (o.Ctrl1&ORBCtrl1Invalid) != 0 {
		return false
	}
	// MIDAW not supported
	if (o.Ctrl1 & ORBCtrl1Midaw) != 0 {
		return false
	}
	return (o.CPA & 0x80000000) == 0
}

// Access key for channel program.
func (o *ORB) Key() uint8 {
	return uint8((o.Ctrl0 & ORBCtrl0Key) >> 12)
}

// Check that SCHIB supplied to MSCH is valid.
func (s *Schib) Valid() bool {
	if (s.PMCW.Flags & PMCWFlagInvalid) != 0 {
		return false
	}
	if (s.PMCW.Chars & PMCWCharsInvalid) != 0 {
		return false
	}
	if (s.PMCW.Chars & PMCWCharsXMWME) != 0 {
		return false
	}
	if (s.PMCW.Chars&PMCWCharsMBFC) != 0 && (s.MBA&0x1f) != 0 {
		return false
	}
	return true
}

// Return interruption subclass.
func (p *PMCW) ISC() uint8 {
	return uint8((p.Flags & PMCWFlagISC) >> PMCWFlagISCShft)
}

func (s *SCSW) Fctl() uint16 {
	return s.Ctrl & SCSWFctlMask
}

func (s *SCSW) Actl() uint16 {
	return s.Ctrl & SCSWActlMask
}

func (s *SCSW) Stctl() uint16 {
	return s.Ctrl & SCSWStctlMask
}
