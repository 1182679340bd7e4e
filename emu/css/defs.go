/*
 * S390  - Channel subsystem definitions
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

import "errors"

const (
	MaxCssID               = 255    // Highest channel subsystem id, 255 is reserved
	MaxSsID                = 3      // Highest subchannel set id
	MaxSchID               = 0xffff // Highest subchannel number
	MaxDevNo               = 0xffff // Highest device number
	MaxChpID               = 0xff   // Highest channel path id
	MaxISC                 = 7      // Highest interruption subclass
	VirtioCCWChpID   uint8 = 0      // Reserved channel path for virtio-ccw
	VirtioCCWChpType uint8 = 0x32   // Channel path type for virtio-ccw

	// PMCW flags
	PMCWFlagQF      uint16 = 0x8000 // QDIO facility
	PMCWFlagW       uint16 = 0x4000 // Reserved
	PMCWFlagISC     uint16 = 0x3800 // Interruption subclass
	PMCWFlagISCShft        = 11     // Shift for ISC
	PMCWFlagInvalid uint16 = 0x0700 // Reserved bits
	PMCWFlagENA     uint16 = 0x0080 // Subchannel enabled
	PMCWFlagLM      uint16 = 0x0060 // Limit mode
	PMCWFlagMME     uint16 = 0x0018 // Measurement mode enable
	PMCWFlagMP      uint16 = 0x0004 // Multipath mode
	PMCWFlagTF      uint16 = 0x0002 // Timing facility
	PMCWFlagDNV     uint16 = 0x0001 // Device number valid

	// PMCW characteristics
	PMCWCharsST      uint32 = 0x00e00000 // Subchannel type
	PMCWCharsMBFC    uint32 = 0x00000004 // Measurement block format control
	PMCWCharsXMWME   uint32 = 0x00000002 // Extended measurement word mode
	PMCWCharsCSENSE  uint32 = 0x00000001 // Concurrent sense
	PMCWCharsInvalid uint32 = 0xff1ffff8 // Reserved bits

	// SCSW flags
	SCSWFlagKey  uint16 = 0xf000 // Storage key
	SCSWFlagSCTL uint16 = 0x0800 // Suspend control
	SCSWFlagESWF uint16 = 0x0400 // Extended status word format
	SCSWFlagCC   uint16 = 0x0300 // Deferred condition code
	SCSWFlagFMT  uint16 = 0x0080 // Format 1 CCWs
	SCSWFlagPFCH uint16 = 0x0040 // Prefetch
	SCSWFlagISIC uint16 = 0x0020 // Initial status interruption control
	SCSWFlagALCC uint16 = 0x0010 // Address limit checking control
	SCSWFlagSSI  uint16 = 0x0008 // Suppress suspended interruption
	SCSWFlagZCC  uint16 = 0x0004 // Zero condition code
	SCSWFlagECTL uint16 = 0x0002 // Extended control
	SCSWFlagPNO  uint16 = 0x0001 // Path not operational

	// SCSW control, function control
	SCSWFctlMask  uint16 = 0x7000
	SCSWFctlStart uint16 = 0x4000 // Start function
	SCSWFctlHalt  uint16 = 0x2000 // Halt function
	SCSWFctlClear uint16 = 0x1000 // Clear function

	// SCSW control, activity control
	SCSWActlMask        uint16 = 0x0fe0
	SCSWActlResumePend  uint16 = 0x0800 // Resume pending
	SCSWActlStartPend   uint16 = 0x0400 // Start pending
	SCSWActlHaltPend    uint16 = 0x0200 // Halt pending
	SCSWActlClearPend   uint16 = 0x0100 // Clear pending
	SCSWActlSubchActive uint16 = 0x0080 // Subchannel active
	SCSWActlDevActive   uint16 = 0x0040 // Device active
	SCSWActlSusp        uint16 = 0x0020 // Suspended

	// SCSW control, status control
	SCSWStctlMask         uint16 = 0x001f
	SCSWStctlAlert        uint16 = 0x0010 // Alert status
	SCSWStctlIntermediate uint16 = 0x0008 // Intermediate status
	SCSWStctlPrimary      uint16 = 0x0004 // Primary status
	SCSWStctlSecondary    uint16 = 0x0002 // Secondary status
	SCSWStctlStatusPend   uint16 = 0x0001 // Status pending

	// ORB control 0
	ORBCtrl0Key     uint16 = 0xf000 // Access key
	ORBCtrl0Spnd    uint16 = 0x0800 // Suspend control
	ORBCtrl0Str     uint16 = 0x0400 // Streaming mode
	ORBCtrl0Mod     uint16 = 0x0200 // Modification control
	ORBCtrl0Sync    uint16 = 0x0100 // Synchronize control
	ORBCtrl0Fmt     uint16 = 0x0080 // Format 1 CCWs
	ORBCtrl0Pfch    uint16 = 0x0040 // Prefetch control
	ORBCtrl0Isic    uint16 = 0x0020 // Initial status interruption
	ORBCtrl0Alcc    uint16 = 0x0010 // Address limit checking
	ORBCtrl0Ssic    uint16 = 0x0008 // Suppress suspended interruption
	ORBCtrl0C64     uint16 = 0x0002 // 64 bit IDAWs
	ORBCtrl0Invalid uint16 = 0x0005 // Reserved bits

	// ORB control 1
	ORBCtrl1Ils     uint8 = 0x80 // Incorrect length suppression
	ORBCtrl1Midaw   uint8 = 0x40 // Modified IDAWs
	ORBCtrl1Orbx    uint8 = 0x01 // Extended ORB
	ORBCtrl1Invalid uint8 = 0x3e // Reserved bits

	// CCW flags
	CCWFlagDC      uint8 = 0x80 // Chain data
	CCWFlagCC      uint8 = 0x40 // Chain command
	CCWFlagSLI     uint8 = 0x20 // Suppress length indication
	CCWFlagSkip    uint8 = 0x10 // Skip data transfer
	CCWFlagPCI     uint8 = 0x08 // Program controled interrupt
	CCWFlagIDA     uint8 = 0x04 // Indirect data addressing
	CCWFlagSuspend uint8 = 0x02 // Suspend
	CCWFlagMIDA    uint8 = 0x01 // Modified indirect data addressing

	// Extended status word
	ESWERWSense uint32 = 0x01000000 // Sense data in ECW

	// Interruption word
	IOIntWordAI      uint32 = 0x80000000 // Adapter interruption
	IOIntWordISCShft        = 27
)

// Status values returned to guest via condition code.
var (
	ErrInvalid       = errors.New("invalid argument")
	ErrBusy          = errors.New("busy")
	ErrExist         = errors.New("already exists")
	ErrNoDevice      = errors.New("not operational")
	ErrStatusPending = errors.New("status pending")
	ErrFault         = errors.New("storage access fault")
	ErrNotSupported  = errors.New("command not supported")
	ErrAgain         = errors.New("continue chain")
	ErrInProgress    = errors.New("channel program suspended")
	ErrNoSpace       = errors.New("no free subchannel")
	ErrIO            = errors.New("device status presented")
)

// Map error from subchannel function to condition code.
func CondCode(err error) uint8 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrStatusPending):
		return 1
	case errors.Is(err, ErrBusy):
		return 2
	default:
		return 3
	}
}
