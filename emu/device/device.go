/*
 * S390  - Common device and channel status definitions
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

package device

const (
	// Unit status, SCSW device status byte
	StatusAttn   uint8 = 0x80 // Attention
	StatusSM     uint8 = 0x40 // Status modifier
	StatusCUE    uint8 = 0x20 // Control unit end
	StatusBusy   uint8 = 0x10 // Busy
	StatusChnEnd uint8 = 0x08 // Channel end
	StatusDevEnd uint8 = 0x04 // Device end
	StatusCheck  uint8 = 0x02 // Unit check
	StatusExpt   uint8 = 0x01 // Unit exception

	// Subchannel status, SCSW channel status byte
	CStatusPCI      uint8 = 0x80 // Program controled interrupt
	CStatusLength   uint8 = 0x40 // Incorrect length
	CStatusProg     uint8 = 0x20 // Program check
	CStatusProt     uint8 = 0x10 // Protection check
	CStatusData     uint8 = 0x08 // Channel data check
	CStatusChnCtrl  uint8 = 0x04 // Channel control check
	CStatusIntfCtrl uint8 = 0x02 // Interface control check
	CStatusChain    uint8 = 0x01 // Chaining check

	// Basic sense byte 0
	SenseCMDREJ  uint8 = 0x80 // Command reject
	SenseINTVENT uint8 = 0x40 // Unit intervention required
	SenseBUSCHK  uint8 = 0x20 // Parity error on bus
	SenseEQUCHK  uint8 = 0x10 // Equipment check
	SenseDATCHK  uint8 = 0x08 // Data Check
	SenseOVRRUN  uint8 = 0x04 // Data overrun

	SenseSize = 32 // Size of basic sense data

	// Generic channel commands
	CmdTypeMask uint8 = 0x0f // Low bits define class
	CmdWrite    uint8 = 0x01 // Write
	CmdRead     uint8 = 0x02 // Read
	CmdNoop     uint8 = 0x03 // Control no-op
	CmdSense    uint8 = 0x04 // Basic sense
	CmdTIC      uint8 = 0x08 // Transfer in channel
	CmdRdBwd    uint8 = 0x0c // Read backward
	CmdSenseID  uint8 = 0xe4 // Sense ID
	SenseIDSize       = 256  // Size of sense ID data

	NoDev uint16 = 0xffff // Code for no device
)
