/*
 * S390  - telnet server, protocol handling
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

package telnet

import (
	"bytes"
	"io"
	"log/slog"
)

// Telnet protocol constants.
const (
	tnIAC  byte = 255 // protocol delim
	tnDONT byte = 254 // dont
	tnDO   byte = 253 // do
	tnWONT byte = 252 // wont
	tnWILL byte = 251 // will
	tnSB   byte = 250 // Sub negotiations begin
	tnGA   byte = 249 // Go ahead
	tnEL   byte = 248 // Erase line
	tnEC   byte = 247 // Erase character
	tnIP   byte = 244 // Interrupt process
	tnBRK  byte = 243 // break
	tnSE   byte = 240 // Sub negotiations end
	tnIS   byte = 0
	tnSend byte = 1

	// Telnet options.
	tnOptionBinary byte = 0  // Binary data transfer
	tnOptionEcho   byte = 1  // Echo
	tnOptionSGA    byte = 3  // Send Go Ahead
	tnOptionTerm   byte = 24 // Request Terminal Type
	tnOptionNAWS   byte = 31 // Negotiate about terminal size
	tnOptionLINE   byte = 34 // line mode

	// Telnet flags.
	tnFlagDo   uint8 = 0x01 // Do sent
	tnFlagDont uint8 = 0x02 // Don't sent
	tnFlagWill uint8 = 0x04 // Will sent
	tnFlagWont uint8 = 0x08 // Wont sent
)

// Telnet line states.
const (
	tnStateData  int = 1 + iota // normal
	tnStateIAC                  // IAC seen
	tnStateWILL                 // WILL seen
	tnStateDO                   // DO seen
	tnStateDONT                 // DONT seen
	tnStateWONT                 // WONT seen
	tnStateSB                   // Start of SB expect type
	tnStateSBIS                 // Waiting for IS
	tnStateSTerm                // Grab terminal type
	tnStateSE                   // Waiting for SE
)

// Longest command line accepted.
const maxLine = 512

var initString = []byte{
	tnIAC, tnWILL, tnOptionSGA,
	tnIAC, tnDO, tnOptionTerm,
}

// Convert option number to string.
func optName(opt byte) string {
	switch opt {
	case tnOptionBinary:
		return "bin"
	case tnOptionEcho:
		return "echo"
	case tnOptionSGA:
		return "sga"
	case tnOptionTerm:
		return "term"
	case tnOptionNAWS:
		return "naws"
	case tnOptionLINE:
		return "line"
	}
	return "unknown"
}

type tnState struct {
	optionState [256]uint8 // Options we have answered
	sbtype      byte       // Type of SB being received
	state       int        // Current line State
	term        []byte     // Terminal type being collected
	termType    string     // Terminal type reported by client
	line        []byte     // Command line being assembled
	lastCR      bool       // Last character was a carriage return
	conn        io.Writer  // Client connection.
}

func newState(conn io.Writer) *tnState {
	return &tnState{conn: conn, state: tnStateData}
}

// Send an option to client and remember we did.
func (state *tnState) sendOption(setState, option byte) {
	_, _ = state.conn.Write([]byte{tnIAC, setState, option})
	switch setState {
	case tnWILL:
		state.optionState[option] |= tnFlagWill
	case tnWONT:
		state.optionState[option] |= tnFlagWont
	case tnDO:
		state.optionState[option] |= tnFlagDo
	case tnDONT:
		state.optionState[option] |= tnFlagDont
	}
}

// Client asks us to do something. Only SGA is supported.
func (state *tnState) handleDO(input byte) {
	if input == tnOptionSGA {
		if (state.optionState[input] & tnFlagWill) == 0 {
			state.sendOption(tnWILL, input)
		}
		return
	}
	if (state.optionState[input] & tnFlagWont) == 0 {
		state.sendOption(tnWONT, input)
	}
}

// Client offers to do something.
func (state *tnState) handleWILL(input byte) {
	switch input {
	case tnOptionTerm:
		if (state.optionState[input] & tnFlagWill) == 0 {
			state.optionState[input] |= tnFlagWill
			_, _ = state.conn.Write([]byte{tnIAC, tnSB, tnOptionTerm, tnSend, tnIAC, tnSE})
		}
	case tnOptionSGA:
		if (state.optionState[input] & tnFlagDo) == 0 {
			state.sendOption(tnDO, input)
		}
	default:
		if (state.optionState[input] & tnFlagDont) == 0 {
			state.sendOption(tnDONT, input)
		}
	}
}

// Subnegotiation finished.
func (state *tnState) handleSE() {
	if state.sbtype == tnOptionTerm {
		state.termType = string(state.term)
		slog.Debug("Telnet terminal", "type", state.termType)
	}
	state.term = state.term[:0]
}

// Add a data character to the line being assembled, returns the line
// once it is complete.
func (state *tnState) input(by byte) (string, bool) {
	cr := state.lastCR
	state.lastCR = false
	switch by {
	case '\r':
		state.lastCR = true
		return state.takeLine(), true
	case '\n':
		if cr {
			return "", false
		}
		return state.takeLine(), true
	case 0:
		return "", false
	case 0x08, 0x7f:
		if len(state.line) > 0 {
			state.line = state.line[:len(state.line)-1]
		}
		return "", false
	}
	if by >= ' ' && by < 0x7f && len(state.line) < maxLine {
		state.line = append(state.line, by)
	}
	return "", false
}

func (state *tnState) takeLine() string {
	line := string(state.line)
	state.line = state.line[:0]
	return line
}

// Process data from client, return any complete command lines.
func (state *tnState) receive(data []byte) []string {
	lines := []string{}
	for _, input := range data {
		switch state.state {
		case tnStateData:
			if input == tnIAC {
				state.state = tnStateIAC
				continue
			}
			if line, ok := state.input(input); ok {
				lines = append(lines, line)
			}

		case tnStateIAC:
			state.state = tnStateData
			switch input {
			case tnIAC:
				if line, ok := state.input(input); ok {
					lines = append(lines, line)
				}
			case tnIP, tnBRK, tnEL:
				state.line = state.line[:0]
			case tnEC:
				_, _ = state.input(0x7f)
			case tnWILL:
				state.state = tnStateWILL
			case tnWONT:
				state.state = tnStateWONT
			case tnDO:
				state.state = tnStateDO
			case tnDONT:
				state.state = tnStateDONT
			case tnSB:
				state.state = tnStateSB
			}

		case tnStateWILL:
			slog.Debug("Telnet will " + optName(input))
			state.handleWILL(input)
			state.state = tnStateData

		case tnStateWONT:
			if (state.optionState[input] & tnFlagDont) == 0 {
				state.sendOption(tnDONT, input)
			}
			state.state = tnStateData

		case tnStateDO:
			slog.Debug("Telnet do " + optName(input))
			state.handleDO(input)
			state.state = tnStateData

		case tnStateDONT:
			if (state.optionState[input] & tnFlagWont) == 0 {
				state.sendOption(tnWONT, input)
			}
			state.state = tnStateData

		case tnStateSB:
			state.sbtype = input
			state.state = tnStateSBIS

		case tnStateSBIS:
			if state.sbtype == tnOptionTerm && input == tnIS {
				state.state = tnStateSTerm
			} else {
				state.state = tnStateSE
			}

		case tnStateSTerm:
			if input == tnIAC {
				state.state = tnStateSE
			} else {
				state.term = append(state.term, input)
			}

		case tnStateSE:
			if input == tnSE {
				state.state = tnStateData
				state.handleSE()
			}
		}
	}
	return lines
}

// Writer that turns newlines into telnet line ends and escapes IAC.
type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(data []byte) (int, error) {
	out := bytes.ReplaceAll(data, []byte{tnIAC}, []byte{tnIAC, tnIAC})
	out = bytes.ReplaceAll(out, []byte{'\n'}, []byte{'\r', '\n'})
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(data), nil
}
