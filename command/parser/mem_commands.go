/*
 * S390  - Console storage commands
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

package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rcornwell/S390/emu/core"
	"github.com/rcornwell/S390/util/hex"
)

const (
	defaultExamine = 16
	maxExamine     = 4096
)

// Parse addr or addr-end.
func (line *cmdLine) parseMemoryRange() (uint64, uint64, error) {
	token := line.getToken()
	if token == "" {
		return 0, 0, errors.New("address required")
	}
	low, high, found := strings.Cut(token, "-")
	start, err := strconv.ParseUint(low, 16, 64)
	if err != nil {
		return 0, 0, errors.New("address not valid: " + low)
	}
	end := start + defaultExamine - 1
	if found {
		end, err = strconv.ParseUint(high, 16, 64)
		if err != nil || end < start {
			return 0, 0, errors.New("end address not valid: " + high)
		}
	}
	if end-start >= maxExamine {
		return 0, 0, fmt.Errorf("range larger than %d bytes", maxExamine)
	}
	return start, end, nil
}

// Display storage in hex.
func examine(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Examine")
	start, end, err := line.parseMemoryRange()
	if err != nil {
		return false, err
	}
	if !line.isEOL() {
		return false, errors.New("examine takes only an address range")
	}
	data := make([]byte, end-start+1)
	err = core.Exec(func() error { return core.Machine().Memory.Read(start, data) })
	if err != nil {
		return false, err
	}
	var str strings.Builder
	hex.Dump(&str, start, data)
	fmt.Fprint(line.out, str.String())
	return false, nil
}

// Parse list of hex byte strings, each may hold several bytes.
func (line *cmdLine) parseDepositHex() ([]byte, error) {
	data := []byte{}
	for {
		token := line.getToken()
		if token == "" {
			break
		}
		if len(token)%2 != 0 {
			token = "0" + token
		}
		for i := 0; i < len(token); i += 2 {
			by, err := strconv.ParseUint(token[i:i+2], 16, 8)
			if err != nil {
				return nil, errors.New("not hex data: " + token)
			}
			data = append(data, byte(by))
		}
	}
	if len(data) == 0 {
		return nil, errors.New("deposit requires data")
	}
	return data, nil
}

// Store hex data into storage.
func deposit(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Deposit")
	addr, err := line.getHex()
	if err != nil {
		return false, err
	}
	data, err := line.parseDepositHex()
	if err != nil {
		return false, err
	}
	return false, core.Exec(func() error { return core.Machine().Memory.Write(addr, data) })
}
