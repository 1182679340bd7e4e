/*
 * S390  - Console command parser
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
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/rcornwell/S390/command/command"
	"github.com/rcornwell/S390/emu/core"
)

type cmd struct {
	Name     string // Command name.
	Min      int    // Minimum match size.
	Help     string
	Process  func(*cmdLine, *core.Core) (bool, error)
	Complete func(*cmdLine, *core.Core) []string
}

type cmdLine struct {
	line string    // Current command.
	pos  int       // Position in line.
	out  io.Writer // Where command output goes.
}

// Execute the command line given. Returns true when the console should exit.
func ProcessCommand(commandLine string, core *core.Core) (bool, error) {
	return ProcessCommandTo(os.Stdout, commandLine, core)
}

// Execute the command line, writing output to out.
func ProcessCommandTo(out io.Writer, commandLine string, core *core.Core) (bool, error) {
	line := cmdLine{line: commandLine, out: out}
	command := line.getWord(false)
	if command == "" {
		if line.isEOL() {
			return false, nil
		}
		return false, errors.New("command must start with a name")
	}

	match := matchList(command)
	if len(match) == 0 {
		return false, errors.New("command not found: " + command)
	}

	if len(match) > 1 {
		return false, errors.New("unique command not found: " + command)
	}

	return match[0].Process(&line, core)
}

// Check if command matches at least to minimum length.
func matchCommand(match cmd, command string) bool {
	if len(command) > len(match.Name) {
		return false
	}
	return strings.HasPrefix(match.Name, command) && len(command) >= match.Min
}

// Check if command matches one of the commands.
func matchList(command string) []cmd {
	var match []cmd
	if command == "" {
		return match
	}
	for _, m := range cmdList {
		// Exact name always wins.
		if m.Name == command {
			return []cmd{m}
		}
		if matchCommand(m, command) {
			match = append(match, m)
		}
	}
	return match
}

// Match list of options.
func matchOption(option string, optList []command.Options, cmdType int) command.Options {
	for _, opt := range optList {
		if (opt.OptionValid & cmdType) == 0 {
			continue
		}
		if opt.Name == option {
			return opt
		}
	}
	return command.Options{OptionType: -1}
}

// Skip forward over line until none whitespace character found.
func (line *cmdLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// Check if at end of line.
func (line *cmdLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

// Return current character and advance to next.
func (line *cmdLine) getCurrent() byte {
	if line.isEOL() {
		return 0
	}
	by := line.line[line.pos]
	line.pos++
	return by
}

// Grab up to next space.
func (line *cmdLine) getToken() string {
	line.skipSpace()
	start := line.pos
	for !line.isEOL() && !unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
	return line.line[start:line.pos]
}

// Parse string that is "string" or just string.
func (line *cmdLine) parseQuoteString() (string, bool) {
	line.skipSpace()
	by := line.getCurrent()
	if by == 0 {
		return "", false
	}

	inQuote := false
	if by == '"' {
		inQuote = true
		by = line.getCurrent()
	}

	value := ""
	for by != 0 {
		// In a quoted string "" is a single quote.
		if by == '"' && inQuote {
			if line.pos >= len(line.line) || line.line[line.pos] != '"' {
				return value, true
			}
			line.pos++
		} else if !inQuote && unicode.IsSpace(rune(by)) {
			return value, true
		}
		value += string(by)
		by = line.getCurrent()
	}
	return value, !inQuote
}

// Parse decimal number.
func (line *cmdLine) getNumber() (int, error) {
	token := line.getToken()
	value, err := strconv.Atoi(token)
	if err != nil || token == "" {
		return 0, errors.New("not a number: " + token)
	}
	return value, nil
}

// Parse hex number. Position is not moved on error.
func (line *cmdLine) getHex() (uint64, error) {
	pos := line.pos
	token := line.getToken()
	value, err := strconv.ParseUint(token, 16, 64)
	if err != nil || token == "" {
		line.pos = pos
		return 0, errors.New("not a hex number: " + token)
	}
	return value, nil
}

// Parse a word of letters, stopping at space or when equal is set at '='.
func (line *cmdLine) getWord(equal bool) string {
	line.skipSpace()

	pos := line.pos
	start := line.pos
	for !line.isEOL() {
		by := line.line[line.pos]
		if unicode.IsSpace(rune(by)) || (equal && by == '=') {
			break
		}
		if !unicode.IsLetter(rune(by)) {
			line.pos = pos
			return ""
		}
		line.pos++
	}
	return strings.ToLower(line.line[start:line.pos])
}

// Get bus id or device number of a device.
func (line *cmdLine) getDevice(core *core.Core) (core.Device, error) {
	bus := line.getToken()
	if bus == "" {
		return nil, errors.New("device required")
	}
	return core.Machine().FindDevice(bus)
}

// Get an option for set command.
func (line *cmdLine) getOption(opts []command.Options, cmdType int) (*command.CmdOption, error) {
	name := line.getWord(true)
	if name == "" {
		if !line.isEOL() {
			return nil, errors.New("invalid option: " + line.getToken())
		}
		return nil, nil
	}

	opt := command.CmdOption{Name: name}
	match := matchOption(name, opts, cmdType)
	switch match.OptionType {
	case -1:
		return nil, errors.New("unknown option: " + name)
	case command.OptionSwitch:
		if !line.isEOL() && !unicode.IsSpace(rune(line.line[line.pos])) {
			return nil, errors.New("switch option can't have arguments: " + name)
		}
	case command.OptionNumber:
		if line.getCurrent() != '=' {
			return nil, errors.New("number options must be followed by number: " + name)
		}
		num, err := line.getNumber()
		if err != nil {
			return nil, errors.New("number options must be followed by number: " + name)
		}
		opt.Value = num
	case command.OptionName:
		if line.getCurrent() != '=' {
			return nil, errors.New("name options must be followed by value: " + name)
		}
		value, ok := line.parseQuoteString()
		if !ok || value == "" {
			return nil, errors.New("name options must be followed by value: " + name)
		}
		opt.EqualOpt = value
	default:
		return nil, errors.New("invalid option type: " + name)
	}
	return &opt, nil
}

// Scan options and return a list of options.
func (line *cmdLine) getOptions(device command.Command, cmdType int) ([]*command.CmdOption, error) {
	optlist := []*command.CmdOption{}
	opts := device.Options()
	for {
		opt, err := line.getOption(opts, cmdType)
		if err != nil {
			return optlist, err
		}
		if opt == nil {
			break
		}
		optlist = append(optlist, opt)
	}
	return optlist, nil
}
