/*
 * S390  - Configuration file parser
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

package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode"

	D "github.com/rcornwell/S390/emu/device"
)

// List of options to pass to create routine.
type Option struct {
	Name     string    // Name of option.
	EqualOpt string    // Value of string after =.
	Value    []*string // Value of option.
}

// Option after statement name.
type FirstOption struct {
	devNum uint16 // Device number if plain hex value.
	isAddr bool   // Valid device number in devNum.
	value  string // String value of option, bus id or word.
}

// Current option line being parsed.
type optionLine struct {
	line string // Current option line.
	pos  int    // Current position in line.
}

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := <model> <whitespace> <first> <whitespace> <options> |
 *           <option> <whitespace> <first> |
 *           <switch>
 * <first> ::= <hexnumber> | <busid> | <string>
 * <busid> ::= <hexnumber> '.' <hexnumber> '.' <hexnumber>
 * <options> ::= *(<option> *(<whitespace>))
 * <option> ::= <string> ['=' <quoteopt>] *(',' *(<whitespace>) <string>)
 * <quoteopt> ::= <string> | '"' *(<letter> | <whitespace>) '"'
 * <string> ::= *(<letter> | <number>)
 */

const (
	TypeModel   = 1 + iota // Device or subsystem statement with options.
	TypeOption             // Accepts a single parameter.
	TypeOptions            // Accepts a parameter and list of options.
	TypeSwitch             // Statement only used to set a flag.
)

// Create callback, first is the device number when the parameter
// is a plain hex number, else NoDev. Value is the raw parameter.
type CreateFunc = func(devNum uint16, value string, options []Option) error

type modelDef struct {
	create CreateFunc
	ty     int
}

var models = map[string]modelDef{}

var lineNumber int

// Return type of model or 0 if no model.
func getModel(mod string) int {
	model, ok := models[mod]
	if !ok {
		return 0
	}
	return model.ty
}

func register(mod string, ty int, fn CreateFunc) {
	mod = strings.ToUpper(mod)
	slog.Debug("Registering configuration statement", "name", mod)
	models[mod] = modelDef{create: fn, ty: ty}
}

// Register a statement taking a parameter and options.
func RegisterModel(mod string, ty int, fn CreateFunc) {
	register(mod, ty, fn)
}

// Register a statement without parameters.
func RegisterSwitch(mod string, fn CreateFunc) {
	register(mod, TypeSwitch, fn)
}

// Register a statement with one parameter.
func RegisterOption(mod string, fn CreateFunc) {
	register(mod, TypeOption, fn)
}

// Remove all registered statements.
func Clear() {
	models = map[string]modelDef{}
}

// Look up a statement, checking it is of the expected type.
func lookup(mod string, ty int, what string) (modelDef, error) {
	mod = strings.ToUpper(mod)
	model, ok := models[mod]
	if !ok {
		return model, fmt.Errorf("unknown %s: %s", what, mod)
	}
	if model.ty != ty {
		return model, fmt.Errorf("not a %s type: %s", what, mod)
	}
	return model, nil
}

// Create a device of type model.
func createModel(mod string, first *FirstOption, options []Option) error {
	model, err := lookup(mod, TypeModel, "model")
	if err != nil {
		return err
	}
	return model.create(first.devNum, first.value, options)
}

// Create a option with one parameter.
func createOption(mod string, first *FirstOption) error {
	model, err := lookup(mod, TypeOption, "option")
	if err != nil {
		return err
	}
	return model.create(first.devNum, first.value, []Option{})
}

// Create a option with options.
func createOptions(mod string, first *FirstOption, options []Option) error {
	model, err := lookup(mod, TypeOptions, "options")
	if err != nil {
		return err
	}
	return model.create(first.devNum, first.value, options)
}

// Create switch option.
func createSwitch(mod string) error {
	model, err := lookup(mod, TypeSwitch, "switch")
	if err != nil {
		return err
	}
	return model.create(D.NoDev, "", nil)
}

// Load in a configuration file.
func LoadConfigFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()
	return LoadConfig(file)
}

// Process configuration statements from reader.
func LoadConfig(r io.Reader) error {
	lineNumber = 0
	reader := bufio.NewReader(r)
	for {
		var err error

		line := optionLine{}
		line.line, err = reader.ReadString('\n')
		lineNumber++
		if len(line.line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		line.line = strings.TrimRight(line.line, "\r\n")
		if perr := line.parseLine(); perr != nil {
			return perr
		}
	}
	return nil
}

// Parse one line from file.
func (line *optionLine) parseLine() error {
	model := line.parseName()
	if model == "" {
		return nil
	}
	switch getModel(model) {
	case TypeModel:
		first := line.parseFirst()
		if first == nil {
			return fmt.Errorf("%s requires device address, line: %d", model, lineNumber)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return createModel(model, first, options)

	case TypeOption:
		first := line.parseFirst()
		line.skipSpace()
		if !line.isEOL() || first == nil {
			return fmt.Errorf("option: %s not followed by value, line: %d", model, lineNumber)
		}
		return createOption(model, first)

	case TypeOptions:
		first := line.parseFirst()
		if first == nil {
			return fmt.Errorf("option: %s not followed by value, line: %d", model, lineNumber)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return createOptions(model, first, options)

	case TypeSwitch:
		line.skipSpace()
		if !line.isEOL() {
			return fmt.Errorf("switch: %s followed by options, line: %d", model, lineNumber)
		}
		return createSwitch(model)
	}
	return fmt.Errorf("no type: %s registered, line: %d", model, lineNumber)
}

// Skip forward over line until none whitespace character found.
func (line *optionLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// Check if at end of line.
func (line *optionLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

// Return next letter or digit in line. 0 if EOL or space.
func (line *optionLine) getNext(inQuote bool) byte {
	line.pos++
	if line.isEOL() {
		return 0
	}
	by := line.line[line.pos]
	if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) || inQuote {
		return by
	}
	return 0
}

// Peek at next character.
func (line *optionLine) getPeek() byte {
	if (line.pos + 1) >= len(line.line) {
		return 0
	}
	return line.line[line.pos+1]
}

// Grab a run of characters accepted by ok.
func (line *optionLine) grab(ok func(byte) bool) string {
	start := line.pos
	for !line.isEOL() && ok(line.line[line.pos]) {
		line.pos++
	}
	return line.line[start:line.pos]
}

func isAlnum(by byte) bool {
	return unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by))
}

// Parse statement name.
func (line *optionLine) parseName() string {
	line.skipSpace()
	if line.isEOL() {
		return ""
	}
	return strings.ToUpper(line.grab(isAlnum))
}

// Parse first parameter, may be a bus id.
func (line *optionLine) parseFirst() *FirstOption {
	line.skipSpace()
	if line.isEOL() {
		return nil
	}

	value := line.grab(func(by byte) bool { return isAlnum(by) || by == '.' })
	if value == "" {
		return nil
	}
	option := FirstOption{devNum: D.NoDev, value: value}

	devNum, err := strconv.ParseUint(value, 16, 16)
	if err == nil {
		option.devNum = uint16(devNum)
		option.isAddr = true
	}
	return &option
}

// Parse string that is "string" or just string.
func (line *optionLine) parseQuoteString() (string, bool) {
	inQuote := false
	value := ""

	if line.getPeek() == '"' {
		inQuote = true
		_ = line.getNext(true)
	}

	for {
		by := line.getNext(inQuote)
		// "" inside a quoted string is a single quote
		if by == '"' && inQuote {
			by = line.getNext(inQuote)
			if by != '"' {
				return value, true
			}
		}

		space := unicode.IsSpace(rune(by))
		if !inQuote && (space || by == 0 || by == ',') {
			return value, true
		}

		value += string(by)
		if line.isEOL() {
			return value, !inQuote
		}
	}
}

// Parse option name.
func (line *optionLine) getName() (string, error) {
	if line.isEOL() {
		return "", nil
	}

	by := line.line[line.pos]
	if !unicode.IsLetter(rune(by)) && !unicode.IsNumber(rune(by)) {
		return "", fmt.Errorf("invalid option encountered line: %d [%d]", lineNumber, line.pos)
	}
	return line.grab(isAlnum), nil
}

// Parse options for a line.
func (line *optionLine) parseOption() (*Option, error) {
	line.skipSpace()

	value, err := line.getName()
	if value == "" {
		return nil, err
	}

	option := Option{Name: value}
	if line.isEOL() {
		return &option, nil
	}

	if line.line[line.pos] == '=' {
		v, ok := line.parseQuoteString()
		if !ok {
			return nil, fmt.Errorf("invalid quoted string line: %d [%d]", lineNumber, line.pos)
		}
		option.EqualOpt = v
	}

	line.skipSpace()

	// Grab all , options
	for !line.isEOL() && line.line[line.pos] == ',' {
		line.pos++
		line.skipSpace()
		v, err := line.getName()
		if err != nil {
			return nil, err
		}
		if v != "" {
			option.Value = append(option.Value, &v)
		}
		line.skipSpace()
	}

	return &option, nil
}

// Collect all options for line.
func (line *optionLine) parseOptions() ([]Option, error) {
	options := []Option{}
	for {
		option, err := line.parseOption()
		if err != nil {
			return nil, err
		}
		if option == nil {
			break
		}
		options = append(options, *option)
	}
	return options, nil
}

// Return value of option as a number.
func (opt Option) Number(base int, bits int) (uint64, error) {
	v, err := strconv.ParseUint(opt.EqualOpt, base, bits)
	if err != nil {
		return 0, fmt.Errorf("option %s invalid value: %s", opt.Name, opt.EqualOpt)
	}
	return v, nil
}
