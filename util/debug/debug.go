/*
 * S390  - Debug tracing
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

package debug

import (
	"fmt"
	"io"
	"os"
	"sync"

	config "github.com/rcornwell/S390/config/configparser"
)

var (
	logFile io.Writer
	logMu   sync.Mutex
)

// Map of option names to debug mask bits.
type Options map[string]int

// Set bit for option name into mask.
func (o Options) Set(mask *int, name string) error {
	bit, ok := o[name]
	if !ok {
		return fmt.Errorf("debug option invalid: %s", name)
	}
	*mask |= bit
	return nil
}

// Change where trace output goes, nil disables.
func SetOutput(w io.Writer) {
	logMu.Lock()
	logFile = w
	logMu.Unlock()
}

func output(prefix string, format string, a ...interface{}) {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile == nil {
		return
	}
	fmt.Fprintf(logFile, prefix+": "+format+"\n", a...)
}

// Generic debug message.
func Debugf(module string, mask int, level int, format string, a ...interface{}) {
	if (mask & level) != 0 {
		output(module, format, a...)
	}
}

// Subchannel debug message, id is printable bus id.
func DebugSchf(id fmt.Stringer, mask int, level int, format string, a ...interface{}) {
	if (mask & level) != 0 {
		output("Subchannel "+id.String(), format, a...)
	}
}

// register debug file on initialize.
func init() {
	config.RegisterOption("DEBUGFILE", create)
}

// Open file for debug output.
func create(_ uint16, fileName string, _ []config.Option) error {
	logMu.Lock()
	prev, ok := logFile.(*os.File)
	logMu.Unlock()
	if ok && prev != nil {
		return fmt.Errorf("can't have more then one debug file, previous: %s", prev.Name())
	}

	file, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("unable to create debug file: %s: %w", fileName, err)
	}

	SetOutput(file)
	return nil
}
