/*
 * S390  - Debug configuration statement
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

package debugconfig

import (
	"errors"
	"strings"

	config "github.com/rcornwell/S390/config/configparser"
	"github.com/rcornwell/S390/emu/core"
	"github.com/rcornwell/S390/emu/css"
)

// register statement on initialize.
func init() {
	config.RegisterModel("DEBUG", config.TypeOptions, setDebug)
}

// DEBUG <CSS|INST|busid> option[,option...]
func setDebug(_ uint16, component string, options []config.Option) error {
	switch strings.ToUpper(component) {
	case "CSS", "INST", "IOINST":
	default:
		if _, err := css.ParseBusID(component); err != nil {
			return errors.New("debug option invalid: " + component)
		}
	}
	if len(options) == 0 {
		return errors.New("debug requires options: " + component)
	}

	names := []string{}
	for _, opt := range options {
		if opt.EqualOpt != "" {
			return errors.New("debug option can't have equals: " + opt.Name)
		}
		names = append(names, strings.ToUpper(opt.Name))
		for _, value := range opt.Value {
			names = append(names, strings.ToUpper(*value))
		}
	}
	return core.AddDebug(component, names)
}
