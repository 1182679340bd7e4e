/*
 * S390  - Echo test device console commands
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

package testdev

import (
	"errors"
	"fmt"

	"github.com/rcornwell/S390/command/command"
)

func (d *TestDev) Options() []command.Options {
	return []command.Options{
		{Name: "delay", OptionType: command.OptionNumber, OptionValid: command.ValidSet},
	}
}

func (d *TestDev) Set(options []*command.CmdOption) error {
	for _, opt := range options {
		switch opt.Name {
		case "delay":
			d.SetDelay(opt.Value)
		default:
			return errors.New("echo option invalid: " + opt.Name)
		}
	}
	return nil
}

func (d *TestDev) Show() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bus := "detached"
	if d.sch != nil {
		bus = d.sch.BusID().String()
	}
	return fmt.Sprintf("%s echo delay=%d data=%d pending=%v", bus, d.delay, d.max, d.pending), nil
}
