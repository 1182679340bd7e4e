/*
 * S390  - Virtio console commands
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

package virtio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rcornwell/S390/command/command"
)

var kindOptions = map[string][]command.Options{
	"net": {
		{Name: "mac", OptionType: command.OptionName, OptionValid: command.ValidSet},
	},
	"blk": {
		{Name: "capacity", OptionType: command.OptionNumber, OptionValid: command.ValidSet},
	},
	"console": {
		{Name: "cols", OptionType: command.OptionNumber, OptionValid: command.ValidSet},
		{Name: "rows", OptionType: command.OptionNumber, OptionValid: command.ValidSet},
	},
}

func (d *Device) Options() []command.Options {
	opts := []command.Options{
		{Name: "delay", OptionType: command.OptionNumber, OptionValid: command.ValidSet},
	}
	return append(opts, kindOptions[d.kind.Name]...)
}

func (d *Device) Set(options []*command.CmdOption) error {
	for _, opt := range options {
		if opt.Name == "delay" {
			d.SetDelay(opt.Value)
			continue
		}
		value := opt.EqualOpt
		if value == "" {
			value = strconv.Itoa(opt.Value)
		}
		if err := d.SetOption(opt.Name, value); err != nil {
			return err
		}
		if d.Subchannel() != nil {
			d.ConfigChanged()
		}
	}
	return nil
}

func (d *Device) Show() (string, error) {
	info := d.Info()
	var str strings.Builder
	bus := "detached"
	if sch := d.Subchannel(); sch != nil {
		bus = sch.BusID().String()
	}
	fmt.Fprintf(&str, "%s virtio-%s rev=%d status=%02x features=%x", bus, info.Type,
		info.Revision, info.Status, info.Features)
	if info.Thinint {
		str.WriteString(" thinint")
	} else if info.Indicators != 0 {
		fmt.Fprintf(&str, " ind=%x", info.Indicators)
	}
	for i, q := range info.Queues {
		if q.Desc != 0 {
			fmt.Fprintf(&str, "\n  vq%d desc=%x num=%d", i, q.Desc, q.Num)
		}
	}
	return str.String(), nil
}
