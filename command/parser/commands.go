/*
 * S390  - Console commands
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
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rcornwell/S390/command/command"
	"github.com/rcornwell/S390/emu/core"
	"github.com/rcornwell/S390/emu/css"
	"github.com/rcornwell/S390/emu/ioinst"
)

var cmdList []cmd

func init() {
	cmdList = []cmd{
		{Name: "attention", Min: 2, Process: attention, Help: "attention <dev>", Complete: deviceComplete},
		{Name: "chpid", Min: 3, Process: chpidCmd, Help: "chpid <add|remove> <cssid.chpid> [type]"},
		{Name: "notify", Min: 1, Process: notify, Help: "notify <dev> <queue>", Complete: deviceComplete},
		{Name: "deliver", Min: 3, Process: deliver, Help: "deliver"},
		{Name: "dump", Min: 2, Process: dump, Help: "dump [file]"},
		{Name: "debug", Min: 3, Process: debugCmd, Help: "debug <css|inst|dev> <option>"},
		{Name: "detach", Min: 3, Process: detach, Help: "detach <dev>", Complete: deviceComplete},
		{Name: "deposit", Min: 3, Process: deposit, Help: "deposit <addr> <hex>..."},
		{Name: "examine", Min: 2, Process: examine, Help: "examine <addr>[-<end>]"},
		{Name: "set", Min: 3, Process: set, Help: "set <dev> <option>=<value>...", Complete: deviceComplete},
		{Name: "show", Min: 2, Process: show, Help: "show <what> [dev|cssid]", Complete: showComplete},
		{Name: "start", Min: 3, Process: start, Help: "start"},
		{Name: "stop", Min: 3, Process: stop, Help: "stop"},
		{Name: "reset", Min: 5, Process: reset, Help: "reset"},
		{Name: "quit", Min: 4, Process: quit, Help: "quit"},
		{Name: "halt", Min: 4, Process: halt, Help: "halt <cpu>"},
		{Name: "help", Min: 1, Process: help, Help: "help"},
	}
	for _, inst := range ioCommands {
		cmdList = append(cmdList, cmd{
			Name:     inst.name,
			Min:      len(inst.name),
			Process:  ioCommand(inst),
			Help:     inst.help,
			Complete: deviceComplete,
		})
	}
}

type ioInst struct {
	name   string
	op     uint16
	device bool // Subchannel in register 1.
	help   string
}

var ioCommands = []ioInst{
	{"ssch", ioinst.OpSSCH, true, "ssch <dev> <orb addr>"},
	{"tsch", ioinst.OpTSCH, true, "tsch <dev> <irb addr>"},
	{"stsch", ioinst.OpSTSCH, true, "stsch <dev> <schib addr>"},
	{"msch", ioinst.OpMSCH, true, "msch <dev> <schib addr>"},
	{"hsch", ioinst.OpHSCH, true, "hsch <dev>"},
	{"csch", ioinst.OpCSCH, true, "csch <dev>"},
	{"xsch", ioinst.OpXSCH, true, "xsch <dev>"},
	{"rsch", ioinst.OpRSCH, true, "rsch <dev>"},
	{"tpi", ioinst.OpTPI, false, "tpi <addr>"},
	{"stcrw", ioinst.OpSTCRW, false, "stcrw <addr>"},
	{"chsc", ioinst.OpCHSC, false, "chsc <addr>"},
}

// Run an I/O instruction on CPU 0.
func ioCommand(inst ioInst) func(*cmdLine, *core.Core) (bool, error) {
	return func(line *cmdLine, core *core.Core) (bool, error) {
		slog.Debug("Command " + inst.name)
		bus := ""
		if inst.device {
			bus = line.getToken()
			if bus == "" {
				return false, errors.New(inst.name + " requires device")
			}
		}
		addr := uint64(0)
		line.skipSpace()
		if !line.isEOL() {
			var err error
			addr, err = line.getHex()
			if err != nil {
				return false, err
			}
		}
		var cc uint8
		var irc uint16
		err := core.Exec(func() error {
			var err error
			cc, irc, err = core.Machine().Execute(0, inst.op, bus, addr)
			return err
		})
		if err != nil {
			return false, err
		}
		if irc != 0 {
			fmt.Fprintf(line.out, "%s program check %04x\n", inst.name, irc)
		} else {
			fmt.Fprintf(line.out, "%s cc=%d\n", inst.name, cc)
		}
		return false, nil
	}
}

// Device completion.
func deviceComplete(line *cmdLine, core *core.Core) []string {
	return line.matchDevice(core)
}

// Raise attention on an echo device.
func attention(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Attention")
	bus := line.getToken()
	if bus == "" {
		return false, errors.New("attention requires device")
	}
	return false, core.SendAttention(bus)
}

// Signal used buffers on virtio queue.
func notify(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Notify")
	bus := line.getToken()
	if bus == "" {
		return false, errors.New("notify requires device")
	}
	queue, err := line.getNumber()
	if err != nil {
		return false, err
	}
	return false, core.SendNotify(bus, queue)
}

// Present pending interruptions.
func deliver(_ *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Deliver")
	return false, core.SendDeliver()
}

// Dump machine state as YAML.
func dump(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Dump")
	line.skipSpace()
	if line.isEOL() {
		return false, core.Exec(func() error { return core.Machine().Dump(line.out) })
	}
	file, ok := line.parseQuoteString()
	if !ok || file == "" {
		return false, errors.New("file name not valid")
	}
	return false, core.Exec(func() error { return core.Machine().DumpFile(file) })
}

// Enable debug option.
func debugCmd(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Debug")
	component := line.getToken()
	if component == "" {
		return false, errors.New("debug requires component")
	}
	found := false
	for {
		opt := line.getWord(false)
		if opt == "" {
			break
		}
		found = true
		err := core.Exec(func() error { return core.Machine().Debug(component, opt) })
		if err != nil {
			return false, err
		}
	}
	if !found || !line.isEOL() {
		return false, errors.New("debug requires option")
	}
	return false, nil
}

// Hot unplug a device.
func detach(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Detach")
	bus := line.getToken()
	if bus == "" {
		return false, errors.New("detach requires device")
	}
	return false, core.Exec(func() error { return core.Machine().RemoveDevice(bus) })
}

// Put a CPU in wait state.
func halt(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Halt")
	addr, err := line.getNumber()
	if err != nil {
		return false, errors.New("halt requires cpu number")
	}
	return false, core.Exec(func() error {
		waiting, err := core.Machine().HaltCPU(addr)
		if err == nil && !waiting {
			fmt.Fprintf(line.out, "CPU %d interrupt pending, left running\n", addr)
		}
		return err
	})
}

// Hot plug or unplug a channel path.
func chpidCmd(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Chpid")
	action := line.getWord(false)
	path := line.getToken()
	if path == "" {
		return false, errors.New("chpid requires cssid.chpid")
	}
	switch action {
	case "add":
		typ := uint64(css.VirtioCCWChpType)
		line.skipSpace()
		if !line.isEOL() {
			var err error
			typ, err = line.getHex()
			if err != nil || typ > 0xff {
				return false, errors.New("chpid type must be hex byte")
			}
		}
		return false, core.Exec(func() error { return core.Machine().AddChpid(path, uint8(typ)) })
	case "remove":
		return false, core.Exec(func() error { return core.Machine().RemoveChpid(path) })
	}
	return false, errors.New("chpid must be add or remove")
}

// Handle set commands.
func set(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Set")
	device, err := line.getDevice(core)
	if err != nil {
		return false, err
	}
	target, ok := device.(command.Command)
	if !ok {
		return false, errors.New("device has no options")
	}
	optlist, err := line.getOptions(target, command.ValidSet)
	if err != nil {
		return false, err
	}
	if len(optlist) == 0 {
		return false, errors.New("no options given to set command")
	}
	return false, core.Exec(func() error { return target.Set(optlist) })
}

var showList = []string{"adapters", "chpids", "cpus", "crw", "css", "devices", "flic", "schib"}

// Print value as YAML.
func showYAML(w io.Writer, value any) error {
	out, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// Process the show command.
func show(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Show")
	m := core.Machine()
	what := line.getWord(false)
	switch what {
	case "css":
		return false, showYAML(line.out, m.CSS.Snapshot())
	case "flic":
		return false, showYAML(line.out, m.FLIC.State())
	case "adapters":
		return false, showYAML(line.out, m.CSS.Adapters())
	case "crw":
		state := m.State()
		return false, showYAML(line.out, state.CRWs)
	case "cpus":
		return false, showYAML(line.out, m.CPUs.State())
	case "chpids":
		cssid, err := line.getHex()
		if err != nil {
			cssid = uint64(m.CSS.DefaultCssID())
		}
		return false, showYAML(line.out, m.CSS.Chpids(uint8(cssid)))
	case "schib":
		device, err := line.getDevice(core)
		if err != nil {
			return false, err
		}
		return false, showYAML(line.out, device.Subchannel().Info())
	case "devices", "":
		if what == "" && !line.isEOL() {
			device, err := line.getDevice(core)
			if err != nil {
				return false, err
			}
			return false, showDevice(line.out, device)
		}
		for _, device := range m.Devices() {
			if err := showDevice(line.out, device); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	return false, errors.New("show must be one of: " + strings.Join(showList, ", "))
}

func showDevice(w io.Writer, device core.Device) error {
	target, ok := device.(command.Command)
	if !ok {
		fmt.Fprintln(w, device.Subchannel().String())
		return nil
	}
	out, err := target.Show()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, out)
	return nil
}

// Show command completion.
func showComplete(line *cmdLine, core *core.Core) []string {
	leading := line.line[:line.pos]
	line.skipSpace()
	word := line.line[line.pos:]
	if strings.Contains(word, " ") {
		if strings.HasPrefix(word, "schib ") {
			line.pos += len("schib ")
			return line.matchDevice(core)
		}
		return nil
	}
	matches := []string{}
	for _, name := range showList {
		if strings.HasPrefix(name, word) {
			matches = append(matches, leading+" "+name+" ")
		}
	}
	return matches
}

// Let time advance.
func start(_ *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Start")
	return false, core.SendStart()
}

// Freeze time.
func stop(_ *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Stop")
	return false, core.SendStop()
}

// System reset.
func reset(_ *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Reset")
	return false, core.SendReset()
}

// Handle commands that quit simulation.
func quit(_ *cmdLine, _ *core.Core) (bool, error) {
	slog.Debug("Command Quit")
	return true, nil
}

func help(line *cmdLine, _ *core.Core) (bool, error) {
	for _, c := range cmdList {
		fmt.Fprintln(line.out, "  "+c.Help)
	}
	return false, nil
}
