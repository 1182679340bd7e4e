/*
 * S390  - Machine context
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

package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rcornwell/S390/emu/cpu"
	"github.com/rcornwell/S390/emu/crw"
	"github.com/rcornwell/S390/emu/css"
	"github.com/rcornwell/S390/emu/event"
	"github.com/rcornwell/S390/emu/flic"
	"github.com/rcornwell/S390/emu/ioinst"
	mem "github.com/rcornwell/S390/emu/memory"
	testdev "github.com/rcornwell/S390/emu/test_dev"
	"github.com/rcornwell/S390/emu/virtio"
)

// Channel attached device of the machine.
type Device interface {
	css.ChannelDevice
	Subchannel() *css.Subchannel
	Debug(opt string) error
}

var (
	ErrNoDevice    = errors.New("no such device")
	ErrWrongDevice = errors.New("operation not supported by device")
)

// Everything making up one virtual machine.
type Machine struct {
	mu       sync.Mutex
	cfg      *Config
	Memory   *mem.Memory
	FLIC     *flic.FLIC
	CRWs     *crw.Queue
	CSS      *css.ChannelSubsystem
	IO       *ioinst.Handler
	CPUs     *cpu.Set
	Events   *event.Queue
	Registry *prometheus.Registry
	virtio   *virtio.Metrics
	devices  []Device
}

// Build machine from configuration.
func New(cfg *Config) (*Machine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Machine{cfg: cfg, virtio: virtio.NewMetrics()}
	m.Memory = mem.New(cfg.MemoryKB)
	m.FLIC = flic.New(cfg.AIS)
	m.CRWs = crw.New(cfg.CRWQueue, m.FLIC)
	m.CSS = css.New(m.Memory, m.FLIC, m.CRWs)
	m.IO = ioinst.New(m.CSS, m.FLIC)
	m.CPUs = cpu.NewSet(cfg.CPUs, m.Memory, m.FLIC, m.IO)
	m.Events = event.New()

	images := cfg.Images
	if len(images) == 0 {
		images = []ImageConfig{{CssID: DefaultCssID, Default: true}}
	}
	for _, image := range images {
		if err := m.CSS.CreateImage(image.CssID, image.Default); err != nil {
			return nil, fmt.Errorf("css %x: %w", image.CssID, err)
		}
	}
	for _, chp := range cfg.Chpids {
		if err := m.CSS.AddVirtualChpid(chp.CssID, chp.ChpID, chp.Type); err != nil {
			return nil, err
		}
	}
	if cfg.MSS {
		m.CSS.EnableMSS()
	}
	if cfg.MCSSE {
		m.CSS.EnableMCSSE()
	}

	for _, dc := range cfg.Devices {
		if _, err := m.AddDevice(dc); err != nil {
			return nil, err
		}
	}

	var result *multierror.Error
	for _, dc := range cfg.Debug {
		for _, opt := range dc.Options {
			if err := m.Debug(dc.Component, opt); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	m.Registry = prometheus.NewRegistry()
	m.Registry.MustRegister(collectors.NewGoCollector())
	for _, c := range m.collectors() {
		m.Registry.MustRegister(c)
	}
	slog.Info("Machine created", "memory", cfg.MemoryKB, "cpus", m.CPUs.Len(),
		"devices", len(m.devices))
	return m, nil
}

func (m *Machine) collectors() []prometheus.Collector {
	list := []prometheus.Collector{}
	list = append(list, m.FLIC.Collectors()...)
	list = append(list, m.CRWs.Collectors()...)
	list = append(list, m.CSS.Collectors()...)
	list = append(list, m.IO.Collectors()...)
	list = append(list, m.CPUs.Collectors()...)
	list = append(list, m.virtio.Collectors()...)
	return list
}

// Configuration machine was built from.
func (m *Machine) Config() *Config {
	return m.cfg
}

// Create and attach a device.
func (m *Machine) AddDevice(dc DeviceConfig) (Device, error) {
	bus, err := css.ParseBusID(dc.Bus)
	if err != nil {
		return nil, err
	}
	// Bare device number goes in the default image.
	if bus.Valid && !strings.Contains(dc.Bus, ".") {
		bus.CssID = m.CSS.DefaultCssID()
	}
	var dev Device
	var sch *css.Subchannel
	switch strings.ToUpper(dc.Model) {
	case "ECHO":
		echo := testdev.New(m.Events)
		if v, ok := dc.Options["delay"]; ok {
			delay, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("echo delay invalid: %s", v)
			}
			echo.SetDelay(delay)
		}
		sch, err = echo.Attach(m.CSS, bus)
		dev = echo
	case "VIRTIO":
		var vdev *virtio.Device
		vdev, err = virtio.New(dc.Kind, m.Events, m.virtio)
		if err != nil {
			return nil, err
		}
		for name, value := range dc.Options {
			if name == "delay" {
				delay, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("virtio delay invalid: %s", value)
				}
				vdev.SetDelay(delay)
				continue
			}
			if err := vdev.SetOption(name, value); err != nil {
				return nil, err
			}
		}
		sch, err = vdev.Attach(m.CSS, bus)
		dev = vdev
	default:
		return nil, fmt.Errorf("device model invalid: %s", dc.Model)
	}
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.devices = append(m.devices, dev)
	m.mu.Unlock()
	slog.Debug("Device added", "model", dc.Model, "bus", sch.BusID().String())
	return dev, nil
}

// Hot unplug a device, a channel report is made.
func (m *Machine) RemoveDevice(value string) error {
	dev, err := m.FindDevice(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for i, d := range m.devices {
		if d == dev {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.Events.CancelOwner(dev)
	m.CSS.DestroySch(dev.Subchannel())
	return nil
}

// Devices in order created.
func (m *Machine) Devices() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Device(nil), m.devices...)
}

// Add channel path to running machine.
func (m *Machine) AddChpid(value string, typ uint8) error {
	cssid, chpid, err := ParseChpid(value)
	if err != nil {
		return err
	}
	return m.CSS.HotplugChpid(cssid, chpid, typ)
}

// Remove unused channel path from running machine.
func (m *Machine) RemoveChpid(value string) error {
	cssid, chpid, err := ParseChpid(value)
	if err != nil {
		return err
	}
	return m.CSS.RemoveChpid(cssid, chpid)
}

// Find device by bus id. A bare device number is looked up in every
// image, the default image first.
func (m *Machine) FindDevice(value string) (Device, error) {
	bus, err := css.ParseBusID(value)
	if err != nil {
		return nil, err
	}
	if !bus.Valid {
		return nil, fmt.Errorf("%s: %w", value, ErrNoDevice)
	}
	exact := strings.Contains(value, ".")
	if !exact {
		bus.CssID = m.CSS.DefaultCssID()
	}
	var other Device
	for _, dev := range m.Devices() {
		at := dev.Subchannel().BusID()
		if at == bus {
			return dev, nil
		}
		if !exact && other == nil && at.DevNo == bus.DevNo {
			other = dev
		}
	}
	if other != nil {
		return other, nil
	}
	return nil, fmt.Errorf("%s: %w", value, ErrNoDevice)
}

// Enable debug option on component or device.
func (m *Machine) Debug(component string, opt string) error {
	opt = strings.ToUpper(opt)
	switch strings.ToUpper(component) {
	case "CSS":
		return m.CSS.Debug(opt)
	case "IOINST", "INST":
		return m.IO.Debug(opt)
	}
	dev, err := m.FindDevice(component)
	if err != nil {
		return fmt.Errorf("debug option invalid: %s: %w", component, err)
	}
	return dev.Debug(opt)
}

// Raise attention on an echo device.
func (m *Machine) Attention(value string) error {
	dev, err := m.FindDevice(value)
	if err != nil {
		return err
	}
	echo, ok := dev.(*testdev.TestDev)
	if !ok {
		return fmt.Errorf("attention %s: %w", value, ErrWrongDevice)
	}
	if !echo.Attention() {
		return fmt.Errorf("attention %s: %w", value, css.ErrStatusPending)
	}
	return nil
}

// Signal used buffers on a virtio queue.
func (m *Machine) Notify(value string, queue int) error {
	dev, err := m.FindDevice(value)
	if err != nil {
		return err
	}
	vdev, ok := dev.(*virtio.Device)
	if !ok {
		return fmt.Errorf("notify %s: %w", value, ErrWrongDevice)
	}
	return vdev.Notify(queue)
}

// Identification word of device's subchannel as seen by the guest.
func (m *Machine) ident(dev Device) uint64 {
	sch := dev.Subchannel()
	return ioinst.Ident(m.cfg.MCSSE, sch.CssID(), sch.SsID(), sch.SchID())
}

// Issue an I/O instruction for device on a CPU.
func (m *Machine) Execute(cpuAddr int, op uint16, value string, addr uint64) (uint8, uint16, error) {
	c := m.CPUs.CPU(cpuAddr)
	if c == nil {
		return 0, 0, fmt.Errorf("cpu %d: %w", cpuAddr, ErrNoDevice)
	}
	if value != "" {
		dev, err := m.FindDevice(value)
		if err != nil {
			return 0, 0, err
		}
		c.SetReg(1, m.ident(dev))
	}
	cc, irc := c.ExecuteIO(op, addr)
	return cc, irc, nil
}

// Put CPU in wait state. Returns false when an interrupt the CPU
// accepts is already pending and it stays running.
func (m *Machine) HaltCPU(cpuAddr int) (bool, error) {
	c := m.CPUs.CPU(cpuAddr)
	if c == nil {
		return false, fmt.Errorf("cpu %d: %w", cpuAddr, ErrNoDevice)
	}
	return !c.Halt(), nil
}

// Present pending interruptions to every CPU.
func (m *Machine) Deliver() []cpu.Class {
	list := []cpu.Class{}
	for _, c := range m.CPUs.All() {
		list = append(list, c.Deliver())
	}
	return list
}

// System reset. All errors are collected.
func (m *Machine) Reset() error {
	var result *multierror.Error
	m.CPUs.Reset()
	if err := m.CSS.Reset(); err != nil {
		result = multierror.Append(result, err)
	}
	m.FLIC.Reset()
	for _, dev := range m.Devices() {
		m.Events.CancelOwner(dev)
	}
	slog.Info("Machine reset")
	return result.ErrorOrNil()
}
