/*
 * S390  - Machine configuration statements
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
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	config "github.com/rcornwell/S390/config/configparser"
	"github.com/rcornwell/S390/emu/crw"
	"github.com/rcornwell/S390/emu/css"
)

const (
	DefaultMemory = 1024 // Storage size in K
	DefaultCPUs   = 1
	DefaultCssID  = 0xfe
)

type ImageConfig struct {
	CssID   uint8 `yaml:"cssid"`
	Default bool  `yaml:"default"`
}

type ChpidConfig struct {
	CssID uint8 `yaml:"cssid"`
	ChpID uint8 `yaml:"chpid"`
	Type  uint8 `yaml:"type"`
}

// Device statement, model is ECHO or VIRTIO.
type DeviceConfig struct {
	Model   string            `yaml:"model"`
	Bus     string            `yaml:"bus"`
	Kind    string            `yaml:"kind,omitempty"`
	Options map[string]string `yaml:"options,omitempty"`
}

// Debug statement for a component or a device bus id.
type DebugConfig struct {
	Component string   `yaml:"component"`
	Options   []string `yaml:"options"`
}

// Machine description built from configuration statements.
type Config struct {
	MemoryKB int            `yaml:"memory"`
	CPUs     int            `yaml:"cpus"`
	CRWQueue int            `yaml:"crw_queue"`
	AIS      bool           `yaml:"ais"`
	MSS      bool           `yaml:"mss"`
	MCSSE    bool           `yaml:"mcsse"`
	Images   []ImageConfig  `yaml:"images"`
	Chpids   []ChpidConfig  `yaml:"chpids,omitempty"`
	Devices  []DeviceConfig `yaml:"devices,omitempty"`
	Debug    []DebugConfig  `yaml:"debug,omitempty"`
	Ports    []string       `yaml:"ports,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		MemoryKB: DefaultMemory,
		CPUs:     DefaultCPUs,
		CRWQueue: crw.DefaultCapacity,
		AIS:      true,
	}
}

var (
	loadMu  sync.Mutex
	loading *Config // Configuration being loaded
)

var errNotLoading = errors.New("configuration statement outside of load")

// register configuration statements on initialize.
func init() {
	config.RegisterOption("MEMORY", setMemory)
	config.RegisterOption("CPUS", setCPUs)
	config.RegisterOption("CRWQUEUE", setCRWQueue)
	config.RegisterModel("CSS", config.TypeOptions, addImage)
	config.RegisterModel("CHPID", config.TypeOptions, addChpid)
	config.RegisterSwitch("MSS", func(uint16, string, []config.Option) error {
		return with(func(c *Config) error { c.MSS = true; return nil })
	})
	config.RegisterSwitch("MCSSE", func(uint16, string, []config.Option) error {
		return with(func(c *Config) error { c.MCSSE = true; return nil })
	})
	config.RegisterSwitch("NOAIS", func(uint16, string, []config.Option) error {
		return with(func(c *Config) error { c.AIS = false; return nil })
	})
	config.RegisterModel("ECHO", config.TypeModel, addEcho)
	config.RegisterModel("VIRTIO", config.TypeModel, addVirtio)
}

// Load configuration file into a machine description.
func LoadConfigFile(name string) (*Config, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return LoadConfig(file)
}

// Process configuration statements from reader.
func LoadConfig(r io.Reader) (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()
	loading = DefaultConfig()
	defer func() { loading = nil }()

	if err := config.LoadConfig(r); err != nil {
		return nil, err
	}
	cfg := loading
	if len(cfg.Images) == 0 {
		cfg.Images = append(cfg.Images, ImageConfig{CssID: DefaultCssID, Default: true})
	}
	return cfg, nil
}

// Add a debug statement, called by the DEBUG statement handler.
func AddDebug(component string, options []string) error {
	return with(func(c *Config) error {
		c.Debug = append(c.Debug, DebugConfig{Component: strings.ToUpper(component), Options: options})
		return nil
	})
}

// Add a remote console port, called by the PORT statement handler.
func AddPort(port string) error {
	return with(func(c *Config) error {
		if slices.Contains(c.Ports, port) {
			return fmt.Errorf("port %s defined twice", port)
		}
		c.Ports = append(c.Ports, port)
		return nil
	})
}

// Apply fn to configuration being loaded. Only valid while loading,
// the load lock is already held.
func with(fn func(c *Config) error) error {
	if loading == nil {
		return errNotLoading
	}
	return fn(loading)
}

func setMemory(_ uint16, value string, _ []config.Option) error {
	size, err := strconv.ParseUint(strings.TrimSuffix(strings.ToUpper(value), "K"), 10, 32)
	if err != nil || size == 0 {
		return fmt.Errorf("memory size invalid: %s", value)
	}
	return with(func(c *Config) error { c.MemoryKB = int(size); return nil })
}

func setCPUs(_ uint16, value string, _ []config.Option) error {
	n, err := strconv.ParseUint(value, 10, 8)
	if err != nil || n == 0 {
		return fmt.Errorf("number of cpus invalid: %s", value)
	}
	return with(func(c *Config) error { c.CPUs = int(n); return nil })
}

func setCRWQueue(_ uint16, value string, _ []config.Option) error {
	n, err := strconv.ParseUint(value, 10, 16)
	if err != nil || n == 0 {
		return fmt.Errorf("crw queue size invalid: %s", value)
	}
	return with(func(c *Config) error { c.CRWQueue = int(n); return nil })
}

// CSS <cssid> [default]
func addImage(_ uint16, value string, options []config.Option) error {
	cssid, err := strconv.ParseUint(value, 16, 8)
	if err != nil || cssid >= css.MaxCssID {
		return fmt.Errorf("css id invalid: %s", value)
	}
	image := ImageConfig{CssID: uint8(cssid)}
	for _, opt := range options {
		if !strings.EqualFold(opt.Name, "default") {
			return fmt.Errorf("css option invalid: %s", opt.Name)
		}
		image.Default = true
	}
	return with(func(c *Config) error {
		for _, i := range c.Images {
			if i.CssID == image.CssID {
				return fmt.Errorf("css %x defined twice", image.CssID)
			}
		}
		c.Images = append(c.Images, image)
		return nil
	})
}

// Parse cssid.chpid.
func ParseChpid(value string) (uint8, uint8, error) {
	parts := strings.Split(value, ".")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("chpid must be cssid.chpid: %s", value)
	}
	cssid, err1 := strconv.ParseUint(parts[0], 16, 8)
	chpid, err2 := strconv.ParseUint(parts[1], 16, 8)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("chpid invalid: %s", value)
	}
	return uint8(cssid), uint8(chpid), nil
}

// CHPID <cssid>.<chpid> type=<hex>
func addChpid(_ uint16, value string, options []config.Option) error {
	cssid, chpid, err := ParseChpid(value)
	if err != nil {
		return err
	}
	chp := ChpidConfig{CssID: cssid, ChpID: chpid, Type: css.VirtioCCWChpType}
	for _, opt := range options {
		if !strings.EqualFold(opt.Name, "type") {
			return fmt.Errorf("chpid option invalid: %s", opt.Name)
		}
		typ, err := opt.Number(16, 8)
		if err != nil {
			return err
		}
		chp.Type = uint8(typ)
	}
	return with(func(c *Config) error { c.Chpids = append(c.Chpids, chp); return nil })
}

func checkBus(value string) (string, error) {
	if _, err := css.ParseBusID(value); err != nil {
		return "", err
	}
	return value, nil
}

// ECHO <busid>
func addEcho(_ uint16, value string, options []config.Option) error {
	bus, err := checkBus(value)
	if err != nil {
		return err
	}
	dev := DeviceConfig{Model: "ECHO", Bus: bus}
	for _, opt := range options {
		if !strings.EqualFold(opt.Name, "delay") {
			return fmt.Errorf("echo option invalid: %s", opt.Name)
		}
		dev.Options = map[string]string{"delay": opt.EqualOpt}
	}
	return with(func(c *Config) error { c.Devices = append(c.Devices, dev); return nil })
}

// VIRTIO <busid> type=<net|blk|console> [option=value...]
func addVirtio(_ uint16, value string, options []config.Option) error {
	bus, err := checkBus(value)
	if err != nil {
		return err
	}
	dev := DeviceConfig{Model: "VIRTIO", Bus: bus, Options: map[string]string{}}
	for _, opt := range options {
		name := strings.ToLower(opt.Name)
		if name == "type" {
			dev.Kind = strings.ToLower(opt.EqualOpt)
			continue
		}
		dev.Options[name] = opt.EqualOpt
	}
	if dev.Kind == "" {
		return fmt.Errorf("virtio %s requires type", value)
	}
	return with(func(c *Config) error { c.Devices = append(c.Devices, dev); return nil })
}
