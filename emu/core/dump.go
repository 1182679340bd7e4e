/*
 * S390  - Machine state dump
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
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rcornwell/S390/emu/cpu"
	"github.com/rcornwell/S390/emu/crw"
	"github.com/rcornwell/S390/emu/css"
	"github.com/rcornwell/S390/emu/flic"
	"github.com/rcornwell/S390/emu/virtio"
)

type CRWInfo struct {
	RSC       uint8  `yaml:"rsc"`
	ERC       uint8  `yaml:"erc"`
	RSID      uint16 `yaml:"rsid"`
	Solicited bool   `yaml:"solicited,omitempty"`
	Chained   bool   `yaml:"chained,omitempty"`
	Overflow  bool   `yaml:"overflow,omitempty"`
}

type DeviceInfo struct {
	Bus    string       `yaml:"bus"`
	Model  string       `yaml:"model"`
	Virtio *virtio.Info `yaml:"virtio,omitempty"`
}

// Everything dumped.
type State struct {
	Config  *Config      `yaml:"config"`
	CSS     css.Snapshot `yaml:"css"`
	FLIC    flic.State   `yaml:"flic"`
	CRWs    []CRWInfo    `yaml:"crws"`
	CRWLost bool         `yaml:"crws_lost,omitempty"`
	CPUs    []cpu.State  `yaml:"cpus"`
	Devices []DeviceInfo `yaml:"devices"`
}

func crwInfo(c crw.CRW) CRWInfo {
	return CRWInfo{
		RSC:       c.RSC(),
		ERC:       c.ERC(),
		RSID:      c.RSID,
		Solicited: (c.Flags & crw.FlagS) != 0,
		Chained:   (c.Flags & crw.FlagC) != 0,
		Overflow:  (c.Flags & crw.FlagR) != 0,
	}
}

// Collect current state of machine.
func (m *Machine) State() State {
	state := State{
		Config:  m.cfg,
		CSS:     m.CSS.Snapshot(),
		FLIC:    m.FLIC.State(),
		CRWs:    []CRWInfo{},
		CRWLost: m.CRWs.Lost(),
		CPUs:    m.CPUs.State(),
		Devices: []DeviceInfo{},
	}
	for _, c := range m.CRWs.Pending() {
		state.CRWs = append(state.CRWs, crwInfo(c))
	}
	for _, dev := range m.Devices() {
		info := DeviceInfo{Bus: dev.Subchannel().BusID().String(), Model: "ECHO"}
		if vdev, ok := dev.(*virtio.Device); ok {
			vinfo := vdev.Info()
			info.Model = "VIRTIO"
			info.Virtio = &vinfo
		}
		state.Devices = append(state.Devices, info)
	}
	return state
}

// Write state as YAML.
func (m *Machine) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m.State()); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	return enc.Close()
}

// Write state to file.
func (m *Machine) DumpFile(name string) error {
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := m.Dump(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
