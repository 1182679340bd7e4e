/*
 * S390  - Virtio device kinds
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
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Feature bits common to all kinds.
const (
	FeatureRingIndirect uint64 = 1 << 28
	FeatureVersion1     uint64 = 1 << 32

	netFeatureMAC     uint64 = 1 << 5
	netFeatureStatus  uint64 = 1 << 16
	blkFeatureSegMax  uint64 = 1 << 2
	blkFeatureBlkSize uint64 = 1 << 6
	conFeatureSize    uint64 = 1 << 0
)

// Virtio device kind, the backend personality of a device.
type Kind struct {
	Name      string
	ID        uint8  // Virtio device id, presented as control unit model
	Queues    int    // Number of virtqueues
	QueueSize uint16 // Maximum entries per virtqueue
	Features  uint64 // Offered device features
	ConfigLen int    // Size of device configuration space
}

var kinds = map[string]Kind{
	"net": {Name: "net", ID: 1, Queues: 2, QueueSize: 256,
		Features: netFeatureMAC | netFeatureStatus, ConfigLen: 10},
	"blk": {Name: "blk", ID: 2, Queues: 1, QueueSize: 128,
		Features: blkFeatureSegMax | blkFeatureBlkSize, ConfigLen: 24},
	"console": {Name: "console", ID: 3, Queues: 2, QueueSize: 64,
		Features: conFeatureSize, ConfigLen: 12},
}

// Find kind by name.
func LookupKind(name string) (Kind, error) {
	k, ok := kinds[strings.ToLower(name)]
	if !ok {
		return Kind{}, fmt.Errorf("virtio type invalid: %s", name)
	}
	return k, nil
}

// Default configuration space, little endian like all virtio fields.
func (k Kind) defaultConfig() []byte {
	cfg := make([]byte, k.ConfigLen)
	switch k.Name {
	case "net":
		copy(cfg[0:6], []byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56})
		binary.LittleEndian.PutUint16(cfg[6:], 1) // Link up
		binary.LittleEndian.PutUint16(cfg[8:], 1)
	case "blk":
		binary.LittleEndian.PutUint32(cfg[12:], 126)
		binary.LittleEndian.PutUint32(cfg[20:], 512)
	case "console":
		binary.LittleEndian.PutUint16(cfg[0:], 80)
		binary.LittleEndian.PutUint16(cfg[2:], 25)
		binary.LittleEndian.PutUint32(cfg[4:], 1)
	}
	return cfg
}

// Apply a configuration option to config space.
func (k Kind) setOption(cfg []byte, name string, value string) error {
	switch k.Name + "." + strings.ToLower(name) {
	case "net.mac":
		mac, err := net.ParseMAC(value)
		if err != nil || len(mac) != 6 {
			return fmt.Errorf("virtio net mac invalid: %s", value)
		}
		copy(cfg[0:6], mac)
	case "blk.capacity":
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return fmt.Errorf("virtio blk capacity invalid: %s", value)
		}
		binary.LittleEndian.PutUint64(cfg[0:], v)
	case "console.cols", "console.rows":
		v, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("virtio console %s invalid: %s", name, value)
		}
		off := 0
		if strings.EqualFold(name, "rows") {
			off = 2
		}
		binary.LittleEndian.PutUint16(cfg[off:], uint16(v))
	default:
		return fmt.Errorf("virtio %s option invalid: %s", k.Name, name)
	}
	return nil
}
