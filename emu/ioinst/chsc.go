/*
 * S390  - Channel subsystem call
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

package ioinst

import (
	"encoding/binary"

	"github.com/rcornwell/S390/util/debug"
)

// CHSC commands.
const (
	chscSCPD uint16 = 0x0002 // Store channel path description
	chscSEI  uint16 = 0x000e // Store event information
	chscSCSC uint16 = 0x0010 // Store channel subsystem characteristics
	chscSDA  uint16 = 0x0031 // Set domain attributes
)

// CHSC response codes.
const (
	chscOK          uint16 = 0x0001
	chscBadRequest  uint16 = 0x0003
	chscNotProvided uint16 = 0x0004
	chscNoEvent     uint16 = 0x0005
	chscBadFormat   uint16 = 0x0007
	chscBadCssID    uint16 = 0x0008
)

const (
	chscMinRequest  = 16
	chscMaxRequest  = 0x0ff8
	chscMinResponse = 8
	chscSCSCLength  = 4080

	sdaMCSSE uint16 = 0 // Enable multiple channel subsystem extensions
	sdaMSS   uint16 = 2 // Enable multiple subchannel sets
)

// Channel subsystem call. Request block is on a page boundary,
// response follows the request in the same page.
func (h *Handler) chsc(req *Request) uint16 {
	if (req.Addr & 0xfff) != 0 {
		return IrcSpec
	}
	header := make([]byte, 4)
	if irc := h.fetch(req.Addr, header, req.Key); irc != 0 {
		return irc
	}
	length := binary.BigEndian.Uint16(header)
	if length < chscMinRequest || length > chscMaxRequest || (length&7) != 0 {
		return IrcOperand
	}
	request := make([]byte, length)
	if irc := h.fetch(req.Addr, request, req.Key); irc != 0 {
		return irc
	}
	response := h.chscCommand(request)
	if irc := h.store(req.Addr+uint64(length), response, req.Key); irc != 0 {
		return irc
	}
	req.CC = 0
	return 0
}

// Build response block.
func chscResponse(code uint16, param uint32, data []byte) []byte {
	buf := make([]byte, chscMinResponse+len(data))
	binary.BigEndian.PutUint16(buf[0:], uint16(len(buf)))
	binary.BigEndian.PutUint16(buf[2:], code)
	binary.BigEndian.PutUint32(buf[4:], param)
	copy(buf[chscMinResponse:], data)
	return buf
}

func (h *Handler) chscCommand(request []byte) []byte {
	cmd := binary.BigEndian.Uint16(request[2:])
	debug.Debugf("IOINST", h.debugMsk, debugCHSC, "chsc %s length=%d", chscName(cmd), len(request))
	h.metrics.chsc.WithLabelValues(chscName(cmd)).Inc()
	switch cmd {
	case chscSCPD:
		return h.chscSCPD(request)
	case chscSCSC:
		return h.chscSCSC(request)
	case chscSDA:
		return h.chscSDA(request)
	case chscSEI:
		return h.chscSEI(request)
	}
	return chscResponse(chscNotProvided, 0, nil)
}

func chscName(cmd uint16) string {
	switch cmd {
	case chscSCPD:
		return "scpd"
	case chscSCSC:
		return "scsc"
	case chscSDA:
		return "sda"
	case chscSEI:
		return "sei"
	}
	return "other"
}

// Parameter words of a request.
func chscParams(request []byte) (uint32, uint32, uint32) {
	return binary.BigEndian.Uint32(request[4:]),
		binary.BigEndian.Uint32(request[8:]),
		binary.BigEndian.Uint32(request[12:])
}

// Check css id of a request against the configuration.
func (h *Handler) cssIDValid(m bool, cssid uint8) bool {
	if cssid == 0 {
		return true
	}
	return m && h.css.Present(cssid)
}

// Store channel path description.
func (h *Handler) chscSCPD(request []byte) []byte {
	param0, param1, param2 := chscParams(request)
	rfmt := int((param0 & 0x00000f00) >> 8)
	if rfmt == 0 || rfmt == 1 {
		rfmt = 0
		if (param0 & 0x10000000) != 0 {
			rfmt = 1
		}
	}
	if len(request) != 0x10 || (param0&0xc000f000) != 0 ||
		(param1&0xffffff00) != 0 || param2 != 0 {
		return chscResponse(chscBadRequest, 0, nil)
	}
	if (param0 & 0x0f000000) != 0 {
		return chscResponse(chscBadFormat, 0, nil)
	}
	cssid := uint8((param0 & 0x00ff0000) >> 16)
	m := (param0 & 0x20000000) != 0
	if !h.cssIDValid(m, cssid) {
		return chscResponse(chscBadCssID, 0, nil)
	}
	first := uint8(param0)
	last := uint8(param1)
	if last < first {
		return chscResponse(chscBadRequest, 0, nil)
	}
	desc := h.css.ChpDesc(m, cssid, first, last, rfmt)
	return chscResponse(chscOK, uint32(rfmt), desc)
}

// Store channel subsystem characteristics.
func (h *Handler) chscSCSC(request []byte) []byte {
	param0, param1, param2 := chscParams(request)
	if len(request) != 0x10 {
		return chscResponse(chscBadRequest, 0, nil)
	}
	if (param0 & 0x000f0000) != 0 {
		return chscResponse(chscBadFormat, 0, nil)
	}
	cssid := uint8((param0 & 0x0000ff00) >> 8)
	m := (param0 & 0x20000000) != 0
	if !h.cssIDValid(m, cssid) {
		return chscResponse(chscBadCssID, 0, nil)
	}
	if (param0&0xdff000ff) != 0 || param1 != 0 || param2 != 0 {
		return chscResponse(chscBadRequest, 0, nil)
	}
	data := make([]byte, chscSCSCLength-chscMinResponse)
	general := data[:510*4]
	chars := data[510*4:]
	binary.BigEndian.PutUint32(general[0:], 0x03000000)
	binary.BigEndian.PutUint32(general[4:], 0x00079000)
	binary.BigEndian.PutUint32(general[12:], 0x00080000)
	binary.BigEndian.PutUint32(chars[0:], 0x40000000)
	binary.BigEndian.PutUint32(chars[12:], 0x00040000)
	return chscResponse(chscOK, 0, data)
}

// Set domain attributes.
func (h *Handler) chscSDA(request []byte) []byte {
	if len(request) != 0x0400 {
		return chscResponse(chscBadRequest, 0, nil)
	}
	switch binary.BigEndian.Uint16(request[6:]) {
	case sdaMCSSE:
		h.css.EnableMCSSE()
	case sdaMSS:
		h.css.EnableMSS()
	default:
		return chscResponse(chscBadRequest, 0, nil)
	}
	return chscResponse(chscOK, 0, nil)
}

// Store event information. No events are ever generated.
func (h *Handler) chscSEI(request []byte) []byte {
	if len(request) != 0x10 {
		return chscResponse(chscBadRequest, 0, nil)
	}
	h.css.ClearSEIPending()
	return chscResponse(chscNoEvent, 0, nil)
}
