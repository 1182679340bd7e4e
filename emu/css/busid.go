/*
 * S390  - Device bus id
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

package css

import (
	"fmt"
	"strconv"
	"strings"
)

// Device address cssid.ssid.devno, Valid clear means pick any.
type BusID struct {
	CssID uint8
	SsID  uint8
	DevNo uint16
	Valid bool
}

func (b BusID) String() string {
	if !b.Valid {
		return "auto"
	}
	return fmt.Sprintf("%x.%x.%04x", b.CssID, b.SsID, b.DevNo)
}

// Parse bus id. Accepts "auto", a bare device number or
// cssid.ssid.devno with exactly four hex digits of device number.
func ParseBusID(value string) (BusID, error) {
	bus := BusID{}
	if value == "" || strings.EqualFold(value, "auto") {
		return bus, nil
	}
	parts := strings.Split(value, ".")
	switch len(parts) {
	case 1:
		devno, err := strconv.ParseUint(parts[0], 16, 16)
		if err != nil {
			return bus, fmt.Errorf("invalid device number %s: %w", value, ErrInvalid)
		}
		bus.DevNo = uint16(devno)
	case 3:
		if len(parts[0]) == 0 || len(parts[0]) > 2 || len(parts[1]) != 1 || len(parts[2]) != 4 {
			return bus, fmt.Errorf("invalid cssid.ssid.devno %s: %w", value, ErrInvalid)
		}
		cssid, err1 := strconv.ParseUint(parts[0], 16, 8)
		ssid, err2 := strconv.ParseUint(parts[1], 16, 8)
		devno, err3 := strconv.ParseUint(parts[2], 16, 16)
		if err1 != nil || err2 != nil || err3 != nil {
			return bus, fmt.Errorf("invalid cssid.ssid.devno %s: %w", value, ErrInvalid)
		}
		if cssid >= MaxCssID || ssid > MaxSsID {
			return bus, fmt.Errorf("invalid cssid or ssid in %s: %w", value, ErrInvalid)
		}
		bus.CssID = uint8(cssid)
		bus.SsID = uint8(ssid)
		bus.DevNo = uint16(devno)
	default:
		return bus, fmt.Errorf("invalid bus id %s: %w", value, ErrInvalid)
	}
	bus.Valid = true
	return bus, nil
}
