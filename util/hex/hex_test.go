/*
 * S390  - Hex formatting helpers
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

package hex

import (
	"strings"
	"testing"
)

func TestFormatByte(t *testing.T) {
	var str strings.Builder
	FormatByte(&str, 0x0a)
	FormatByte(&str, 0xf3)
	if str.String() != "0AF3" {
		t.Errorf("FormatByte not correct got: '%s'", str.String())
	}
}

func TestDump(t *testing.T) {
	var str strings.Builder
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	Dump(&str, 0x100, data)
	expect := "000100: 00010203 04050607 08090A0B 0C0D0E0F \n000110: 10111213 \n"
	if str.String() != expect {
		t.Errorf("Dump not correct got: '%s' expected: '%s'", str.String(), expect)
	}
}
