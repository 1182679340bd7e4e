/*
 * S390  - Debug configuration statement tests
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

package debugconfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcornwell/S390/emu/core"
)

func TestDebugStatement(t *testing.T) {
	cfg, err := core.LoadConfig(strings.NewReader(`
debug css cmd,detail
debug inst trace
echo fe.0.0200
debug fe.0.0200 cmd,data
`))
	require.NoError(t, err)
	expect := []core.DebugConfig{
		{Component: "CSS", Options: []string{"CMD", "DETAIL"}},
		{Component: "INST", Options: []string{"TRACE"}},
		{Component: "FE.0.0200", Options: []string{"CMD", "DATA"}},
	}
	assert.Equal(t, expect, cfg.Debug)
}

func TestDebugInvalid(t *testing.T) {
	for _, line := range []string{
		"debug cpu trace\n",
		"debug css\n",
		"debug css cmd=1\n",
	} {
		_, err := core.LoadConfig(strings.NewReader(line))
		assert.Error(t, err, line)
	}
}

func TestOutsideLoad(t *testing.T) {
	assert.Error(t, setDebug(0, "css", nil))
	assert.Error(t, core.AddDebug("css", []string{"CMD"}))
}
