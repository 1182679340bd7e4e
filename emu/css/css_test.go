/*
 * S390  - Channel subsystem registry tests
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
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcornwell/S390/emu/crw"
	"github.com/rcornwell/S390/emu/flic"
	mem "github.com/rcornwell/S390/emu/memory"
)

const testCssID uint8 = 0xfe

// Counts adapter registrations reaching the controller.
type countingFLIC struct {
	*flic.FLIC
	registered int
	fail       bool
}

func (c *countingFLIC) RegisterIOAdapter(id uint32, isc uint8, swap bool, maskable bool) error {
	if c.fail {
		return errors.New("no adapter space")
	}
	c.registered++
	return c.FLIC.RegisterIOAdapter(id, isc, swap, maskable)
}

type testMachine struct {
	css  *ChannelSubsystem
	flic *flic.FLIC
	crws *crw.Queue
	mem  *mem.Memory
}

func newTestMachine(t *testing.T) *testMachine {
	t.Helper()
	f := flic.New(true)
	q := crw.New(16, f)
	m := mem.New(64)
	c := New(m, f, q)
	require.NoError(t, c.CreateImage(testCssID, true))
	return &testMachine{css: c, flic: f, crws: q, mem: m}
}

func TestCreateImage(t *testing.T) {
	tm := newTestMachine(t)
	assert.ErrorIs(t, tm.css.CreateImage(testCssID, false), ErrBusy)
	assert.ErrorIs(t, tm.css.CreateImage(MaxCssID, false), ErrInvalid)
	require.NoError(t, tm.css.CreateImage(0, false))
	assert.True(t, tm.css.Present(0))
	assert.Equal(t, testCssID, tm.css.DefaultCssID())
}

// One subchannel per slot and one per device number.
func TestAssignUnique(t *testing.T) {
	tm := newTestMachine(t)
	bus := BusID{CssID: testCssID, SsID: 0, DevNo: 0x0100, Valid: true}
	sch1, err := tm.css.CreateSch(bus, nil)
	require.NoError(t, err)
	_, err = tm.css.CreateSch(bus, nil)
	assert.ErrorIs(t, err, ErrExist)

	sch2, err := tm.css.CreateSch(BusID{CssID: testCssID, DevNo: 0x0101, Valid: true}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, sch1.SchID(), sch2.SchID())
	assert.True(t, tm.css.DevnoUsed(testCssID, 0, 0x0100))

	assert.Same(t, sch1, tm.css.FindSubch(true, testCssID, 0, sch1.SchID()))
	tm.css.Assign(testCssID, 0, sch1.SchID(), 0x0100, nil)
	assert.Nil(t, tm.css.FindSubch(true, testCssID, 0, sch1.SchID()))
	assert.False(t, tm.css.DevnoUsed(testCssID, 0, 0x0100))

	sch3, err := tm.css.CreateSch(bus, nil)
	require.NoError(t, err)
	assert.Equal(t, sch1.SchID(), sch3.SchID(), "freed slot should be reused")
}

func TestCreateSchAuto(t *testing.T) {
	tm := newTestMachine(t)
	sch, err := tm.css.CreateSch(BusID{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fe.0.0000", sch.BusID().String())
	assert.Equal(t, uint16(0), sch.SchID())

	sch, err = tm.css.CreateSch(BusID{}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), sch.SchID())
	assert.Equal(t, uint16(1), sch.DevNo())

	// Bus id in a new image creates the image.
	sch, err = tm.css.CreateSch(BusID{CssID: 1, SsID: 2, DevNo: 0x4000, Valid: true}, nil)
	require.NoError(t, err)
	assert.True(t, tm.css.Present(1))
	assert.Equal(t, uint8(2), sch.SsID())
}

// Legacy addressing maps cssid 0 to the default image.
func TestFindDefault(t *testing.T) {
	tm := newTestMachine(t)
	sch, err := tm.css.CreateSch(BusID{CssID: testCssID, DevNo: 0x0001, Valid: true}, nil)
	require.NoError(t, err)
	assert.Same(t, sch, tm.css.FindSubch(false, 0, 0, sch.SchID()))
	assert.Nil(t, tm.css.FindSubch(true, 0, 0, sch.SchID()))
	assert.Nil(t, tm.css.FindSubch(false, 0, 4, sch.SchID()))
}

func TestSchidFinal(t *testing.T) {
	tm := newTestMachine(t)
	for i := 0; i < 3; i++ {
		_, err := tm.css.CreateSch(BusID{}, nil)
		require.NoError(t, err)
	}
	tm.css.Assign(testCssID, 0, 1, 1, nil)
	assert.False(t, tm.css.SchidFinal(false, 0, 0, 1), "gap below highest subchannel")
	assert.False(t, tm.css.SchidFinal(false, 0, 0, 2))
	assert.True(t, tm.css.SchidFinal(false, 0, 0, 3))
	assert.True(t, tm.css.SchidFinal(false, 0, 1, 0), "set does not exist")
}

func TestVisible(t *testing.T) {
	tm := newTestMachine(t)
	sch0, err := tm.css.CreateSch(BusID{CssID: testCssID, SsID: 0, DevNo: 1, Valid: true}, nil)
	require.NoError(t, err)
	sch1, err := tm.css.CreateSch(BusID{CssID: testCssID, SsID: 1, DevNo: 1, Valid: true}, nil)
	require.NoError(t, err)
	other, err := tm.css.CreateSch(BusID{CssID: 2, SsID: 0, DevNo: 1, Valid: true}, nil)
	require.NoError(t, err)

	assert.True(t, tm.css.Visible(sch0))
	assert.False(t, tm.css.Visible(sch1))
	assert.False(t, tm.css.Visible(other))

	tm.css.EnableMSS()
	assert.True(t, tm.css.Visible(sch1))
	tm.css.EnableMCSSE()
	assert.True(t, tm.css.Visible(other))

	require.NoError(t, tm.css.Reset())
	assert.False(t, tm.css.Visible(sch1))
}

func TestSubchannelID(t *testing.T) {
	tm := newTestMachine(t)
	assert.Equal(t, uint16(0x0003), tm.css.subchannelID(testCssID, 1))
	tm.css.EnableMCSSE()
	assert.Equal(t, uint16(0xfe0b), tm.css.subchannelID(testCssID, 1))
}

func TestAddChpid(t *testing.T) {
	tm := newTestMachine(t)
	require.NoError(t, tm.css.AddVirtualChpid(testCssID, 0x10, 0x32))
	assert.ErrorIs(t, tm.css.AddVirtualChpid(testCssID, 0x10, 0x32), ErrExist)
	assert.ErrorIs(t, tm.css.AddVirtualChpid(3, 0x10, 0x32), ErrInvalid)

	typ, err := tm.css.ChpidType(testCssID, 0x10)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x32), typ)

	chpid, ok := tm.css.FindFreeChpid(testCssID)
	require.True(t, ok)
	assert.Equal(t, uint8(1), chpid, "chpid 0 is reserved")

	desc := tm.css.ChpDesc(false, 0, 0, 0xff, 0)
	assert.Equal(t, []byte{0x80, 0, 0x32, 0x10, 0, 0, 0, 0}, desc)
	assert.Len(t, tm.css.ChpDesc(false, 0, 0, 0xff, 1), ChpDescFmt1Size)
	assert.Empty(t, tm.css.ChpDesc(false, 0, 0, 0x0f, 0))
}

func TestRCHP(t *testing.T) {
	tm := newTestMachine(t)
	require.NoError(t, tm.css.AddVirtualChpid(testCssID, 0x20, 0x32))
	assert.ErrorIs(t, tm.css.DoRCHP(0, 0x21), ErrNoDevice)
	require.NoError(t, tm.css.DoRCHP(0, 0x20))

	report, ok := tm.crws.Dequeue()
	require.True(t, ok)
	assert.Equal(t, crw.RscChp, report.RSC())
	assert.Equal(t, crw.ErcInit, report.ERC())
	assert.Equal(t, uint16(0x20), report.RSID)
	assert.True(t, tm.flic.HasCrwMchk())
}

func TestChpidHotplug(t *testing.T) {
	tm := newTestMachine(t)
	require.NoError(t, tm.css.AddVirtualChpid(testCssID, 0x10, 0x32))
	assert.Zero(t, tm.crws.Len(), "cold plug should not report")

	require.NoError(t, tm.css.HotplugChpid(testCssID, 0x20, 0x32))
	assert.ErrorIs(t, tm.css.HotplugChpid(testCssID, 0x20, 0x32), ErrExist)
	report, ok := tm.crws.Dequeue()
	require.True(t, ok)
	assert.Equal(t, crw.RscChp, report.RSC())
	assert.Equal(t, crw.ErcInit, report.ERC())
	assert.Equal(t, uint16(0x20), report.RSID)
	assert.True(t, tm.flic.HasCrwMchk())

	// Path in use can not be removed.
	sch, err := tm.css.CreateSch(BusID{}, nil)
	require.NoError(t, err)
	sch.BuildVirtualSchib(0x20, 0x32)
	assert.ErrorIs(t, tm.css.RemoveChpid(testCssID, 0x20), ErrBusy)
	tm.css.DestroySch(sch)
	tm.crws.Reset()

	require.NoError(t, tm.css.RemoveChpid(testCssID, 0x20))
	assert.False(t, tm.css.ChpidInUse(testCssID, 0x20))
	report, ok = tm.crws.Dequeue()
	require.True(t, ok)
	assert.Equal(t, crw.RscChp, report.RSC())
	assert.Equal(t, crw.ErcPerrn, report.ERC())
	assert.Equal(t, uint16(0x20), report.RSID)
	assert.ErrorIs(t, tm.css.RemoveChpid(testCssID, 0x20), ErrNoDevice)

	// Image hidden from guest until multiple css enabled.
	require.NoError(t, tm.css.CreateImage(1, false))
	require.NoError(t, tm.css.HotplugChpid(1, 0x30, 0x32))
	assert.Zero(t, tm.crws.Len())
	tm.css.EnableMCSSE()
	require.NoError(t, tm.css.RemoveChpid(1, 0x30))
	pending := tm.crws.Pending()
	require.Len(t, pending, 2)
	assert.NotZero(t, pending[0].Flags&crw.FlagC)
	assert.Equal(t, uint16(0x30), pending[0].RSID)
	assert.Equal(t, uint16(0x0100), pending[1].RSID)
}

func TestBuildVirtualSchibChpidError(t *testing.T) {
	tm := newTestMachine(t)
	sch, err := tm.css.CreateSch(BusID{}, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(old) })

	sch.BuildVirtualSchib(0x10, 0x32)
	sch.BuildVirtualSchib(0x10, 0x32)
	assert.Empty(t, buf.String(), "path already defined")

	tm.css.mu.Lock()
	tm.css.images[testCssID] = nil
	tm.css.mu.Unlock()
	sch.BuildVirtualSchib(0x11, 0x32)
	assert.Contains(t, buf.String(), "Virtual schib channel path")
}

// Registering the same adapter twice gives the same id.
func TestRegisterAdapterIdempotent(t *testing.T) {
	f := &countingFLIC{FLIC: flic.New(true)}
	c := New(mem.New(4), f, crw.New(4, nil))

	id1, err := c.RegisterIOAdapter(AdapterTypeVirtio, 3, true, false, AdapterSuppressible)
	require.NoError(t, err)
	id2, err := c.RegisterIOAdapter(AdapterTypeVirtio, 3, true, false, AdapterSuppressible)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, f.registered)

	id3, err := c.RegisterIOAdapter(AdapterTypeVirtio, 4, true, false, 0)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	id, ok := c.GetAdapterID(AdapterTypeVirtio, 4)
	assert.True(t, ok)
	assert.Equal(t, id3, id)
	_, ok = c.GetAdapterID(AdapterTypePCI, 4)
	assert.False(t, ok)

	f.fail = true
	_, err = c.RegisterIOAdapter(AdapterTypePCI, 1, false, false, 0)
	assert.Error(t, err)
	assert.Len(t, c.Adapters(), 2)
}

func TestAdapterInterrupt(t *testing.T) {
	tm := newTestMachine(t)
	_, err := tm.css.RegisterIOAdapter(AdapterTypeVirtio, 2, true, false, AdapterSuppressible)
	require.NoError(t, err)

	require.NoError(t, tm.css.DoSIC(2, SICModeSingle))
	assert.ErrorIs(t, tm.css.DoSIC(2, 5), ErrInvalid)

	tm.css.AdapterInterrupt(AdapterTypeVirtio, 2)
	tm.css.AdapterInterrupt(AdapterTypeVirtio, 2)
	tm.css.AdapterInterrupt(AdapterTypeVirtio, 6)

	io, ok := tm.flic.DequeueIO(0xff000000)
	require.True(t, ok)
	assert.Equal(t, uint32(2<<27)|IOIntWordAI, io.Word)
	assert.False(t, tm.flic.HasAny(), "second interrupt should be suppressed")
}

func TestGenerateSchCRWs(t *testing.T) {
	tm := newTestMachine(t)
	tm.css.GenerateSchCRWs(testCssID, 0, 5, false, true)
	assert.Zero(t, tm.crws.Len(), "cold plug should not report")

	tm.css.GenerateSchCRWs(testCssID, 1, 5, true, true)
	assert.Zero(t, tm.crws.Len(), "set 1 not enabled")

	tm.css.GenerateSchCRWs(testCssID, 0, 5, true, true)
	require.Equal(t, 1, tm.crws.Len())
	report, _ := tm.crws.Dequeue()
	assert.Equal(t, uint16(0x030b), report.Flags)
	assert.Equal(t, uint16(5), report.RSID)

	tm.css.EnableMSS()
	tm.css.GenerateSchCRWs(testCssID, 1, 7, true, true)
	assert.Equal(t, []crw.CRW{
		{Flags: 0x030b | crw.FlagC, RSID: 7},
		{Flags: 0x030b, RSID: 0x0010},
	}, tm.crws.Pending())
}

func TestGenerateCssCRWs(t *testing.T) {
	tm := newTestMachine(t)
	tm.css.GenerateCssCRWs(0)
	tm.css.GenerateCssCRWs(0)
	assert.Equal(t, 1, tm.crws.Len())
	tm.css.ClearSEIPending()
	tm.css.GenerateCssCRWs(0)
	assert.Equal(t, 2, tm.crws.Len())
}

func TestParseBusID(t *testing.T) {
	tests := []struct {
		in    string
		out   BusID
		fails bool
	}{
		{in: "auto", out: BusID{}},
		{in: "0.0.1234", out: BusID{CssID: 0, SsID: 0, DevNo: 0x1234, Valid: true}},
		{in: "fe.3.000a", out: BusID{CssID: 0xfe, SsID: 3, DevNo: 0x000a, Valid: true}},
		{in: "01a0", out: BusID{DevNo: 0x01a0, Valid: true}},
		{in: "0.4.1234", fails: true},
		{in: "ff.0.1234", fails: true},
		{in: "0.0.123", fails: true},
		{in: "0.0.12345", fails: true},
		{in: "0.0", fails: true},
		{in: "xyz", fails: true},
	}
	for _, test := range tests {
		bus, err := ParseBusID(test.in)
		if test.fails {
			assert.ErrorIs(t, err, ErrInvalid, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		assert.Equal(t, test.out, bus, test.in)
	}
	assert.Equal(t, "0.0.0009", BusID{DevNo: 9, Valid: true}.String())
	assert.Equal(t, "fe.1.1234", BusID{CssID: 0xfe, SsID: 1, DevNo: 0x1234, Valid: true}.String())
}

func TestCondCode(t *testing.T) {
	assert.Equal(t, uint8(0), CondCode(nil))
	assert.Equal(t, uint8(1), CondCode(ErrStatusPending))
	assert.Equal(t, uint8(2), CondCode(ErrBusy))
	assert.Equal(t, uint8(3), CondCode(ErrNoDevice))
}
