/*
 * S390  - Machine core loop
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
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rcornwell/S390/emu/cpu"
	"github.com/rcornwell/S390/emu/master"
)

var ErrStopped = errors.New("core not running")

type Core struct {
	wg      sync.WaitGroup
	done    chan struct{} // Signal to shutdown simulator.
	stop    sync.Once
	running bool // Time advances when set.
	Master  chan master.Packet
	machine *Machine
}

// Create core for machine, packets are read from master.
func NewCore(m *Machine, master chan master.Packet) *Core {
	return &Core{
		Master:  master,
		machine: m,
		done:    make(chan struct{}),
	}
}

func (core *Core) Machine() *Machine {
	return core.machine
}

// Run until stopped or ctx is done. All access to the machine from
// other goroutines goes through packets.
func (core *Core) Start(ctx context.Context) error {
	core.wg.Add(1)
	defer core.wg.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, c := range core.machine.CPUs.All() {
		core.wg.Add(1)
		go core.idle(ctx, c)
	}
	for {
		select {
		case <-core.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case packet := <-core.Master:
			err := core.processPacket(packet)
			if packet.Reply != nil {
				packet.Reply <- err
			} else if err != nil {
				slog.Error(err.Error(), "msg", packet.Msg.String())
			}
		}
	}
}

// Post a delivery each time a CPU in wait state is woken.
func (core *Core) idle(ctx context.Context, c *cpu.CPU) {
	defer core.wg.Done()
	for {
		if err := c.Wait(ctx); err != nil {
			return
		}
		slog.Debug("CPU woken", "cpu", c.Addr())
		select {
		case core.Master <- master.Packet{Msg: master.Deliver}:
		case <-ctx.Done():
			return
		}
	}
}

// Stop the core loop.
func (core *Core) Stop() {
	slog.Info("Shutting down core")
	core.stop.Do(func() { close(core.done) })
	done := make(chan struct{})
	go func() {
		core.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		slog.Warn("Timed out waiting for core to finish.")
	}
}

// Send packet and wait for result.
func (core *Core) send(packet master.Packet) error {
	packet.Reply = make(chan error, 1)
	select {
	case core.Master <- packet:
	case <-core.done:
		return ErrStopped
	}
	select {
	case err := <-packet.Reply:
		return err
	case <-core.done:
		return ErrStopped
	}
}

// Let time advance.
func (core *Core) SendStart() error {
	return core.send(master.Packet{Msg: master.Start})
}

// Freeze time.
func (core *Core) SendStop() error {
	return core.send(master.Packet{Msg: master.Stop})
}

// Raise attention on echo device.
func (core *Core) SendAttention(bus string) error {
	return core.send(master.Packet{Msg: master.Attention, Bus: bus})
}

// Signal used buffers on a virtio queue.
func (core *Core) SendNotify(bus string, queue int) error {
	return core.send(master.Packet{Msg: master.Notify, Bus: bus, Queue: queue})
}

// Present pending interruptions.
func (core *Core) SendDeliver() error {
	return core.send(master.Packet{Msg: master.Deliver})
}

// System reset.
func (core *Core) SendReset() error {
	return core.send(master.Packet{Msg: master.Reset})
}

// Run fn on the core goroutine.
func (core *Core) Exec(fn func() error) error {
	return core.send(master.Packet{Msg: master.Exec, Fn: fn})
}

// Process a packet sent to core.
func (core *Core) processPacket(packet master.Packet) error {
	m := core.machine
	switch packet.Msg {
	case master.Start:
		core.running = true
	case master.Stop:
		core.running = false
	case master.TimeClock:
		if !core.running {
			return nil
		}
		m.Events.Advance(1)
		m.Deliver()
	case master.Attention:
		return m.Attention(packet.Bus)
	case master.Notify:
		return m.Notify(packet.Bus, packet.Queue)
	case master.Deliver:
		for _, class := range m.Deliver() {
			slog.Debug("Delivered", "class", class.String())
		}
	case master.Reset:
		return m.Reset()
	case master.Exec:
		if packet.Fn != nil {
			return packet.Fn()
		}
	}
	return nil
}
