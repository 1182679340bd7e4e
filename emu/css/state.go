/*
 * S390  - Subchannel state
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
	"log/slog"
)

// Subchannel state derived from the SCSW control bits.
type State int

const (
	StateIdle          State = iota // No function, no status
	StateStartPending               // Start accepted, not yet run
	StateActive                     // Subchannel or device active
	StateSuspended                  // Channel program suspended
	StateResumePending              // Resume accepted on suspended program
	StateHaltPending                // Halt accepted
	StateClearPending               // Clear accepted
	StateStatusPending              // Status waiting for TSCH
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateStartPending:  "start pending",
	StateActive:        "active",
	StateSuspended:     "suspended",
	StateResumePending: "resume pending",
	StateHaltPending:   "halt pending",
	StateClearPending:  "clear pending",
	StateStatusPending: "status pending",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Work out state from a status word. Status pending wins over
// any function in progress, clear over halt over start.
func StateOf(scsw *SCSW) State {
	actl := scsw.Actl()
	switch {
	case (scsw.Ctrl & SCSWStctlStatusPend) != 0:
		return StateStatusPending
	case (actl & SCSWActlClearPend) != 0:
		return StateClearPending
	case (actl & SCSWActlHaltPend) != 0:
		return StateHaltPending
	case (actl & SCSWActlResumePend) != 0:
		return StateResumePending
	case (actl & SCSWActlSusp) != 0:
		return StateSuspended
	case (actl & (SCSWActlSubchActive | SCSWActlDevActive)) != 0:
		return StateActive
	case (actl & SCSWActlStartPend) != 0:
		return StateStartPending
	}
	return StateIdle
}

// Check that control bits form a combination the state machine
// can produce.
func ConsistentSCSW(scsw *SCSW) bool {
	fctl := scsw.Fctl()
	actl := scsw.Actl()
	if (fctl&SCSWFctlClear) != 0 && (fctl&^SCSWFctlClear) != 0 {
		return false
	}
	if fctl == 0 && (actl&(SCSWActlStartPend|SCSWActlResumePend|SCSWActlHaltPend|SCSWActlClearPend|SCSWActlSusp)) != 0 {
		return false
	}
	if (actl&SCSWActlResumePend) != 0 && (actl&SCSWActlSusp) == 0 && (fctl&SCSWFctlStart) == 0 {
		return false
	}
	return true
}

// Trace state after a function. Control bits the state machine can
// not produce are always reported. Caller holds s.mu.
func (s *Subchannel) checkState(op string) {
	scsw := &s.schib.SCSW
	if !ConsistentSCSW(scsw) {
		slog.Error("Subchannel control bits inconsistent", "subchannel", s.String(),
			"op", op, "ctrl", fmt.Sprintf("%04x", scsw.Ctrl))
	}
	s.debugf(debugState, "%s state=%s ctrl=%04x", op, StateOf(scsw), scsw.Ctrl)
}
