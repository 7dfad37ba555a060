// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ring0

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ResumeAction is what a handler asks the dispatcher to do after it returns.
type ResumeAction int

const (
	// Continue resumes execution from the (possibly modified) frame.
	Continue ResumeAction = iota

	// Fatal reports the frame and halts the processor.
	Fatal
)

// String implements fmt.Stringer.
func (a ResumeAction) String() string {
	switch a {
	case Continue:
		return "continue"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("ResumeAction(%d)", int(a))
	}
}

// Handler handles a trap.
//
// The frame may be modified; on Continue the modified state is what the
// CPU resumes with. FS and GS are not reloaded from the frame.
type Handler interface {
	HandleTrap(f *TrapFrame) ResumeAction
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(f *TrapFrame) ResumeAction

// HandleTrap implements Handler.HandleTrap.
func (fn HandlerFunc) HandleTrap(f *TrapFrame) ResumeAction {
	return fn(f)
}

// ErrDuplicateHandler is returned when a vector already has a handler.
var ErrDuplicateHandler = errors.New("vector already has a handler")

// handlerEntry boxes a Handler for atomic.Pointer.
type handlerEntry struct {
	h Handler
}

// HandlerTable maps vectors to handlers. It is shared by all CPUs.
//
// Lookups are lock-free and may run concurrently with registration.
type HandlerTable struct {
	entries [NumVectors]atomic.Pointer[handlerEntry]
	sealed  atomic.Bool
}

// Register sets the handler for v.
func (t *HandlerTable) Register(v Vector, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for vector %d", uint8(v))
	}
	if t.sealed.Load() {
		return ErrSealed
	}
	if !t.entries[v].CompareAndSwap(nil, &handlerEntry{h}) {
		return fmt.Errorf("vector %d (%v): %w", uint8(v), v, ErrDuplicateHandler)
	}
	return nil
}

// Lookup returns the handler for v, or nil.
//
//go:nosplit
func (t *HandlerTable) Lookup(v Vector) Handler {
	if e := t.entries[v].Load(); e != nil {
		return e.h
	}
	return nil
}

// Seal prevents further registration.
func (t *HandlerTable) Seal() {
	t.sealed.Store(true)
}

// Sealed returns true once the table is sealed.
func (t *HandlerTable) Sealed() bool {
	return t.sealed.Load()
}

// DispatchState is the state of a Dispatcher.
type DispatchState uint32

const (
	// Idle means no trap is being serviced.
	Idle DispatchState = iota

	// Dispatching means a handler is running.
	Dispatching

	// Halted means the fatal path ran. It is terminal.
	Halted
)

// String implements fmt.Stringer.
func (s DispatchState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatching:
		return "dispatching"
	case Halted:
		return "halted"
	default:
		return fmt.Sprintf("DispatchState(%d)", uint32(s))
	}
}

// Dispatcher routes the traps of one CPU to handlers.
type Dispatcher struct {
	handlers *HandlerTable
	console  Console
	halt     func()

	state  atomic.Uint32
	depth  atomic.Int32
	counts [NumVectors]atomic.Uint64
}

// NewDispatcher returns a dispatcher for one CPU. halt is called after the
// fatal diagnostic is printed.
func NewDispatcher(handlers *HandlerTable, console Console, halt func()) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		console:  console,
		halt:     halt,
	}
}

// State returns the dispatcher state.
func (d *Dispatcher) State() DispatchState {
	return DispatchState(d.state.Load())
}

// Depth returns the number of traps currently being serviced.
func (d *Dispatcher) Depth() int {
	return int(d.depth.Load())
}

// Count returns the number of traps dispatched for v.
func (d *Dispatcher) Count(v Vector) uint64 {
	return d.counts[v].Load()
}

// Dispatch services the trap described by f.
//
// It returns Continue if the frame should be resumed. On Fatal the
// diagnostic has been printed and halt has been called; on real hardware
// Dispatch does not return in that case.
func (d *Dispatcher) Dispatch(f *TrapFrame) ResumeAction {
	if d.State() == Halted {
		return Fatal
	}
	v, ok := f.Vector()
	if !ok {
		return d.fatal("invalid trap number", f)
	}
	f.Normalize()
	d.counts[v].Add(1)

	h := d.handlers.Lookup(v)
	if h == nil {
		return d.fatal(unhandledReason(v), f)
	}

	d.depth.Add(1)
	d.state.Store(uint32(Dispatching))
	action := h.HandleTrap(f)
	if d.depth.Add(-1) == 0 {
		d.state.CompareAndSwap(uint32(Dispatching), uint32(Idle))
	}

	if action != Continue {
		return d.fatal(fmt.Sprintf("fatal %v", v), f)
	}
	return Continue
}

func unhandledReason(v Vector) string {
	switch {
	case v.IsException():
		return fmt.Sprintf("unhandled exception %v", v)
	case v == GenericInterrupt:
		return "unhandled device interrupt"
	default:
		return "unregistered vector"
	}
}

// fatal prints the diagnostic for f and halts.
func (d *Dispatcher) fatal(reason string, f *TrapFrame) ResumeAction {
	d.state.Store(uint32(Halted))
	DumpFrame(d.console, reason, f)
	if d.halt != nil {
		d.halt()
	}
	return Fatal
}
