// Package mock provides an in-memory [engine.Dispatcher] for tests.
//
// The mock records every call and lets the test shape each outcome through
// exported fields. It is safe for concurrent use.
//
//	d := &mock.Dispatcher{Delay: 50 * time.Millisecond, FailCodes: map[marker.Code]bool{999: true}}
//	e := engine.New(d)
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/triggersync/internal/engine"
	"github.com/MrWong99/triggersync/pkg/marker"
)

// Compile-time interface assertion.
var _ engine.Dispatcher = (*Dispatcher)(nil)

// ErrDeviceDown is returned for codes listed in FailCodes when Err is nil.
var ErrDeviceDown = errors.New("mock: device unreachable")

// DispatchCall records the arguments of one [Dispatcher.Dispatch] call.
type DispatchCall struct {
	Code    marker.Code
	Name    string
	Details json.RawMessage
}

// Dispatcher is a mock implementation of [engine.Dispatcher].
type Dispatcher struct {
	mu sync.Mutex

	// Err is returned by every Dispatch call when non-nil.
	Err error

	// FailCodes makes Dispatch fail for the listed codes.
	FailCodes map[marker.Code]bool

	// Delay is slept before returning. DelayFor overrides it per code.
	Delay    time.Duration
	DelayFor map[marker.Code]time.Duration

	// Block, when non-nil, holds every Dispatch until it is closed.
	Block chan struct{}

	// Calls records all Dispatch invocations in arrival order.
	Calls []DispatchCall
}

// Dispatch implements [engine.Dispatcher].
func (d *Dispatcher) Dispatch(_ context.Context, code marker.Code, name string, details json.RawMessage) error {
	d.mu.Lock()
	d.Calls = append(d.Calls, DispatchCall{Code: code, Name: name, Details: details})
	delay := d.Delay
	if v, ok := d.DelayFor[code]; ok {
		delay = v
	}
	block := d.Block
	err := d.Err
	if err == nil && d.FailCodes[code] {
		err = ErrDeviceDown
	}
	d.mu.Unlock()

	if block != nil {
		<-block
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

// CallCount returns the number of Dispatch calls so far.
func (d *Dispatcher) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// Codes returns the dispatched codes in arrival order.
func (d *Dispatcher) Codes() []marker.Code {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]marker.Code, len(d.Calls))
	for i, c := range d.Calls {
		out[i] = c.Code
	}
	return out
}
