// The MIT License (MIT)
//
// Copyright (c) 2021 Winlin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

// Package probe checks whether an ICE server is reachable, by driving a
// one-sided ICE negotiation against it and classifying the candidates and
// errors it discovers.
//
// A probe never receives a remote answer, so it only gathers local candidates:
// a srflx candidate proves the STUN server works, and a relay candidate proves
// the TURN server allocates relays. The reachability flags are sticky during a
// run, and final once the gathering state is complete.
package probe

import (
	"context"
	"sync"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
)

// The label of the inert data channel, used to trigger gathering.
const dataChannelLabel = "test"

// Probe binds one session to one ICE server, see Start, Restart and Stop.
type Probe struct {
	ctx    context.Context
	engine Engine

	// Serialize Start, Restart and Stop, so the old session is always
	// disposed before the new one is created.
	lifecycle sync.Mutex

	// Protect the fields below.
	mu         sync.Mutex
	descriptor ServerDescriptor
	state      *State
	run        *probeRun
	err        error
	observers  map[uint64]func(*State)
	nextID     uint64
	// The notifications not delivered yet, in order.
	pending    []*State
	delivering bool
}

func NewProbe(ctx context.Context, engine Engine) *Probe {
	return &Probe{
		ctx:       ctx,
		engine:    engine,
		state:     NewState(),
		observers: make(map[uint64]func(*State)),
	}
}

// A run of probe, created by start and disposed by stop.
type probeRun struct {
	ctx    context.Context
	events chan *Event
	// Closed when run is stopped, by Stop or closed session.
	done     chan struct{}
	doneOnce sync.Once
	// Closed when the serve goroutine is done and the session is closed.
	exited chan struct{}
}

func newProbeRun(ctx context.Context) *probeRun {
	return &probeRun{
		ctx:    logger.WithContext(ctx),
		events: make(chan *Event, 64),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (v *probeRun) stop() {
	v.doneOnce.Do(func() {
		close(v.done)
	})
}

func (v *probeRun) stopped() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

// Start disposes the active session if any, resets the state, then creates a
// new session for d. It never blocks on the network, the state is updated by
// the events of session.
func (v *Probe) Start(d ServerDescriptor) {
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()

	v.start(d)
}

// Restart starts a new run when d differs from the active one, or the probe
// is not running.
func (v *Probe) Restart(d ServerDescriptor) {
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()

	v.mu.Lock()
	same := v.run != nil && !v.run.stopped() && v.descriptor.Equals(d)
	v.mu.Unlock()

	if same {
		logger.If(v.ctx, "ignore restart for same server %v", d)
		return
	}

	v.start(d)
}

// Stop closes the session and keeps the last state. It's ok to stop a stopped probe.
func (v *Probe) Stop() {
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()

	v.stop()
}

// State returns a copy of the current state.
func (v *Probe) State() *State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Clone()
}

func (v *Probe) Descriptor() ServerDescriptor {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.descriptor.clone()
}

// Err returns the setup error of the current run, nil if none.
func (v *Probe) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Subscribe registers fn, which is called with a copy of state when any field
// changes, or the setup fails. The calls are in order, on a goroutine other
// than the caller of Start. Return the func to unsubscribe.
func (v *Probe) Subscribe(fn func(*State)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++
	v.observers[id] = fn

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.observers, id)
	}
}

func (v *Probe) start(d ServerDescriptor) {
	v.stop()

	r := newProbeRun(v.ctx)

	v.mu.Lock()
	v.descriptor = d.clone()
	v.state = NewState()
	v.err = nil
	v.run = r
	v.mu.Unlock()

	logger.Tf(r.ctx, "Start probe %v", d)
	v.notify()

	go v.serve(r, d.clone())
}

func (v *Probe) stop() {
	v.mu.Lock()
	r := v.run
	v.mu.Unlock()

	if r == nil {
		return
	}

	r.stop()
	<-r.exited
}

func (v *Probe) serve(r *probeRun, d ServerDescriptor) {
	defer close(r.exited)
	defer r.stop()

	session, err := v.engine.NewSession(r.ctx, d)
	if err != nil {
		v.fail(r, errors.Wrapf(err, "create session"))
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Wf(r.ctx, "ignore close session err %+v", err)
		}
	}()
	// Unblock the handlers before closing the session, which may wait for them,
	// when we quit for session closed.
	defer r.stop()

	var unsubscribes []func()
	defer func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}()

	for _, kind := range AllEventKinds {
		unsubscribes = append(unsubscribes, session.Subscribe(kind, func(e *Event) {
			select {
			case r.events <- e:
			case <-r.done:
			}
		}))
	}

	if err := v.setup(r, session); err != nil {
		v.fail(r, err)
		return
	}

	for {
		select {
		case <-r.done:
			logger.If(r.ctx, "probe stopped, state %v", v.State())
			return
		case e := <-r.events:
			if closed := v.apply(r, e); closed {
				logger.Tf(r.ctx, "session closed, state %v", v.State())
				return
			}
		}
	}
}

// Create the data channel and the offer, without remote answer.
func (v *Probe) setup(r *probeRun, session Session) error {
	if err := session.CreateDataChannel(dataChannelLabel); err != nil {
		return errors.Wrapf(err, "create data channel")
	}

	if r.stopped() {
		return nil
	}

	offer, err := session.CreateOffer()
	if err != nil {
		return errors.Wrapf(err, "create offer")
	}
	logger.If(r.ctx, "offer %vB", len(offer.SDP))

	if r.stopped() {
		return nil
	}

	if err := session.SetLocalDescription(offer); err != nil {
		return errors.Wrapf(err, "set local description")
	}

	return nil
}

func (v *Probe) fail(r *probeRun, err error) {
	// Stopped by user, not a setup failure.
	if r.stopped() {
		return
	}

	logger.Ef(r.ctx, "Probe setup fail, err %+v", err)

	v.mu.Lock()
	current := v.run == r
	if current {
		v.err = err
	}
	v.mu.Unlock()

	if current {
		v.notify()
	}
}

// Apply the event to state, return true if the session is closed.
func (v *Probe) apply(r *probeRun, e *Event) (closed bool) {
	if e == nil {
		return false
	}

	v.mu.Lock()
	if v.run != r {
		v.mu.Unlock()
		return false
	}

	changed := true
	s := v.state
	switch e.Kind {
	case EventCandidate:
		if e.Candidate == nil {
			changed = false
			break
		}
		s.addCandidate(e.Candidate)
	case EventCandidateError:
		if e.CandidateError == nil {
			changed = false
			break
		}
		s.addError(e.CandidateError)
	case EventICEGatheringStateChange:
		changed = s.setGatheringState(e.ICEGatheringState)
	case EventICEConnectionStateChange:
		s.ICEConnectionState = e.ICEConnectionState
	case EventConnectionStateChange:
		s.ConnectionState = e.ConnectionState
		closed = e.ConnectionState == ConnectionStateClosed
	default:
		changed = false
	}
	v.mu.Unlock()

	logger.If(r.ctx, "event %v, changed=%v", e, changed)
	if changed {
		v.notify()
	}
	return
}

// Queue a copy of state for the observers. They are called in order on the
// delivery goroutine, never on the dispatch goroutine nor with lifecycle held,
// so it's ok for an observer to call Stop or Restart.
func (v *Probe) notify() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.pending = append(v.pending, v.state.Clone())
	if !v.delivering {
		v.delivering = true
		go v.deliver()
	}
}

// Deliver the pending notifications, quit when none.
func (v *Probe) deliver() {
	for {
		v.mu.Lock()
		if len(v.pending) == 0 {
			v.delivering = false
			v.mu.Unlock()
			return
		}
		state := v.pending[0]
		v.pending[0] = nil
		v.pending = v.pending[1:]

		ids := make([]uint64, 0, len(v.observers))
		for id := range v.observers {
			ids = append(ids, id)
		}
		v.mu.Unlock()

		for _, id := range ids {
			// Skip the observer unsubscribed during delivery.
			v.mu.Lock()
			fn, ok := v.observers[id]
			v.mu.Unlock()

			if ok {
				fn(state.Clone())
			}
		}
	}
}
