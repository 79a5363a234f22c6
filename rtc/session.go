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
package rtc

import (
	"context"
	"sync"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"

	"github.com/usama-liaqat/ice-server-test/probe"
)

// The session over a PeerConnection, which fans out the callbacks of pion to
// the subscribed handlers.
type session struct {
	ctx        context.Context
	pc         *webrtc.PeerConnection
	descriptor probe.ServerDescriptor
	checker    *ServerChecker

	lock     sync.Mutex
	handlers map[probe.EventKind]map[uint64]probe.Handler
	nextID   uint64

	// The server checks, started when local description is set.
	checkCtx    context.Context
	checkCancel context.CancelFunc
	checks      sync.WaitGroup
	checksOnce  sync.Once
	checksDone  chan struct{}
	// The complete gathering state is emitted once, after all checks done.
	completeOnce sync.Once
	closeOnce    sync.Once
}

func newSession(ctx context.Context, pc *webrtc.PeerConnection, d probe.ServerDescriptor, checker *ServerChecker) *session {
	v := &session{
		ctx: ctx, pc: pc, descriptor: d, checker: checker,
		handlers:   make(map[probe.EventKind]map[uint64]probe.Handler),
		checksDone: make(chan struct{}),
	}
	v.checkCtx, v.checkCancel = context.WithCancel(ctx)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// Nil for the end of candidates.
		if c == nil {
			v.complete()
			return
		}

		logger.If(ctx, "Got candidate %v", c)
		v.emit(probe.NewCandidateEvent(newCandidate(c)))
	})

	pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		logger.If(ctx, "ICE gathering %v", state)

		switch state {
		case webrtc.ICEGathererStateGathering:
			v.emit(probe.NewICEGatheringStateEvent(probe.ICEGatheringStateGathering))
		case webrtc.ICEGathererStateComplete:
			v.complete()
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.If(ctx, "ICE state %v", state)
		v.emit(probe.NewICEConnectionStateEvent(probe.ICEConnectionState(state.String())))
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.If(ctx, "PC state %v", state)
		v.emit(probe.NewConnectionStateEvent(probe.ConnectionState(state.String())))
	})

	return v
}

func newCandidate(c *webrtc.ICECandidate) *probe.Candidate {
	return &probe.Candidate{
		Foundation:     c.Foundation,
		Component:      c.Component,
		Protocol:       c.Protocol.String(),
		Priority:       c.Priority,
		Address:        c.Address,
		Port:           c.Port,
		Type:           probe.CandidateType(c.Typ.String()),
		RelatedAddress: c.RelatedAddress,
		RelatedPort:    c.RelatedPort,
	}
}

func (v *session) CreateDataChannel(label string) error {
	if _, err := v.pc.CreateDataChannel(label, nil); err != nil {
		return errors.Wrapf(err, "create data channel %v", label)
	}
	return nil
}

func (v *session) CreateOffer() (*probe.Description, error) {
	offer, err := v.pc.CreateOffer(nil)
	if err != nil {
		return nil, errors.Wrapf(err, "create offer")
	}

	return &probe.Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (v *session) SetLocalDescription(d *probe.Description) error {
	if err := validateOffer(d.SDP); err != nil {
		return errors.Wrapf(err, "validate offer")
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: d.SDP}
	if err := v.pc.SetLocalDescription(offer); err != nil {
		return errors.Wrapf(err, "set offer %v", offer.SDP)
	}

	v.startChecks()
	return nil
}

// The offer should carry the data channel, or there is no transport to gather.
func validateOffer(offer string) error {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(offer)); err != nil {
		return errors.Wrapf(err, "parse sdp")
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "application" {
			return nil
		}
	}

	return errors.Errorf("no application in %v medias", len(sd.MediaDescriptions))
}

func (v *session) Subscribe(kind probe.EventKind, h probe.Handler) func() {
	v.lock.Lock()
	defer v.lock.Unlock()

	id := v.nextID
	v.nextID++
	if v.handlers[kind] == nil {
		v.handlers[kind] = make(map[uint64]probe.Handler)
	}
	v.handlers[kind][id] = h

	return func() {
		v.lock.Lock()
		defer v.lock.Unlock()
		delete(v.handlers[kind], id)
	}
}

func (v *session) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.checkCancel()
		err = v.pc.Close()
		v.checks.Wait()
	})
	return err
}

// Never call handler with lock, because it may unsubscribe.
func (v *session) emit(e *probe.Event) {
	v.lock.Lock()
	handlers := make([]probe.Handler, 0, len(v.handlers[e.Kind]))
	for _, h := range v.handlers[e.Kind] {
		handlers = append(handlers, h)
	}
	v.lock.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

// Check all servers, and report the failures as candidate errors.
func (v *session) startChecks() {
	v.checksOnce.Do(func() {
		for _, u := range v.descriptor.URLs {
			v.checks.Add(1)
			go func(u string) {
				defer v.checks.Done()

				if e := v.checker.Check(v.checkCtx, u, v.descriptor.Username, v.descriptor.Credential); e != nil {
					if v.checkCtx.Err() != nil {
						return
					}
					logger.Wf(v.ctx, "Check %v fail, code=%v, text=%v", u, e.ErrorCode, e.ErrorText)
					v.emit(probe.NewCandidateErrorEvent(e))
				}
			}(u)
		}

		go func() {
			v.checks.Wait()
			close(v.checksDone)
		}()
	})
}

// Emit the complete gathering state after the checks, so the errors are final
// when gathering is complete.
func (v *session) complete() {
	v.completeOnce.Do(func() {
		go func() {
			select {
			case <-v.checkCtx.Done():
				return
			case <-v.checksDone:
			}

			logger.If(v.ctx, "ICE gathering complete")
			v.emit(probe.NewICEGatheringStateEvent(probe.ICEGatheringStateComplete))
		}()
	})
}
