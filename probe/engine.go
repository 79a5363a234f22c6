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
package probe

import (
	"context"
	"fmt"
)

// Engine creates negotiation sessions, for example, a WebRTC PeerConnection.
type Engine interface {
	// NewSession creates a session configured with exactly the server d.
	NewSession(ctx context.Context, d ServerDescriptor) (Session, error)
}

// Description is a session description, only the offer is used by probe.
type Description struct {
	Type string
	SDP  string
}

// Handler is the callback for session event.
type Handler func(e *Event)

// Session is a negotiation session owned by a probe.
type Session interface {
	// CreateDataChannel creates a channel to trigger the ICE gathering, no data is sent.
	CreateDataChannel(label string) error
	CreateOffer() (*Description, error)
	// SetLocalDescription applies the offer, which starts the ICE gathering.
	SetLocalDescription(d *Description) error
	// Subscribe registers h for events of kind, return the unsubscribe func.
	Subscribe(kind EventKind, h Handler) func()
	Close() error
}

type EventKind int

const (
	EventCandidate EventKind = iota
	EventCandidateError
	EventICEGatheringStateChange
	EventICEConnectionStateChange
	EventConnectionStateChange
)

// AllEventKinds is the all kinds of event a probe subscribes.
var AllEventKinds = []EventKind{
	EventCandidate,
	EventCandidateError,
	EventICEGatheringStateChange,
	EventICEConnectionStateChange,
	EventConnectionStateChange,
}

func (v EventKind) String() string {
	switch v {
	case EventCandidate:
		return "candidate"
	case EventCandidateError:
		return "candidate-error"
	case EventICEGatheringStateChange:
		return "gathering"
	case EventICEConnectionStateChange:
		return "ice"
	case EventConnectionStateChange:
		return "connection"
	default:
		return fmt.Sprintf("kind-%d", int(v))
	}
}

// Event is the tagged session event, only the field for Kind is set.
type Event struct {
	Kind EventKind

	Candidate          *Candidate
	CandidateError     *CandidateErrorEvent
	ICEGatheringState  ICEGatheringState
	ICEConnectionState ICEConnectionState
	ConnectionState    ConnectionState
}

func (v *Event) String() string {
	switch v.Kind {
	case EventCandidate:
		return fmt.Sprintf("candidate %v", v.Candidate)
	case EventCandidateError:
		e := v.CandidateError
		return fmt.Sprintf("candidate-error url=%v, code=%v, text=%v", e.URL, e.ErrorCode, e.ErrorText)
	case EventICEGatheringStateChange:
		return fmt.Sprintf("gathering %v", v.ICEGatheringState)
	case EventICEConnectionStateChange:
		return fmt.Sprintf("ice %v", v.ICEConnectionState)
	case EventConnectionStateChange:
		return fmt.Sprintf("connection %v", v.ConnectionState)
	}
	return v.Kind.String()
}

func NewCandidateEvent(c *Candidate) *Event {
	return &Event{Kind: EventCandidate, Candidate: c}
}

func NewCandidateErrorEvent(e *CandidateErrorEvent) *Event {
	return &Event{Kind: EventCandidateError, CandidateError: e}
}

func NewICEGatheringStateEvent(s ICEGatheringState) *Event {
	return &Event{Kind: EventICEGatheringStateChange, ICEGatheringState: s}
}

func NewICEConnectionStateEvent(s ICEConnectionState) *Event {
	return &Event{Kind: EventICEConnectionStateChange, ICEConnectionState: s}
}

func NewConnectionStateEvent(s ConnectionState) *Event {
	return &Event{Kind: EventConnectionStateChange, ConnectionState: s}
}
