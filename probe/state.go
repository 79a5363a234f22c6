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
	"fmt"
	"strings"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/pion/stun"
)

// ServerDescriptor is the ICE server to probe, same as the RTCIceServer of browser.
type ServerDescriptor struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func (v ServerDescriptor) String() string {
	return fmt.Sprintf("urls=%v, username=%v", strings.Join(v.URLs, ","), v.Username)
}

// Equals returns true when both descriptors bind to the same servers and credentials.
func (v ServerDescriptor) Equals(o ServerDescriptor) bool {
	if len(v.URLs) != len(o.URLs) {
		return false
	}
	for i, u := range v.URLs {
		if u != o.URLs[i] {
			return false
		}
	}
	return v.Username == o.Username && v.Credential == o.Credential
}

// Validate checks the urls, which should be stun, stuns, turn or turns.
func (v ServerDescriptor) Validate() error {
	if len(v.URLs) == 0 {
		return errors.New("no url")
	}

	for _, u := range v.URLs {
		uri, err := stun.ParseURI(u)
		if err != nil {
			return errors.Wrapf(err, "parse %v", u)
		}
		if uri.Scheme == stun.SchemeTypeUnknown {
			return errors.Errorf("invalid scheme of %v", u)
		}
	}

	return nil
}

func (v ServerDescriptor) clone() ServerDescriptor {
	d := v
	d.URLs = append([]string(nil), v.URLs...)
	return d
}

type ConnectionState string

const (
	ConnectionStateNew          ConnectionState = "new"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateFailed       ConnectionState = "failed"
	ConnectionStateClosed       ConnectionState = "closed"
)

type ICEConnectionState string

const (
	ICEConnectionStateNew          ICEConnectionState = "new"
	ICEConnectionStateChecking     ICEConnectionState = "checking"
	ICEConnectionStateConnected    ICEConnectionState = "connected"
	ICEConnectionStateCompleted    ICEConnectionState = "completed"
	ICEConnectionStateFailed       ICEConnectionState = "failed"
	ICEConnectionStateDisconnected ICEConnectionState = "disconnected"
	ICEConnectionStateClosed       ICEConnectionState = "closed"
)

type ICEGatheringState string

const (
	ICEGatheringStateNew       ICEGatheringState = "new"
	ICEGatheringStateGathering ICEGatheringState = "gathering"
	ICEGatheringStateComplete  ICEGatheringState = "complete"
)

// The order of gathering state, which never goes back.
func (v ICEGatheringState) rank() int {
	switch v {
	case ICEGatheringStateGathering:
		return 1
	case ICEGatheringStateComplete:
		return 2
	default:
		return 0
	}
}

type CandidateType string

const (
	CandidateTypeHost            CandidateType = "host"
	CandidateTypeServerReflexive CandidateType = "srflx"
	CandidateTypePeerReflexive   CandidateType = "prflx"
	CandidateTypeRelay           CandidateType = "relay"
)

// Candidate is a local ICE candidate discovered by the session.
type Candidate struct {
	Foundation     string        `json:"foundation"`
	Component      uint16        `json:"component"`
	Protocol       string        `json:"protocol"`
	Priority       uint32        `json:"priority"`
	Address        string        `json:"address"`
	Port           uint16        `json:"port"`
	Type           CandidateType `json:"type"`
	RelatedAddress string        `json:"relatedAddress,omitempty"`
	RelatedPort    uint16        `json:"relatedPort,omitempty"`
}

func (v *Candidate) String() string {
	return fmt.Sprintf("%v %v %v:%v typ %v, foundation=%v, priority=%v",
		v.Component, v.Protocol, v.Address, v.Port, v.Type, v.Foundation, v.Priority)
}

// CandidateErrorEvent is the raw error reported by the session, like the
// RTCPeerConnectionIceErrorEvent of browser.
type CandidateErrorEvent struct {
	URL       string
	Address   string
	Port      int
	ErrorCode int
	ErrorText string
}

// CandidateError is the classified error in state.
type CandidateError struct {
	URL        string `json:"url"`
	Address    string `json:"address,omitempty"`
	Port       int    `json:"port,omitempty"`
	ErrorCode  int    `json:"errorCode"`
	ErrorText  string `json:"errorText"`
	StatusCode string `json:"statusCode"`
}

var statusLabels = map[int]string{
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	408: "Request Timeout",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// StatusOf maps the error code to a human readable status. The table follows
// HTTP, which is a heuristic for the STUN/TURN codes, not a protocol mapping.
func StatusOf(errorCode int) string {
	if s, ok := statusLabels[errorCode]; ok {
		return s
	}
	return "Unknown Error"
}

func newCandidateError(e *CandidateErrorEvent) CandidateError {
	text := e.ErrorText
	if text == "" {
		text = "N/A"
	}

	return CandidateError{
		URL: e.URL, Address: e.Address, Port: e.Port,
		ErrorCode: e.ErrorCode, ErrorText: text, StatusCode: StatusOf(e.ErrorCode),
	}
}

type Verdict string

const (
	VerdictProcessing  Verdict = "processing"
	VerdictReachable   Verdict = "reachable"
	VerdictUnreachable Verdict = "unreachable"
)

// State is the observed state of a probe run.
type State struct {
	ConnectionState    ConnectionState    `json:"connectionState"`
	ICEConnectionState ICEConnectionState `json:"iceConnectionState"`
	ICEGatheringState  ICEGatheringState  `json:"iceGatheringState"`
	PublicIP           string             `json:"publicIp"`
	// Reserved for the relayed address, never written for now.
	RelayIP       string           `json:"relayIp"`
	STUNReachable bool             `json:"stunReachable"`
	TURNReachable bool             `json:"turnReachable"`
	Candidates    []Candidate      `json:"candidates"`
	Errors        []CandidateError `json:"errors"`
}

func NewState() *State {
	return &State{
		ConnectionState:    ConnectionStateNew,
		ICEConnectionState: ICEConnectionStateNew,
		ICEGatheringState:  ICEGatheringStateNew,
		Candidates:         []Candidate{},
		Errors:             []CandidateError{},
	}
}

func (v *State) String() string {
	return fmt.Sprintf("pc=%v, ice=%v, gathering=%v, stun=%v, turn=%v, ip=%v, candidates=%v, errors=%v",
		v.ConnectionState, v.ICEConnectionState, v.ICEGatheringState, v.STUNReachable, v.TURNReachable,
		v.PublicIP, len(v.Candidates), len(v.Errors))
}

// Complete is true when gathering is done, so no more candidates and the flags are final.
func (v *State) Complete() bool {
	return v.ICEGatheringState == ICEGatheringStateComplete
}

func (v *State) STUN() Verdict {
	return v.verdict(v.STUNReachable)
}

func (v *State) TURN() Verdict {
	return v.verdict(v.TURNReachable)
}

func (v *State) verdict(reachable bool) Verdict {
	if reachable {
		return VerdictReachable
	}
	if v.Complete() {
		return VerdictUnreachable
	}
	return VerdictProcessing
}

func (v *State) Clone() *State {
	s := *v
	s.Candidates = append([]Candidate{}, v.Candidates...)
	s.Errors = append([]CandidateError{}, v.Errors...)
	return &s
}

func (v *State) addCandidate(c *Candidate) {
	v.Candidates = append(v.Candidates, *c)

	switch c.Type {
	case CandidateTypeServerReflexive:
		v.STUNReachable = true
		// The first srflx candidate wins.
		if v.PublicIP == "" {
			v.PublicIP = c.Address
		}
	case CandidateTypeRelay:
		v.TURNReachable = true
	}
}

func (v *State) addError(e *CandidateErrorEvent) {
	v.Errors = append(v.Errors, newCandidateError(e))
}

// Returns false if the state goes back, which is ignored.
func (v *State) setGatheringState(s ICEGatheringState) bool {
	if s.rank() < v.ICEGatheringState.rank() {
		return false
	}
	v.ICEGatheringState = s
	return true
}
