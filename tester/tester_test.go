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
package tester

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"

	"github.com/usama-liaqat/ice-server-test/probe"
)

var testerLog = flag.Bool("ice-log", false, "Whether enable the detail log")

func TestMain(m *testing.M) {
	flag.Parse()

	if *testerLog == false {
		olw := logger.Switch(ioutil.Discard)
		defer func() {
			logger.Switch(olw)
		}()
	}

	os.Exit(m.Run())
}

// The session which plays the events by the url of server:
//		stun:ok for a srflx, turn:ok for a relay, stun:hang for nothing,
//		stun:fail for a 701 error.
type scriptSession struct {
	d probe.ServerDescriptor

	lock     sync.Mutex
	handlers map[probe.EventKind][]probe.Handler
	closed   chan struct{}
	wg       sync.WaitGroup
}

func (v *scriptSession) CreateDataChannel(label string) error {
	return nil
}

func (v *scriptSession) CreateOffer() (*probe.Description, error) {
	return &probe.Description{Type: "offer", SDP: "v=0"}, nil
}

func (v *scriptSession) SetLocalDescription(d *probe.Description) error {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()

		v.emit(probe.NewICEGatheringStateEvent(probe.ICEGatheringStateGathering))
		v.emit(probe.NewCandidateEvent(&probe.Candidate{
			Foundation: "1", Component: 1, Protocol: "udp", Priority: 2130706431,
			Address: "192.168.1.10", Port: 50000, Type: probe.CandidateTypeHost,
		}))

		for _, u := range v.d.URLs {
			switch u {
			case "stun:hang":
				return
			case "stun:fail":
				v.emit(probe.NewCandidateErrorEvent(&probe.CandidateErrorEvent{
					URL: u, ErrorCode: 701, ErrorText: "STUN binding request timed out.",
				}))
			case "stun:ok":
				v.emit(probe.NewCandidateEvent(&probe.Candidate{
					Foundation: "2", Component: 1, Protocol: "udp", Priority: 1694498815,
					Address: "203.0.113.7", Port: 40000, Type: probe.CandidateTypeServerReflexive,
					RelatedAddress: "192.168.1.10", RelatedPort: 50000,
				}))
			case "turn:ok":
				v.emit(probe.NewCandidateEvent(&probe.Candidate{
					Foundation: "3", Component: 1, Protocol: "udp", Priority: 16777215,
					Address: "198.51.100.1", Port: 60000, Type: probe.CandidateTypeRelay,
					RelatedAddress: "203.0.113.7", RelatedPort: 40000,
				}))
			}
		}

		v.emit(probe.NewICEGatheringStateEvent(probe.ICEGatheringStateComplete))
	}()
	return nil
}

func (v *scriptSession) Subscribe(kind probe.EventKind, h probe.Handler) func() {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.handlers[kind] = append(v.handlers[kind], h)
	return func() {}
}

func (v *scriptSession) Close() error {
	close(v.closed)
	v.wg.Wait()
	return nil
}

func (v *scriptSession) emit(e *probe.Event) {
	select {
	case <-v.closed:
		return
	default:
	}

	v.lock.Lock()
	handlers := append([]probe.Handler{}, v.handlers[e.Kind]...)
	v.lock.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

type scriptEngine struct{}

func (v *scriptEngine) NewSession(ctx context.Context, d probe.ServerDescriptor) (probe.Session, error) {
	for _, u := range d.URLs {
		if u == "turn:nocredential" {
			return nil, errors.New("no turn credentials")
		}
	}

	return &scriptSession{
		d:        d,
		handlers: make(map[probe.EventKind][]probe.Handler),
		closed:   make(chan struct{}),
	}, nil
}

func TestParseServers(t *testing.T) {
	servers, err := ParseServers([]string{
		"stun:stun.l.google.com:19302",
		"turn:turn.example.com:3478, turn:turn.example.com:3478?transport=tcp",
	}, "user", "pass")
	if err != nil {
		t.Fatalf("parse err %+v", err)
	}

	if len(servers) != 2 {
		t.Fatalf("invalid servers %v", servers)
	}
	if len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("invalid server %v", servers[0])
	}
	if len(servers[1].URLs) != 2 || servers[1].URLs[1] != "turn:turn.example.com:3478?transport=tcp" {
		t.Errorf("invalid server %v", servers[1])
	}
	if servers[1].Username != "user" || servers[1].Credential != "pass" {
		t.Errorf("invalid credential %v", servers[1])
	}

	if _, err := ParseServers(nil, "", ""); err == nil {
		t.Errorf("should fail for no server")
	}
	if _, err := ParseServers([]string{" , "}, "", ""); err == nil {
		t.Errorf("should fail for empty url")
	}
	if _, err := ParseServers([]string{"http://example.com"}, "", ""); err == nil {
		t.Errorf("should fail for invalid scheme")
	}
}

func TestRun(t *testing.T) {
	ctx := logger.WithContext(context.Background())

	servers := []probe.ServerDescriptor{
		{URLs: []string{"stun:ok"}},
		{URLs: []string{"turn:ok", "stun:ok"}, Username: "user", Credential: "pass"},
		{URLs: []string{"stun:fail"}},
		{URLs: []string{"turn:nocredential"}},
	}

	starttime := time.Now()
	results := Run(ctx, &scriptEngine{}, servers, 10*time.Second)
	if cost := time.Since(starttime); cost > 5*time.Second {
		t.Errorf("should not wait for timeout, cost %v", cost)
	}

	if len(results) != len(servers) {
		t.Fatalf("invalid results %v", results)
	}

	if r := results[0]; !r.State.STUNReachable || r.State.TURNReachable || r.State.PublicIP != "203.0.113.7" || !r.State.Complete() {
		t.Errorf("invalid state %v", r.State)
	}
	if r := results[1]; !r.State.STUNReachable || !r.State.TURNReachable || r.Server.Username != "user" {
		t.Errorf("invalid result %v %v", r.Server, r.State)
	}
	if r := results[2]; r.State.STUN() != probe.VerdictUnreachable || len(r.State.Errors) != 1 {
		t.Errorf("invalid state %v", r.State)
	}
	if r := results[3]; r.Err == nil || r.State.Complete() {
		t.Errorf("should fail, %v %v", r.Err, r.State)
	}

	if servers := StatProbes.Servers(); len(servers) != 0 {
		t.Errorf("should remove all probes, %v", servers)
	}
}

func TestRun_Timeout(t *testing.T) {
	ctx := logger.WithContext(context.Background())

	results := Run(ctx, &scriptEngine{}, []probe.ServerDescriptor{{URLs: []string{"stun:hang"}}}, 300*time.Millisecond)
	if len(results) != 1 {
		t.Fatalf("invalid results %v", results)
	}

	r := results[0]
	if r.Err != nil || r.State.Complete() || r.State.STUN() != probe.VerdictProcessing {
		t.Errorf("invalid result %v %v", r.Err, r.State)
	}
	if len(r.State.Candidates) != 1 {
		t.Errorf("invalid candidates %v", r.State.Candidates)
	}
}

func TestRender(t *testing.T) {
	s := probe.NewState()
	s.ICEGatheringState = probe.ICEGatheringStateGathering

	var b bytes.Buffer
	if err := Render(&b, probe.ServerDescriptor{URLs: []string{"stun:ok"}}, s); err != nil {
		t.Fatalf("render err %+v", err)
	}

	out := b.String()
	for _, expect := range []string{
		"stun:ok", "Username: N/A", "Credential: N/A", "TURN: Processing", "STUN: Processing",
		"Success Candidate Information", "No ICE candidate errors.",
	} {
		if !strings.Contains(out, expect) {
			t.Errorf("no %v in %v", expect, out)
		}
	}
	if strings.Contains(out, "PUBLIC IP") {
		t.Errorf("should no public ip in %v", out)
	}

	s.ICEGatheringState = probe.ICEGatheringStateComplete
	s.STUNReachable = true
	s.PublicIP = "203.0.113.7"
	s.Candidates = append(s.Candidates, probe.Candidate{
		Foundation: "2", Component: 1, Protocol: "udp", Priority: 1694498815,
		Address: "203.0.113.7", Port: 40000, Type: probe.CandidateTypeServerReflexive,
	})
	s.Errors = append(s.Errors, probe.CandidateError{
		URL: "turn:ok", Port: 50000, ErrorCode: 401, ErrorText: "N/A", StatusCode: "Unauthorized",
	})

	b.Reset()
	if err := Render(&b, probe.ServerDescriptor{URLs: []string{"turn:ok", "stun:ok"}, Username: "user", Credential: "pass"}, s); err != nil {
		t.Fatalf("render err %+v", err)
	}

	out = b.String()
	for _, expect := range []string{
		"turn:ok,stun:ok", "Username: user", "Credential: pass",
		"TURN: ❌ Not Reachable", "STUN: ✅ The STUN server is reachable!",
		"PUBLIC IP: ✅ Your Public IP Address is 203.0.113.7",
		"srflx", "ICE Candidate Errors", "Unauthorized", "50000",
	} {
		if !strings.Contains(out, expect) {
			t.Errorf("no %v in %v", expect, out)
		}
	}
	if strings.Contains(out, "No ICE candidate errors.") {
		t.Errorf("should have errors in %v", out)
	}
}

func TestHandleStat(t *testing.T) {
	ctx := logger.WithContext(context.Background())

	p := probe.NewProbe(ctx, &scriptEngine{})
	defer p.Stop()

	StatProbes.Add(p)
	defer StatProbes.Remove(p)

	p.Start(probe.ServerDescriptor{URLs: []string{"stun:hang"}, Username: "user", Credential: "pass"})

	mux := http.NewServeMux()
	HandleStat(ctx, mux, ":8080")

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ice/servers", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("invalid code %v", w.Code)
	}

	res := &struct {
		Code int `json:"code"`
		Data []struct {
			Server probe.ServerDescriptor `json:"server"`
			State  probe.State            `json:"state"`
		} `json:"data"`
	}{}
	if err := json.Unmarshal(w.Body.Bytes(), res); err != nil {
		t.Fatalf("unmarshal %v err %+v", w.Body.String(), err)
	}

	if res.Code != 0 || len(res.Data) != 1 {
		t.Fatalf("invalid res %v", w.Body.String())
	}
	if d := res.Data[0].Server; len(d.URLs) != 1 || d.URLs[0] != "stun:hang" || d.Username != "user" || d.Credential != "" {
		t.Errorf("invalid server %v", d)
	}
	if s := res.Data[0].State; s.STUNReachable || s.Complete() {
		t.Errorf("invalid state %v", s)
	}
}
