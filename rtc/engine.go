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

// Package rtc implements the probe engine by pion/webrtc, and reports the
// candidate errors which pion never emits, by checking the servers itself.
package rtc

import (
	"context"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/pion/ice/v2"
	"github.com/pion/interceptor"
	"github.com/pion/transport/v2"
	"github.com/pion/transport/v2/stdnet"
	"github.com/pion/webrtc/v3"

	"github.com/usama-liaqat/ice-server-test/probe"
)

type EngineOptionFunc func(v *Engine)

// WithNet sets the network, for example, the vnet for test.
func WithNet(n transport.Net) EngineOptionFunc {
	return func(v *Engine) {
		v.net = n
	}
}

func WithNetworkTypes(types ...webrtc.NetworkType) EngineOptionFunc {
	return func(v *Engine) {
		v.networkTypes = types
	}
}

// WithVerbose enables the trace and debug logs of pion.
func WithVerbose(verbose bool) EngineOptionFunc {
	return func(v *Engine) {
		v.verbose = verbose
	}
}

// WithCheckTimeout sets the timeout to check each server.
func WithCheckTimeout(timeout time.Duration) EngineOptionFunc {
	return func(v *Engine) {
		v.checkTimeout = timeout
	}
}

// Engine creates a PeerConnection for each probe session.
type Engine struct {
	net          transport.Net
	networkTypes []webrtc.NetworkType
	verbose      bool
	checkTimeout time.Duration
}

func NewEngine(options ...EngineOptionFunc) (*Engine, error) {
	v := &Engine{
		networkTypes: []webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6},
		checkTimeout: defaultCheckTimeout,
	}

	for _, opt := range options {
		opt(v)
	}

	if v.net == nil {
		n, err := stdnet.NewNet()
		if err != nil {
			return nil, errors.Wrapf(err, "create net")
		}
		v.net = n
	}

	return v, nil
}

// Each session has its own api, so the logs of pion go to the context of session.
func (v *Engine) newAPI(ctx context.Context) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrapf(err, "register codecs")
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, errors.Wrapf(err, "register interceptors")
	}

	s := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(ctx, v.verbose),
	}

	// Disable the mDNS to suppress the error:
	//		Failed to enable mDNS, continuing in mDNS disabled mode
	s.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	s.SetNetworkTypes(v.networkTypes)
	s.SetNet(v.net)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	), nil
}

func (v *Engine) NewSession(ctx context.Context, d probe.ServerDescriptor) (probe.Session, error) {
	api, err := v.newAPI(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "create api")
	}

	server := webrtc.ICEServer{URLs: d.URLs}
	if d.Username != "" || d.Credential != "" {
		server.Username = d.Username
		server.Credential = d.Credential
		server.CredentialType = webrtc.ICECredentialTypePassword
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{server},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create pc for %v", d)
	}
	logger.If(ctx, "Create pc for %v", d)

	checker := &ServerChecker{Net: v.net, Timeout: v.checkTimeout}
	return newSession(ctx, pc, d, checker), nil
}
