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
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/pion/stun"
	"github.com/pion/transport/v2"

	"github.com/usama-liaqat/ice-server-test/probe"
)

const (
	// CodeServerUnreachable is the code of browser, when no response from server.
	CodeServerUnreachable = 701

	defaultCheckTimeout = 5 * time.Second

	// The initial retransmission timeout, doubled for each retry.
	initialRTO = 500 * time.Millisecond

	// The codepoint of UDP, for REQUESTED-TRANSPORT.
	protoUDP = 17
)

var errTransactionTimeout = errors.New("transaction timeout")

// ServerChecker sends a STUN binding or TURN allocate request to a server, to
// find out the error, because pion does not report it.
type ServerChecker struct {
	Net transport.Net
	// The timeout for each check, including retransmission.
	Timeout time.Duration
}

// Check a server by url, return the candidate error, or nil if ok. Only UDP
// servers are checked, the others are ignored.
func (v *ServerChecker) Check(ctx context.Context, url, username, credential string) *probe.CandidateErrorEvent {
	uri, err := stun.ParseURI(url)
	if err != nil {
		logger.Wf(ctx, "ignore check %v, err %+v", url, err)
		return nil
	}

	if uri.Proto != stun.ProtoTypeUDP || (uri.Scheme != stun.SchemeTypeSTUN && uri.Scheme != stun.SchemeTypeTURN) {
		logger.If(ctx, "ignore check %v, scheme=%v, proto=%v", url, uri.Scheme, uri.Proto)
		return nil
	}

	newError := func(conn net.PacketConn, code int, text string) *probe.CandidateErrorEvent {
		e := &probe.CandidateErrorEvent{URL: url, ErrorCode: code, ErrorText: text}
		if conn == nil {
			return e
		}
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			if !addr.IP.IsUnspecified() {
				e.Address = addr.IP.String()
			}
			e.Port = addr.Port
		}
		return e
	}

	server, err := v.Net.ResolveUDPAddr("udp", net.JoinHostPort(uri.Host, fmt.Sprint(uri.Port)))
	if err != nil {
		logger.Wf(ctx, "resolve %v err %+v", uri.Host, err)
		return newError(nil, CodeServerUnreachable, "STUN host lookup received error.")
	}

	// Listen on the same family as the server.
	network, local := networkOf(server.IP)
	conn, err := v.Net.ListenPacket(network, local)
	if err != nil {
		logger.Wf(ctx, "ignore check %v, listen %v err %+v", url, network, err)
		return nil
	}
	defer conn.Close()

	// Interrupt the read when ctx is done.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	t := &transactor{conn: conn, server: server, timeout: timeout}

	if uri.Scheme == stun.SchemeTypeSTUN {
		res, err := t.Do(ctx, stun.MustBuild(stun.TransactionID, stun.BindingRequest, stun.Fingerprint))
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Wf(ctx, "binding %v err %+v", server, err)
			return newError(conn, CodeServerUnreachable, "STUN binding request timed out.")
		}
		if code, ok := errorOf(res); ok {
			return newError(conn, int(code.Code), string(code.Reason))
		}

		var addr stun.XORMappedAddress
		if err := addr.GetFrom(res); err == nil {
			logger.If(ctx, "binding %v ok, mapped %v", server, addr)
		}
		return nil
	}

	code, err := t.Allocate(ctx, username, credential)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		logger.Wf(ctx, "allocate %v err %+v", server, err)
		return newError(conn, CodeServerUnreachable, "TURN allocate request timed out.")
	}
	if code != nil {
		return newError(conn, int(code.Code), string(code.Reason))
	}

	logger.If(ctx, "allocate %v ok", server)
	return nil
}

// The network and local address to listen for server ip.
func networkOf(ip net.IP) (network, local string) {
	if ip.To4() != nil {
		return "udp4", "0.0.0.0:0"
	}
	return "udp6", "[::]:0"
}

// Get the error code from response, ok is false if not an error response.
func errorOf(res *stun.Message) (*stun.ErrorCodeAttribute, bool) {
	if res.Type.Class != stun.ClassErrorResponse {
		return nil, false
	}

	code := &stun.ErrorCodeAttribute{}
	if err := code.GetFrom(res); err != nil {
		code.Code = 0
		code.Reason = []byte(err.Error())
	}
	return code, true
}

// The STUN transaction over UDP, retransmit until timeout.
type transactor struct {
	conn    net.PacketConn
	server  net.Addr
	timeout time.Duration
}

func (v *transactor) Do(ctx context.Context, req *stun.Message) (*stun.Message, error) {
	deadline := time.Now().Add(v.timeout)
	buf := make([]byte, 1500)

	for rto := initialRTO; ctx.Err() == nil; rto *= 2 {
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, errTransactionTimeout
		}
		if rto < wait {
			wait = rto
		}

		if _, err := v.conn.WriteTo(req.Raw, v.server); err != nil {
			return nil, errors.Wrapf(err, "write to %v", v.server)
		}

		if err := v.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return nil, errors.Wrapf(err, "set deadline")
		}

		for {
			n, _, err := v.conn.ReadFrom(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					break
				}
				return nil, errors.Wrapf(err, "read from %v", v.server)
			}

			res := &stun.Message{Raw: append([]byte{}, buf[:n]...)}
			if err := res.Decode(); err != nil {
				continue
			}
			if res.TransactionID != req.TransactionID {
				continue
			}
			return res, nil
		}
	}

	return nil, ctx.Err()
}

// Allocate a relay, return the error code if server rejects it. The
// allocation is released when done.
func (v *transactor) Allocate(ctx context.Context, username, credential string) (*stun.ErrorCodeAttribute, error) {
	allocate := stun.NewType(stun.MethodAllocate, stun.ClassRequest)

	res, err := v.Do(ctx, stun.MustBuild(stun.TransactionID, allocate, requestedTransport(protoUDP), stun.Fingerprint))
	if err != nil {
		return nil, errors.Wrapf(err, "allocate")
	}

	code, ok := errorOf(res)
	if !ok {
		return nil, nil
	}

	// Anonymous, or not a challenge.
	if code.Code != stun.CodeUnauthorized || username == "" {
		return code, nil
	}

	var realm stun.Realm
	var nonce stun.Nonce
	if err := realm.GetFrom(res); err != nil {
		return code, nil
	}
	if err := nonce.GetFrom(res); err != nil {
		return code, nil
	}

	user := stun.NewUsername(username)
	integrity := stun.NewLongTermIntegrity(username, realm.String(), credential)

	req, err := stun.Build(stun.TransactionID, allocate, requestedTransport(protoUDP),
		user, realm, nonce, integrity, stun.Fingerprint,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "build allocate")
	}

	if res, err = v.Do(ctx, req); err != nil {
		return nil, errors.Wrapf(err, "allocate with %v", username)
	}

	if code, ok := errorOf(res); ok {
		return code, nil
	}

	// Release the allocation by lifetime 0, ignore any error.
	refresh := stun.NewType(stun.MethodRefresh, stun.ClassRequest)
	if req, err := stun.Build(stun.TransactionID, refresh, lifetime(0),
		user, realm, nonce, integrity, stun.Fingerprint,
	); err == nil {
		_, _ = v.conn.WriteTo(req.Raw, v.server)
	}

	return nil, nil
}

// The REQUESTED-TRANSPORT attribute of TURN.
type requestedTransport byte

func (v requestedTransport) AddTo(m *stun.Message) error {
	m.Add(stun.AttrRequestedTransport, []byte{byte(v), 0, 0, 0})
	return nil
}

// The LIFETIME attribute of TURN, in seconds.
type lifetime uint32

func (v lifetime) AddTo(m *stun.Message) error {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	m.Add(stun.AttrLifetime, b)
	return nil
}
