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
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/pion/stun"
	"github.com/pion/transport/v2/stdnet"
)

func newTestChecker(t *testing.T) (*ServerChecker, func()) {
	ctx := logger.WithContext(context.Background())

	nw, err := newTestNetwork(ctx)
	if err != nil {
		t.Fatalf("create network err %+v", err)
	}

	return &ServerChecker{Net: nw.client, Timeout: time.Second}, func() {
		_ = nw.Close()
	}
}

func TestServerChecker_Check(t *testing.T) {
	checker, cleanup := newTestChecker(t)
	defer cleanup()

	ctx := logger.WithContext(context.Background())
	stunURL := "stun:" + testServerIP + ":3478"
	turnURL := "turn:" + testServerIP + ":3478"

	if e := checker.Check(ctx, stunURL, "", ""); e != nil {
		t.Errorf("stun should ok, %v", e)
	}

	if e := checker.Check(ctx, turnURL, testUser, testPassword); e != nil {
		t.Errorf("turn should ok, %v", e)
	}

	// Allocate again, the previous allocation should be released.
	if e := checker.Check(ctx, turnURL, testUser, testPassword); e != nil {
		t.Errorf("turn should ok, %v", e)
	}

	if e := checker.Check(ctx, turnURL, testUser, "bad"); e == nil || e.ErrorCode != int(stun.CodeBadRequest) {
		t.Errorf("should be bad request, %v", e)
	}

	// No credential, so no retry for the challenge.
	if e := checker.Check(ctx, turnURL, "", ""); e == nil || e.ErrorCode != int(stun.CodeUnauthorized) {
		t.Errorf("should be unauthorized, %v", e)
	} else if e.URL != turnURL || e.Port == 0 {
		t.Errorf("invalid error %v", e)
	}
}

func TestServerChecker_Unreachable(t *testing.T) {
	checker, cleanup := newTestChecker(t)
	defer cleanup()

	ctx := logger.WithContext(context.Background())

	if e := checker.Check(ctx, "stun:"+testBlackholeIP+":3478", "", ""); e == nil {
		t.Errorf("should fail")
	} else if e.ErrorCode != CodeServerUnreachable || e.ErrorText != "STUN binding request timed out." {
		t.Errorf("invalid error %v", e)
	}

	if e := checker.Check(ctx, "turn:"+testBlackholeIP+":3478", testUser, testPassword); e == nil {
		t.Errorf("should fail")
	} else if e.ErrorCode != CodeServerUnreachable || e.ErrorText != "TURN allocate request timed out." {
		t.Errorf("invalid error %v", e)
	}

	if e := checker.Check(ctx, "stun:nonexistent.invalid:3478", "", ""); e == nil {
		t.Errorf("should fail")
	} else if e.ErrorCode != CodeServerUnreachable || e.ErrorText != "STUN host lookup received error." {
		t.Errorf("invalid error %v", e)
	}
}

func TestServerChecker_Ignore(t *testing.T) {
	checker, cleanup := newTestChecker(t)
	defer cleanup()

	ctx := logger.WithContext(context.Background())

	for _, url := range []string{
		"turn:" + testServerIP + ":3478?transport=tcp",
		"turns:" + testServerIP + ":5349",
		"stun:",
		"http://" + testServerIP,
	} {
		if e := checker.Check(ctx, url, testUser, testPassword); e != nil {
			t.Errorf("should ignore %v, %v", url, e)
		}
	}
}

func TestServerChecker_Cancel(t *testing.T) {
	checker, cleanup := newTestChecker(t)
	defer cleanup()
	checker.Timeout = 10 * time.Second

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	starttime := time.Now()
	if e := checker.Check(ctx, "stun:"+testBlackholeIP+":3478", "", ""); e != nil {
		t.Errorf("should no error when cancel, %v", e)
	}
	if cost := time.Since(starttime); cost > 5*time.Second {
		t.Errorf("should quit quickly, cost %v", cost)
	}
}

func TestServerChecker_NetworkOf(t *testing.T) {
	for _, c := range []struct {
		ip      string
		network string
		local   string
	}{
		{"1.2.3.4", "udp4", "0.0.0.0:0"},
		{"::ffff:1.2.3.4", "udp4", "0.0.0.0:0"},
		{"::1", "udp6", "[::]:0"},
		{"2001:db8::1", "udp6", "[::]:0"},
	} {
		if network, local := networkOf(net.ParseIP(c.ip)); network != c.network || local != c.local {
			t.Errorf("ip %v, expect %v %v, actual %v %v", c.ip, c.network, c.local, network, local)
		}
	}
}

// Serve binding requests at [::1] over the real network.
func serveBindingIPv6(t *testing.T) (net.PacketConn, func()) {
	conn, err := net.ListenPacket("udp6", "[::1]:0")
	if err != nil {
		t.Skipf("no ipv6, %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)

		b := make([]byte, 1500)
		for {
			n, addr, err := conn.ReadFrom(b)
			if err != nil {
				return
			}

			req := &stun.Message{Raw: append([]byte{}, b[:n]...)}
			if err := req.Decode(); err != nil || req.Type != stun.BindingRequest {
				continue
			}

			from := addr.(*net.UDPAddr)
			res, err := stun.Build(
				stun.NewTransactionIDSetter(req.TransactionID), stun.BindingSuccess,
				&stun.XORMappedAddress{IP: from.IP, Port: from.Port}, stun.Fingerprint,
			)
			if err != nil {
				return
			}
			_, _ = conn.WriteTo(res.Raw, addr)
		}
	}()

	return conn, func() {
		_ = conn.Close()
		<-done
	}
}

func TestServerChecker_IPv6(t *testing.T) {
	server, cleanup := serveBindingIPv6(t)
	defer cleanup()

	n, err := stdnet.NewNet()
	if err != nil {
		t.Fatalf("create net err %+v", err)
	}
	checker := &ServerChecker{Net: n, Timeout: 3 * time.Second}

	ctx := logger.WithContext(context.Background())

	port := server.LocalAddr().(*net.UDPAddr).Port
	if e := checker.Check(ctx, fmt.Sprintf("stun:[::1]:%v", port), "", ""); e != nil {
		t.Errorf("should ok, %v", e)
	}
}

func TestServerChecker_IPv6Unreachable(t *testing.T) {
	server, cleanup := serveBindingIPv6(t)
	port := server.LocalAddr().(*net.UDPAddr).Port
	// Nobody listens at the port.
	cleanup()

	n, err := stdnet.NewNet()
	if err != nil {
		t.Fatalf("create net err %+v", err)
	}
	checker := &ServerChecker{Net: n, Timeout: time.Second}

	ctx := logger.WithContext(context.Background())
	if e := checker.Check(ctx, fmt.Sprintf("stun:[::1]:%v", port), "", ""); e == nil {
		t.Errorf("should fail")
	} else if e.ErrorCode != CodeServerUnreachable || e.Port == 0 {
		t.Errorf("invalid error %v", e)
	}
}
