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

// Package tester runs the probes for a list of ICE servers, and reports
// whether each STUN or TURN server is reachable.
package tester

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"

	"github.com/usama-liaqat/ice-server-test/probe"
)

// ParseServers converts the urls to descriptors, one for each url, while the
// comma separated urls are the same server.
func ParseServers(urls []string, username, credential string) ([]probe.ServerDescriptor, error) {
	var servers []probe.ServerDescriptor
	for _, u := range urls {
		d := probe.ServerDescriptor{Username: username, Credential: credential}
		for _, s := range strings.Split(u, ",") {
			if s = strings.TrimSpace(s); s != "" {
				d.URLs = append(d.URLs, s)
			}
		}

		if err := d.Validate(); err != nil {
			return nil, errors.Wrapf(err, "invalid server %v", u)
		}
		servers = append(servers, d)
	}

	if len(servers) == 0 {
		return nil, errors.New("no server")
	}
	return servers, nil
}

// Result is the final state of a probe.
type Result struct {
	Server probe.ServerDescriptor
	State  *probe.State
	// The setup error, nil if ok.
	Err error
}

// Run probes all servers in parallel, until gathering complete or timeout.
// The results are in the order of servers.
func Run(ctx context.Context, engine probe.Engine, servers []probe.ServerDescriptor, timeout time.Duration) []*Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]*Result, len(servers))

	var wg sync.WaitGroup
	defer wg.Wait()

	for i, d := range servers {
		wg.Add(1)
		go func(i int, d probe.ServerDescriptor) {
			defer wg.Done()
			results[i] = runProbe(ctx, engine, d)
		}(i, d)
	}

	return results
}

func runProbe(ctx context.Context, engine probe.Engine, d probe.ServerDescriptor) *Result {
	p := probe.NewProbe(ctx, engine)

	StatProbes.Add(p)
	defer StatProbes.Remove(p)

	// Done when gathering complete or setup failed.
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := p.Subscribe(func(s *probe.State) {
		if s.Complete() || p.Err() != nil {
			once.Do(func() {
				close(done)
			})
		}
	})
	defer unsubscribe()

	p.Start(d)

	select {
	case <-ctx.Done():
		logger.Wf(ctx, "Probe %v quit, %v", d, ctx.Err())
	case <-done:
	}

	p.Stop()

	r := &Result{Server: d, State: p.State(), Err: p.Err()}
	logger.Tf(ctx, "Probe %v done, state %v, err %v", d, r.State, r.Err)
	return r
}
