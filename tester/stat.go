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
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/ossrs/go-oryx-lib/logger"

	"github.com/usama-liaqat/ice-server-test/probe"
)

// The registry of running probes, for the stat api.
type statProbes struct {
	lock   sync.Mutex
	probes map[*probe.Probe]struct{}
	order  []*probe.Probe
}

type statServer struct {
	Server probe.ServerDescriptor `json:"server"`
	State  *probe.State           `json:"state"`
}

var StatProbes = &statProbes{probes: make(map[*probe.Probe]struct{})}

func (v *statProbes) Add(p *probe.Probe) {
	v.lock.Lock()
	defer v.lock.Unlock()

	if _, ok := v.probes[p]; ok {
		return
	}
	v.probes[p] = struct{}{}
	v.order = append(v.order, p)
}

func (v *statProbes) Remove(p *probe.Probe) {
	v.lock.Lock()
	defer v.lock.Unlock()

	if _, ok := v.probes[p]; !ok {
		return
	}
	delete(v.probes, p)

	for i, o := range v.order {
		if o == p {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}

// Servers returns the descriptor and a copy of state, for each probe in order of Add.
func (v *statProbes) Servers() []*statServer {
	v.lock.Lock()
	probes := append([]*probe.Probe{}, v.order...)
	v.lock.Unlock()

	servers := make([]*statServer, 0, len(probes))
	for _, p := range probes {
		d := p.Descriptor()
		// Never expose the password.
		d.Credential = ""
		servers = append(servers, &statServer{Server: d, State: p.State()})
	}
	return servers
}

// HandleStat serves the state of probes at /api/v1/ice/servers.
func HandleStat(ctx context.Context, mux *http.ServeMux, l string) {
	if strings.HasPrefix(l, ":") {
		l = "127.0.0.1" + l
	}

	logger.Tf(ctx, "Handle http://%v/api/v1/ice/servers", l)
	mux.HandleFunc("/api/v1/ice/servers", func(w http.ResponseWriter, r *http.Request) {
		res := &struct {
			Code int         `json:"code"`
			Data interface{} `json:"data"`
		}{
			0, StatProbes.Servers(),
		}

		b, err := json.Marshal(res)
		if err != nil {
			logger.Wf(ctx, "marshal %v err %+v", res, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	})
}
