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
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ossrs/go-oryx-lib/logger"

	"github.com/usama-liaqat/ice-server-test/rtc"
	"github.com/usama-liaqat/ice-server-test/tester"
)

// The repeatable flag, each value is one server.
type urlsFlag []string

func (v *urlsFlag) String() string {
	return strings.Join(*v, " ")
}

func (v *urlsFlag) Set(value string) error {
	*v = append(*v, value)
	return nil
}

func main() {
	var urls urlsFlag
	flag.Var(&urls, "url", "")

	var username, credential string
	flag.StringVar(&username, "user", "", "")
	flag.StringVar(&credential, "pass", "", "")

	var timeout int
	flag.IntVar(&timeout, "timeout", 15000, "")

	var statListen string
	flag.StringVar(&statListen, "stat", "", "")

	var verbose bool
	flag.BoolVar(&verbose, "verbose", false, "")

	flag.Usage = func() {
		fmt.Println(fmt.Sprintf("Usage: %v [Options]", os.Args[0]))
		fmt.Println(fmt.Sprintf("Options:"))
		fmt.Println(fmt.Sprintf("   -url      The ICE server to test, repeat for more servers. Comma separated urls are the same server."))
		fmt.Println(fmt.Sprintf("   -user     [Optional] The username of TURN server."))
		fmt.Println(fmt.Sprintf("   -pass     [Optional] The credential of TURN server."))
		fmt.Println(fmt.Sprintf("   -timeout  [Optional] The timeout in ms to wait for gathering complete. Default: 15000"))
		fmt.Println(fmt.Sprintf("   -stat     [Optional] The stat server API listen port."))
		fmt.Println(fmt.Sprintf("   -verbose  [Optional] Whether show the debug logs of pion. Default: false"))
		fmt.Println(fmt.Sprintf("For example, test a STUN server:"))
		fmt.Println(fmt.Sprintf("   %v -url stun:stun.l.google.com:19302", os.Args[0]))
		fmt.Println(fmt.Sprintf("For example, test a TURN server with credential:"))
		fmt.Println(fmt.Sprintf("   %v -url turn:turn.example.com:3478 -user user -pass pass", os.Args[0]))
		fmt.Println(fmt.Sprintf("For example, test two servers, with stat API:"))
		fmt.Println(fmt.Sprintf("   %v -url stun:stun.l.google.com:19302 -url stun:stun1.l.google.com:19302 -stat 8080", os.Args[0]))
		fmt.Println()
	}
	flag.Parse()

	if len(urls) == 0 || timeout <= 0 {
		flag.Usage()
		os.Exit(-1)
	}

	if statListen != "" && !strings.Contains(statListen, ":") {
		statListen = ":" + statListen
	}

	ctx := context.Background()
	logger.Tf(ctx, "Start ICE server test with urls=%v, user=%v, timeout=%vms, stat=%v, verbose=%v",
		urls.String(), username, timeout, statListen, verbose)

	servers, err := tester.ParseServers(urls, username, credential)
	if err != nil {
		logger.Ef(ctx, "Parse servers err %+v", err)
		os.Exit(-1)
	}

	engine, err := rtc.NewEngine(rtc.WithVerbose(verbose))
	if err != nil {
		logger.Ef(ctx, "Create engine err %+v", err)
		os.Exit(-1)
	}

	ctx, cancel := context.WithCancel(ctx)

	// Process all signals.
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
		for sig := range sigs {
			logger.Wf(ctx, "Quit for signal %v", sig)
			cancel()
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	// Start STAT API server.
	wg.Add(1)
	go func() {
		defer wg.Done()

		if statListen == "" {
			return
		}

		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", statListen)
		if err != nil {
			logger.Ef(ctx, "stat listen err+%v", err)
			cancel()
			return
		}

		mux := http.NewServeMux()
		tester.HandleStat(ctx, mux, statListen)

		srv := &http.Server{
			Handler: mux,
			BaseContext: func(listener net.Listener) context.Context {
				return ctx
			},
		}

		go func() {
			<-ctx.Done()
			srv.Shutdown(context.Background())
		}()

		logger.Tf(ctx, "Stat listen at %v", statListen)
		if err := srv.Serve(ln); err != nil {
			if ctx.Err() == nil {
				logger.Ef(ctx, "stat serve err+%v", err)
				cancel()
			}
			return
		}
	}()

	results := tester.Run(ctx, engine, servers, time.Duration(timeout)*time.Millisecond)
	cancel()

	for _, r := range results {
		fmt.Println()
		if r.Err != nil {
			fmt.Println(fmt.Sprintf("%v\nError: %v", strings.Join(r.Server.URLs, ","), r.Err))
			continue
		}

		if err := tester.Render(os.Stdout, r.Server, r.State); err != nil {
			logger.Wf(ctx, "render %v err %+v", r.Server, err)
		}
	}
}
