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
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/usama-liaqat/ice-server-test/probe"
)

func orNA(v interface{}) string {
	s := fmt.Sprintf("%v", v)
	if s == "" || s == "0" {
		return "N/A"
	}
	return s
}

func verdictOf(name string, v probe.Verdict) string {
	switch v {
	case probe.VerdictReachable:
		return fmt.Sprintf("✅ The %v server is reachable!", name)
	case probe.VerdictUnreachable:
		return "❌ Not Reachable"
	default:
		return "Processing"
	}
}

// Render writes the report of state for server d.
func Render(w io.Writer, d probe.ServerDescriptor, s *probe.State) error {
	var b strings.Builder

	fmt.Fprintf(&b, "%v\n", strings.Join(d.URLs, ","))
	fmt.Fprintf(&b, "Username: %v\n", orNA(d.Username))
	fmt.Fprintf(&b, "Credential: %v\n", orNA(d.Credential))
	fmt.Fprintf(&b, "TURN: %v\n", verdictOf("TURN", s.TURN()))
	fmt.Fprintf(&b, "STUN: %v\n", verdictOf("STUN", s.STUN()))
	if s.PublicIP != "" {
		fmt.Fprintf(&b, "PUBLIC IP: ✅ Your Public IP Address is %v\n", s.PublicIP)
	}

	fmt.Fprintf(&b, "\nSuccess Candidate Information\n")
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Foundation\tComponent ID\tProtocol\tPriority\tIP\tPort\tCandidate Type\tRelated Address\tRelated Port\n")
	for _, c := range s.Candidates {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\n",
			c.Foundation, c.Component, c.Protocol, c.Priority, c.Address, c.Port, c.Type,
			orNA(c.RelatedAddress), orNA(c.RelatedPort),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(&b, "\nICE Candidate Errors\n")
	if len(s.Errors) == 0 {
		fmt.Fprintf(&b, "No ICE candidate errors.\n")
	} else {
		tw = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "URL\tAddress\tPort\tError Code\tError Text\tStatus\n")
		for _, e := range s.Errors {
			fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\n",
				e.URL, orNA(e.Address), orNA(e.Port), e.ErrorCode, e.ErrorText, e.StatusCode,
			)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
