// Copyright 2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// minipb-dump disassembles raw Protobuf wire-format bytes into Protoscope
// text, independent of any message's descriptor. It is meant for inspecting
// arbitrary wire bytes -- captured off the network, extracted from a field
// minipb left as unrecognized, or pulled out of a core dump -- the same job
// the teacher's own disassembly tool does, reusing the same underlying
// library rather than minipb's own decoder (which requires a compiled
// [minipb.Type] and has nothing to say about bytes it cannot attribute to a
// field).
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/protocolbuffers/protoscope"
)

var (
	allMessages = flag.Bool("all-messages", false, "treat every length-delimited field as an embedded message")
	noQuote     = flag.Bool("no-quoted-strings", false, "never render length-delimited fields as quoted strings")
	noGroups    = flag.Bool("no-groups", false, "never render start/end group pairs as `!{...}`")
	explicitWT  = flag.Bool("explicit-wire-types", false, "always annotate fields with their wire type")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] [file...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Disassembles raw Protobuf wire-format bytes into Protoscope text.\n")
		fmt.Fprintf(os.Stderr, "With no files, or \"-\", reads from stdin.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"-"}
	}

	opts := protoscope.WriterOptions{
		AllFieldsAreMessages: *allMessages,
		NoQuotedStrings:      *noQuote,
		NoGroups:             *noGroups,
		ExplicitWireTypes:    *explicitWT,
	}

	status := 0
	for _, arg := range args {
		if err := dump(arg, opts); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", arg, err)
			status = 1
		}
	}
	os.Exit(status)
}

func dump(arg string, opts protoscope.WriterOptions) error {
	data, err := readAll(arg)
	if err != nil {
		return err
	}

	out := protoscope.Write(data, opts)
	_, err = os.Stdout.Write(out)
	return err
}

func readAll(arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(arg)
}
