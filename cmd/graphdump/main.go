// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// graphdump prints the structure of a graphpack stream: header counts,
// type table, schema rows and instance creations. It needs no type
// registrations, so it works on streams from any program.
//
// Usage:
//
//	graphdump [--envelope] [file]
//
// With no file argument the stream is read from stdin. --envelope
// strips a compression envelope (none/lz4/zstd) before inspection.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/graphpack/graphpack"
)

func main() {
	envelope := pflag.Bool("envelope", false, "input is wrapped in a compression envelope")
	objects := pflag.BoolP("objects", "o", true, "print instance creations")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: graphdump [--envelope] [file]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if err := run(pflag.Args(), *envelope, *objects); err != nil {
		fmt.Fprintf(os.Stderr, "graphdump: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, envelope, objects bool) error {
	var data []byte
	var err error
	switch len(args) {
	case 0:
		data, err = io.ReadAll(os.Stdin)
	case 1:
		data, err = os.ReadFile(args[0])
	default:
		return fmt.Errorf("at most one input file expected")
	}
	if err != nil {
		return err
	}

	if envelope {
		data, err = graphpack.DecodeEnvelope(data)
		if err != nil {
			return err
		}
	}

	info, err := graphpack.Inspect(data)
	if err != nil {
		return err
	}
	dump(os.Stdout, info, objects)
	return nil
}

func dump(w io.Writer, info *graphpack.StreamInfo, objects bool) {
	fmt.Fprintf(w, "types: %d (%d with instances)  objects: %d  string type: %d  body at: %d\n",
		info.TypesCount, info.TypeCountForObjects, info.ObjectsCount-1, info.StringTypeID, info.BodyOffset)

	fmt.Fprintln(w, "\ntype table:")
	for i, t := range info.Types {
		region := ""
		if i >= info.TypeCountForObjects {
			region = "  (schema only)"
		}
		if t.Special {
			fmt.Fprintf(w, "  %4d  %s%s\n", i, t.Name, region)
			continue
		}
		fmt.Fprintf(w, "  %4d  %s  %d fields%s\n", i, t.Name, len(t.Fields), region)
		for _, f := range t.Fields {
			fmt.Fprintf(w, "          %-20s type %d (%s)\n", f.Name, f.TypeID, info.Types[f.TypeID].Name)
		}
	}

	if !objects || info.ObjectsCount <= 1 {
		return
	}
	fmt.Fprintln(w, "\nobjects:")
	for i, obj := range info.Objects {
		id := i + 1
		name := info.Types[obj.TypeID].Name
		switch {
		case obj.IsString:
			fmt.Fprintf(w, "  %4d  %s  %q\n", id, name, obj.StringValue)
		case obj.IsSlice:
			fmt.Fprintf(w, "  %4d  %s  len %d\n", id, name, obj.Length)
		default:
			fmt.Fprintf(w, "  %4d  %s\n", id, name)
		}
	}
}
