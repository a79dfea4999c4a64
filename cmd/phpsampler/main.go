// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command phpsampler attaches to a running PHP interpreter process and
// prints its current call stack, innermost frame first.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"phpsampler/internal/layout"
	"phpsampler/internal/ptrace"
	"phpsampler/internal/remote"
	"phpsampler/internal/walker"
)

var (
	dwarfPath      string
	descriptorPath string
	writeDescPath  string
)

func main() {
	root := &cobra.Command{
		Use:           "phpsampler [-d DWARF_PATH | -c DESCRIPTOR_PATH] [-w OUTPUT_DESCRIPTOR_PATH] PID",
		Short:         "Sample the call stack of a running PHP interpreter process",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVarP(&dwarfPath, "dwarf", "d", "", "path to a DWARF-bearing ELF file describing the target's types")
	root.Flags().StringVarP(&descriptorPath, "descriptor", "c", "", "path to a previously persisted layout descriptor")
	root.Flags().StringVarP(&writeDescPath, "write-descriptor", "w", "", "persist the layout descriptor built from -d to this path")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("usage error")

func run(cmd *cobra.Command, args []string) error {
	if dwarfPath == "" && descriptorPath == "" {
		return fmt.Errorf("%w: exactly one of -d or -c is required", errUsage)
	}
	if dwarfPath != "" && descriptorPath != "" {
		return fmt.Errorf("%w: -d and -c are mutually exclusive", errUsage)
	}
	if writeDescPath != "" {
		if descriptorPath != "" {
			return fmt.Errorf("%w: -w conflicts with -c", errUsage)
		}
		if dwarfPath == "" {
			return fmt.Errorf("%w: -w requires -d", errUsage)
		}
	}

	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%w: PID must be numeric: %v", errUsage, err)
	}

	desc, err := loadDescriptor()
	if err != nil {
		return err
	}

	addr, err := remote.ResolveExecutorGlobals(pid)
	if err != nil {
		return err
	}
	desc.ExecutorGlobalsAddress = uint64(addr)

	trace, err := sampleOnce(pid, desc)
	if err != nil {
		return err
	}

	for _, f := range trace {
		fmt.Println(f.String())
	}
	return nil
}

func loadDescriptor() (*layout.Descriptor, error) {
	if descriptorPath != "" {
		f, err := os.Open(descriptorPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return layout.Load(f)
	}

	lookup, err := layout.Extract(dwarfPath)
	if err != nil {
		return nil, err
	}
	desc, err := layout.FromDWARF(lookup)
	if err != nil {
		return nil, err
	}

	if writeDescPath != "" {
		f, err := os.Create(writeDescPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := desc.Save(f); err != nil {
			return nil, err
		}
	}
	return desc, nil
}

// sampleOnce attaches to pid, takes exactly one sample, and guarantees
// detach runs even if the sample fails.
func sampleOnce(pid int, desc *layout.Descriptor) (walker.StackTrace, error) {
	session, err := ptrace.Attach(pid)
	if err != nil {
		return nil, err
	}
	defer session.Detach()

	mem, err := remote.NewProcessReader(pid)
	if err != nil {
		return nil, err
	}
	defer mem.Close()

	return walker.Sample(mem, desc)
}
