// Package main is the entry point of the 'radstore' cluster administration utility.
/*
 * Copyright (c) 2025-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/NVIDIA/radstore/cmd/radstore/cli"
	"github.com/NVIDIA/radstore/mon"
)

var (
	build     string
	buildtime string
)

func dispatchInterruptHandler() {
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt)
	go func() {
		<-stopCh
		os.Exit(0)
	}()
}

func main() {
	dispatchInterruptHandler()

	if err := cli.Init(os.Args); err != nil {
		exitf("%v", err)
	}

	if err := cli.Run(mon.Version+"."+build, buildtime, os.Args); err != nil {
		exitf("%v", err)
	}
}

func exitf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}
