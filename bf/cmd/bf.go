// Command bf executes a brainfuck source file.
//
// Usage:
//
//	bf [flags] SOURCEFILE
//
// The program runs to completion (or failure) against stdin and stdout.
// Any failure prints a single diagnostic line to stderr and exits nonzero.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/digideskio/bf/bf"
)

// Source files are expected to be tiny. Refuse anything which clearly is not
// a program before reading it into memory.
const maxSourceSize = 16 << 20

var (
	timeout  time.Duration
	memLimit int
)

func init() {
	flag.DurationVar(&timeout, "timeout", 0, "abort execution after this long (0 means run forever)")
	flag.IntVar(&memLimit, "mem-limit", 0, "maximum number of tape cells (0 means unbounded)")
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] SOURCEFILE\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "bf: error: %v\n", err)
		os.Exit(1)
	}
}

func run(filename string) error {
	fi, err := os.Stat(filename)
	if err != nil {
		return err
	}
	if fi.Size() > maxSourceSize {
		return fmt.Errorf("source file too large: %d bytes", fi.Size())
	}

	source, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// The engine reads input one byte at a time; buffer stdin so ','
	// does not cost a syscall per byte. Output stays unbuffered, it has
	// to be observable immediately.
	stdin := bufio.NewReader(os.Stdin)
	engine := bf.NewEngine(bf.Program(source), bf.NewTape(memLimit), stdin, os.Stdout)
	return engine.RunContext(ctx)
}
