// Binary containerd-shim-bf-v1 is a containerd runtime v2 shim which runs
// brainfuck programs as containers.
//
// Invoked with the "interpret" argument it skips the shim machinery and runs
// the named source file directly. The shim's Create re-execs this binary in
// that mode as the container init process, so one binary serves as both the
// runtime and the interpreter.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/containerd/containerd/v2/pkg/shim"

	"github.com/digideskio/bf/bf"
	bfshim "github.com/digideskio/bf/shim"
)

const runtimeName = "io.containerd.bf.v1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if args, ok := interpretArgs(os.Args[1:]); ok {
		if err := interpret(ctx, args); err != nil {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", filepath.Base(os.Args[0]), err)
			os.Exit(1)
		}
		return
	}

	shim.Run(ctx, bfshim.NewManager(runtimeName))
}

// interpretArgs reports whether the process was asked to run as a plain
// interpreter, returning the arguments with the marker removed.
func interpretArgs(args []string) ([]string, bool) {
	for i, arg := range args {
		if arg == "interpret" {
			return append(args[:i:i], args[i+1:]...), true
		}
	}
	return args, false
}

func interpret(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one source file, got %d arguments", len(args))
	}

	source, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	return bf.RunContext(ctx, source, bufio.NewReader(os.Stdin), os.Stdout)
}
