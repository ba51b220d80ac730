package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rigidsync/broker/tools/rigidctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rigidctl.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(rigidctl.ExitCode(err))
	}
}
