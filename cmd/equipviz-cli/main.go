package main

import (
	"context"
	"fmt"
	"os"

	"equipviz/internal/cli"
	"equipviz/internal/log"
)

func main() {
	cli.LoadEnvFile()

	logger := log.New(log.Config{Level: log.ParseLevel("warn"), Component: log.ComponentCLI, Output: os.Stderr})
	ctx, stop := cli.SignalContext(context.Background(), logger)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
