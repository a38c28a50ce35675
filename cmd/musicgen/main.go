package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/example/go-musicgen/internal/onnx"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := NewRootCmd().ExecuteContext(ctx)

	stop()

	if shutdownErr := onnx.Shutdown(); err == nil {
		err = shutdownErr
	}

	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "musicgen:", err)
		os.Exit(1)
	}
}
