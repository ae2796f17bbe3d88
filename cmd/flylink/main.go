// Command flylink is a terminal client for the URL shortener API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/patric-chuzhbe/flylink/internal/app"
)

// exit is replaced in tests.
var exit = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	theApp, err := app.New()
	if err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "flylink:", err)
		exit(app.ExitError)
		return
	}

	code := theApp.Run(ctx, nil)

	theApp.Close()
	stop()
	exit(code)
}
