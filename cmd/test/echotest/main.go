// Echotest is a stand-in worker for launcher experiments. It reports
// readiness and exits on SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-launcher/pkg/process"
)

type flagOptions struct {
	RunDuration  int  `long:"run-duration" description:"Duration in seconds to run the worker (debug feature)"`
	StartupDelay int  `long:"startup-delay" description:"Delay in milliseconds before reporting readiness (debug feature)"`
	CrashAfter   int  `long:"crash-after" description:"Exit with code 3 after this many seconds (debug feature)"`
	IgnoreTerm   bool `long:"ignore-term" description:"Ignore SIGTERM to exercise forced kills (debug feature)"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running Echotest, opts: %+v, slot: %s, instance: %s, unit: %s.%s\n", opts,
		os.Getenv("HSU_WORKER_SLOT"), os.Getenv("HSU_WORKER_INSTANCE"),
		os.Getenv("HSU_SERVICE_TOPIC"), os.Getenv("HSU_SERVICE_HOST"))

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	// Enable signal handling
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt) // Unix signals not implemented on Windows
	} else if opts.IgnoreTerm {
		signal.Ignore(syscall.SIGTERM)
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	if opts.StartupDelay > 0 {
		time.Sleep(time.Duration(opts.StartupDelay) * time.Millisecond)
	}
	if err := process.NotifyReady(os.Stdout); err != nil {
		fmt.Printf("Echotest failed to report readiness: %v\n", err)
		os.Exit(1)
	}

	var crash <-chan time.Time
	if opts.CrashAfter > 0 {
		crash = time.After(time.Duration(opts.CrashAfter) * time.Second)
	}

	// Wait for graceful shutdown, crash or timeout
	select {
	case receivedSignal := <-sig:
		fmt.Printf("Echotest received signal: %v\n", receivedSignal)
	case <-crash:
		fmt.Printf("Echotest crashing\n")
		os.Exit(3)
	case <-ctx.Done():
		fmt.Printf("Echotest timed out\n")
	}

	fmt.Printf("Echotest stopped\n")
}
