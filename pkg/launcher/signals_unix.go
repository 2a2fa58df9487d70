//go:build !windows

package launcher

import (
	"os"
	"os/signal"
	"syscall"
)

func notifySignals(sig chan<- os.Signal) {
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
}

func isReloadSignal(s os.Signal) bool {
	return s == syscall.SIGHUP
}
