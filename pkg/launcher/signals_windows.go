//go:build windows

package launcher

import (
	"os"
	"os/signal"
)

// Windows has no SIGHUP; reloads come from the config watcher only.
func notifySignals(sig chan<- os.Signal) {
	signal.Notify(sig, os.Interrupt)
}

func isReloadSignal(s os.Signal) bool {
	return false
}
