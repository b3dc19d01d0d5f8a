//go:build windows

package cmd

import "os"

// gracefulSignals returns the OS signals to capture for graceful shutdown.
// On Windows, only os.Interrupt (Ctrl+C / CTRL_C_EVENT) is reliably delivered.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// reloadSignals returns the signals that trigger a policy reload.
// Windows has no SIGHUP; reload through the API or the file watcher.
func reloadSignals() []os.Signal {
	return nil
}
