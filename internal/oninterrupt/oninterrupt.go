package oninterrupt

import (
	"os"
	"os/signal"
	"sync"
)

// onInterrupt allows the worker to register cleanup handlers which shall be
// run on receiving SIGINT, e.g. unmounting a half-built root's devpts/proc
// mounts so a killed build doesn't leave the host mount table dirty.
var (
	onInterruptMu sync.Mutex
	onInterrupt   []func()
)

func init() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		onInterruptMu.Lock()
		for _, f := range onInterrupt {
			f()
		}
		onInterruptMu.Unlock()
		os.Exit(1)
	}()
}

func Register(cb func()) {
	onInterruptMu.Lock()
	defer onInterruptMu.Unlock()
	onInterrupt = append(onInterrupt, cb)
}
