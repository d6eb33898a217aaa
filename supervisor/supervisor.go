// Package supervisor translates an external stop signal into cooperative
// cancellation of every worker goroutine's current job. Init places the
// process in its own group so a later Broadcast reaches only this worker
// tree (its ffmpeg children each run in a group of their own and are
// reached through cancellation of the context they were started with,
// not directly by this package's killpg).
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/livepeer/transcode-worker/log"
)

// StopSignals are the external signals that trigger a clean shutdown.
var StopSignals = []os.Signal{syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT}

// BroadcastSignal is sent to the worker tree's process group on stop.
var BroadcastSignal = syscall.SIGTERM

// Init places the current process in a new process group so a later
// Broadcast only reaches this worker tree, never a parent shell's other
// jobs. Must be called once at startup, before any worker goroutine
// starts driving an encoder subprocess.
func Init() error {
	if err := syscall.Setpgid(0, 0); err != nil {
		return fmt.Errorf("supervisor: setpgid: %w", err)
	}
	return nil
}

// HandleSignals blocks until a stop signal arrives or ctx is already
// done, then broadcasts BroadcastSignal to the process group and calls
// cancel so every worker goroutine observes ctx.Done() and cooperatively
// cancels its current encoder invocation, which in turn drives the Job
// Runner's requeue path.
func HandleSignals(ctx context.Context, cancel context.CancelFunc) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, StopSignals...)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		log.LogNoRequestID("caught signal, broadcasting soft stop", "signal", sig.String())
		Broadcast()
		cancel()
		return fmt.Errorf("caught signal=%v", sig)
	case <-ctx.Done():
		return nil
	}
}

// Broadcast sends BroadcastSignal to this process's own group. A missing
// or already-empty process group is not an error; the killpg simply
// reaches no one. This package never escalates to a hard kill — that is
// the encoder driver's per-invocation responsibility alone.
func Broadcast() {
	pgid, err := syscall.Getpgid(0)
	if err != nil {
		log.LogNoRequestID("supervisor: broadcast: could not resolve process group, skipping", "err", err.Error())
		return
	}
	if err := syscall.Kill(-pgid, BroadcastSignal); err != nil && err != syscall.ESRCH {
		log.LogNoRequestID("supervisor: broadcast: killpg failed", "err", err.Error())
	}
}
