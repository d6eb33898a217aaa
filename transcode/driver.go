// Package transcode is the Encoder Driver: it builds ffmpeg argument
// vectors for the three encoder roles (Splitter, Transcoder, Segmentor)
// and runs them under a shared contract.
package transcode

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	xerrors "github.com/livepeer/transcode-worker/errors"
	"github.com/livepeer/transcode-worker/metrics"
	"github.com/livepeer/transcode-worker/subprocess"
	"github.com/livepeer/transcode-worker/video"
)

// Step is the common contract all three encoder roles satisfy: build a
// command, run it to completion or cancellation, and hand back the
// normalized metadata of what it produced.
type Step interface {
	Run(ctx context.Context) (video.Metadata, error)
}

// SoftStopSignal is sent to the encoder process group on context
// cancellation before the hard kill escalation below.
var SoftStopSignal = syscall.SIGTERM

// killGrace is how long a soft-stopped encoder gets to flush and exit
// before the escalation to SIGKILL.
const killGrace = 10 * time.Second

// runFFMpeg executes an ffmpeg-go Stream, classifying the result per the
// common run/validate contract: exit 0 with no "[error]" line is success;
// anything else is an EncodeError carrying the most recent "[error]"
// lines of stderr.
// timeout bounds the encoder's wall clock and propagates as cancellation;
// ctx cancellation (and timeout expiry) sends SoftStopSignal to the
// child's process group and escalates to SIGKILL after killGrace.
func runFFMpeg(ctx context.Context, role string, stream *ffmpeg.Stream, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var filtered subprocess.Filtered

	cmd := stream.OverWriteOutput().Compile()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := filtered.Attach(cmd); err != nil {
		return fmt.Errorf("transcode: attaching stderr filter: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.Metrics.EncoderInvocations.WithLabelValues(role, "start_error").Inc()
		return xerrors.Transient("starting encoder", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		metrics.Metrics.EncoderDuration.WithLabelValues(role).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.Metrics.EncoderInvocations.WithLabelValues(role, "error").Inc()
			return xerrors.Encode(fmt.Sprintf("encoder exited: %v", err), filtered.Tail())
		}
		if tail := filtered.Tail(); len(tail) > 0 {
			metrics.Metrics.EncoderInvocations.WithLabelValues(role, "error").Inc()
			return xerrors.Encode("encoder reported errors despite exit 0", tail)
		}
		metrics.Metrics.EncoderInvocations.WithLabelValues(role, "ok").Inc()
		return nil
	case <-ctx.Done():
		softStop(cmd)
		select {
		case <-done:
		case <-time.After(killGrace):
			hardKill(cmd)
			<-done
		}
		metrics.Metrics.EncoderInvocations.WithLabelValues(role, "cancelled").Inc()
		return xerrors.Cancelled(ctx.Err().Error())
	}
}

func softStop(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, SoftStopSignal)
		return
	}
	_ = cmd.Process.Signal(SoftStopSignal)
}

func hardKill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}
