package video

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	xerrors "github.com/livepeer/transcode-worker/errors"
	"github.com/livepeer/transcode-worker/metrics"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// Prober is the CLI contract the Media Analyzer drives: invoke an
// external probe tool against a URI and return its raw stream/format
// data. Production uses ffprobe via Probe; tests substitute a fake.
type Prober interface {
	Probe(ctx context.Context, uri string, allowedExtensions string) (*ffprobe.ProbeData, error)
}

// Probe is the ffprobe-backed Prober, retrying transient invocation
// failures a few times before giving up.
type Probe struct {
	Timeout time.Duration
}

func (p Probe) Probe(ctx context.Context, uri string, allowedExtensions string) (*ffprobe.ProbeData, error) {
	var data *ffprobe.ProbeData
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	operation := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		opts := []string{"-loglevel", "error"}
		if allowedExtensions != "" {
			opts = append(opts, "-allowed_extensions", allowedExtensions)
		}
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, uri, opts...)
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0
	notify := func(error, time.Duration) { metrics.Metrics.ProbeRetries.Inc() }
	if err := backoff.RetryNotify(operation, backoff.WithMaxRetries(backOff, 3), notify); err != nil {
		return nil, xerrors.Analyze("probe failed: "+strings.TrimSpace(err.Error()), err)
	}
	return data, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseFrameRate handles ffprobe's "num/den" rational rendering of frame
// rates, returning 0 for the degenerate "0/0" case rather than a NaN.
func parseFrameRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return parseFloat(s)
	}
	num := parseFloat(parts[0])
	den := parseFloat(parts[1])
	if den == 0 {
		return 0
	}
	return num / den
}
