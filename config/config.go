// Package config defines the worker's typed configuration, populated from
// flags or WORKER_-prefixed environment variables via peterbourgon/ff.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v3"
)

// Used so that we can generate fixed timestamps in tests.
var Clock TimestampGenerator = RealTimestampGenerator{}

var Version string

// Config holds every operator-facing option. Fields are populated once at
// startup by Parse and never mutated afterwards.
type Config struct {
	// TempURI is the workspace root for scratch work: chunks, per-chunk
	// transcodes, sentinels. May be file://, dav:// or davs://.
	TempURI string
	// ResultsURI is the workspace root for the final HLS output tree.
	ResultsURI string

	ChunkDuration   time.Duration
	SegmentDuration time.Duration

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	EncodeTimeout  time.Duration

	// Concurrency is the number of jobs this process will run at once.
	Concurrency int

	// Edges is the ordered list of CDN edge hostnames, each joined with
	// the rendered URLTemplate when advertising playable output locations.
	Edges []string
	// URLTemplate is the per-edge result path, joined onto each edge
	// hostname; must contain exactly one %s for the job's hex basename.
	// Empty uses the default "results/%s/index.m3u8".
	URLTemplate string

	AMQPURL     string
	DatabaseURL string
	MetricsPort int
	// Queue is the AMQP queue name the transcode(job_id) task is
	// consumed from.
	Queue string
}

func (c Config) Validate() error {
	if c.TempURI == "" {
		return fmt.Errorf("TEMP_URI is required")
	}
	if c.ResultsURI == "" {
		return fmt.Errorf("RESULTS_URI is required")
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("CHUNK_DURATION must be positive")
	}
	if c.SegmentDuration <= 0 {
		return fmt.Errorf("SEGMENT_DURATION must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("CONCURRENCY must be positive")
	}
	return nil
}

// Parse builds a Config from args (normally os.Args[1:]), falling back to
// WORKER_-prefixed environment variables for anything not passed as a flag.
// An unrecognized flag is a startup error, matching the strict-config
// redesign called for in place of a dynamic/reflective config object.
func Parse(args []string) (Config, error) {
	var cfg Config
	var edges stringSliceFlag

	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.StringVar(&cfg.TempURI, "temp-uri", "", "workspace root for scratch work (file://, dav://, davs://)")
	fs.StringVar(&cfg.ResultsURI, "results-uri", "", "workspace root for final HLS output")
	fs.DurationVar(&cfg.ChunkDuration, "chunk-duration", 60*time.Second, "duration of each source chunk")
	fs.DurationVar(&cfg.SegmentDuration, "segment-duration", 10*time.Second, "duration of each HLS media segment")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", 10*time.Second, "workspace backend connect timeout")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", 30*time.Second, "workspace backend request timeout")
	fs.DurationVar(&cfg.EncodeTimeout, "encode-timeout", 10*time.Minute, "wall-clock limit for one encoder invocation; on expiry the encode is soft-stopped as on cancellation")
	fs.IntVar(&cfg.Concurrency, "concurrency", 1, "number of jobs to run concurrently in this process")
	fs.Var(&edges, "edge", "CDN edge hostname; repeatable")
	fs.StringVar(&cfg.URLTemplate, "url-template", "", "per-edge result path template (containing one %s for the basename); default results/%s/index.m3u8")
	fs.StringVar(&cfg.AMQPURL, "amqp-url", "", "AMQP broker URL")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres catalog DSN")
	fs.StringVar(&cfg.Queue, "queue", "video_transcoding", "AMQP queue to consume transcode(job_id) tasks from")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", 9090, "port to serve /metrics on")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("WORKER")); err != nil {
		return Config{}, err
	}
	cfg.Edges = []string(edges)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stringSliceFlag implements flag.Value to collect repeated -edge flags.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	if s == nil {
		return ""
	}
	return fmt.Sprint([]string(*s))
}

func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}
